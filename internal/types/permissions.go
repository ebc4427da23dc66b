package types

import (
	"bytes"
	"strconv"
)

// Permissions is a guild or channel permission bitmask.
type Permissions uint64

const (
	PermCreateInstantInvite Permissions = 1 << 0
	PermKickMembers         Permissions = 1 << 1
	PermBanMembers          Permissions = 1 << 2
	PermAdministrator       Permissions = 1 << 3
	PermManageChannels      Permissions = 1 << 4
	PermManageGuild         Permissions = 1 << 5
	PermAddReactions        Permissions = 1 << 6
	PermViewAuditLog        Permissions = 1 << 7
	PermViewChannel         Permissions = 1 << 10
	PermSendMessages        Permissions = 1 << 11
	PermManageMessages      Permissions = 1 << 13
	PermEmbedLinks          Permissions = 1 << 14
	PermAttachFiles         Permissions = 1 << 15
	PermReadMessageHistory  Permissions = 1 << 16
	PermMentionEveryone     Permissions = 1 << 17

	PermAll = ^Permissions(0)
)

// Has reports whether every bit of want is set.
func (p Permissions) Has(want Permissions) bool {
	return p&want == want
}

// UnmarshalJSON accepts the decimal-string form used on the wire as well as
// plain numbers.
func (p *Permissions) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(bytes.TrimSpace(data), `"`)
	if len(data) == 0 || string(data) == "null" {
		*p = 0
		return nil
	}
	v, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		*p = 0
		return nil
	}
	*p = Permissions(v)
	return nil
}

// OverwriteType distinguishes role overwrites from member overwrites.
type OverwriteType int

const (
	OverwriteRole   OverwriteType = 0
	OverwriteMember OverwriteType = 1
)

// Overwrite is a per-channel allow/deny delta for one role or member.
type Overwrite struct {
	ID    Snowflake
	Type  OverwriteType
	Allow Permissions
	Deny  Permissions
}

// ComputePermissions layers channel overwrites on top of base permissions.
// ADMINISTRATOR in base short-circuits to PermAll. The @everyone overwrite
// applies first, then all role overwrites combined, then the member overwrite.
func ComputePermissions(base Permissions, everyone *Overwrite, roles []Overwrite, member *Overwrite) Permissions {
	if base&PermAdministrator != 0 {
		return PermAll
	}
	p := base
	if everyone != nil {
		p = p&^everyone.Deny | everyone.Allow
	}
	var allow, deny Permissions
	for _, ow := range roles {
		allow |= ow.Allow
		deny |= ow.Deny
	}
	p = p&^deny | allow
	if member != nil {
		p = p&^member.Deny | member.Allow
	}
	return p
}

// BasePermissions returns the guild-wide permissions of a member holding
// roleIDs: the @everyone role (which shares the guild's id) OR'd with every
// held role. Owners hold everything.
func (g *GuildRecord) BasePermissions(userID Snowflake, roleIDs []Snowflake) Permissions {
	if g.OwnerID != 0 && g.OwnerID == userID {
		return PermAll
	}
	var p Permissions
	if everyone, ok := g.Roles[g.ID]; ok {
		p = everyone.Permissions
	}
	for _, id := range roleIDs {
		if role, ok := g.Roles[id]; ok {
			p |= role.Permissions
		}
	}
	if p&PermAdministrator != 0 {
		return PermAll
	}
	return p
}

// ChannelPermissions computes the effective permissions of a member in ch.
func (g *GuildRecord) ChannelPermissions(ch *ChannelRecord, userID Snowflake, roleIDs []Snowflake) Permissions {
	base := g.BasePermissions(userID, roleIDs)
	if base == PermAll {
		return PermAll
	}
	var everyone, member *Overwrite
	if ow, ok := ch.Overwrites[g.ID]; ok {
		everyone = &ow
	}
	var roles []Overwrite
	for _, id := range roleIDs {
		if ow, ok := ch.Overwrites[id]; ok && ow.Type == OverwriteRole {
			roles = append(roles, ow)
		}
	}
	if ow, ok := ch.Overwrites[userID]; ok && ow.Type == OverwriteMember {
		member = &ow
	}
	return ComputePermissions(base, everyone, roles, member)
}
