// Package cache holds the client's mirror of server state: profiles, the
// guild/channel registry and per-channel message stores.
//
// The caches perform no I/O and take no locks. Every mutation happens on the
// processing goroutine; readers on other goroutines must go through it too.
package cache

import (
	"encoding/json"
	"fmt"

	"github.com/user/relaycord/internal/types"
	"github.com/user/relaycord/internal/wire"
)

// Fetcher requests an authoritative profile from the server. The cache
// guarantees at most one outstanding call per id.
type Fetcher interface {
	FetchProfile(userID types.Snowflake)
}

// ProfileCache de-duplicates user identities across guilds.
type ProfileCache struct {
	profiles map[types.Snowflake]*types.ProfileRecord
	pending  map[types.Snowflake]struct{}
	fetcher  Fetcher
}

// NewProfileCache returns an empty cache. fetcher may be nil, in which case
// lookups never schedule network fetches.
func NewProfileCache(fetcher Fetcher) *ProfileCache {
	return &ProfileCache{
		profiles: make(map[types.Snowflake]*types.ProfileRecord),
		pending:  make(map[types.Snowflake]struct{}),
		fetcher:  fetcher,
	}
}

// SetFetcher replaces the fetcher.
func (c *ProfileCache) SetFetcher(f Fetcher) {
	c.fetcher = f
}

// Lookup returns the profile for id. A missing profile is fabricated as a
// placeholder from the fallback fields; if request is set and the record is
// still a placeholder, one network fetch is scheduled unless one is already
// outstanding. Lookup returns nil only for id 0.
func (c *ProfileCache) Lookup(id types.Snowflake, name, globalName, avatar string, request bool) *types.ProfileRecord {
	if id == 0 {
		return nil
	}
	p, ok := c.profiles[id]
	if !ok {
		p = &types.ProfileRecord{
			ID:          id,
			Username:    name,
			GlobalName:  globalName,
			Avatar:      avatar,
			Placeholder: true,
		}
		c.profiles[id] = p
	} else if p.Placeholder {
		if p.Username == "" {
			p.Username = name
		}
		if p.GlobalName == "" {
			p.GlobalName = globalName
		}
		if p.Avatar == "" {
			p.Avatar = avatar
		}
	}
	if request && p.Placeholder && c.fetcher != nil {
		if _, inFlight := c.pending[id]; !inFlight {
			c.pending[id] = struct{}{}
			c.fetcher.FetchProfile(id)
		}
	}
	return p
}

// Get returns the cached profile or nil, without fabricating one.
func (c *ProfileCache) Get(id types.Snowflake) *types.ProfileRecord {
	return c.profiles[id]
}

// IsPending reports whether a fetch for id is outstanding.
func (c *ProfileCache) IsPending(id types.Snowflake) bool {
	_, ok := c.pending[id]
	return ok
}

// profilePayload is the shape of a users/{id}/profile response. A bare user
// object is accepted too.
type profilePayload struct {
	User        *wire.User      `json:"user"`
	GuildMember *wire.Member    `json:"guild_member"`
	GuildID     types.Snowflake `json:"guild_id"`
}

// Load merges an authoritative network payload for id. It always wins over
// a placeholder and clears the outstanding-fetch mark.
func (c *ProfileCache) Load(id types.Snowflake, raw json.RawMessage) (*types.ProfileRecord, error) {
	delete(c.pending, id)

	var payload profilePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", id, err)
	}
	user := payload.User
	if user == nil {
		user = &wire.User{}
		if err := json.Unmarshal(raw, user); err != nil {
			return nil, fmt.Errorf("decode user %s: %w", id, err)
		}
	}
	if user.ID == 0 {
		user.ID = id
	}
	p := c.LoadUser(user)
	if payload.GuildMember != nil && payload.GuildID != 0 {
		if payload.GuildMember.ID() == 0 {
			payload.GuildMember.UserID = user.ID
		}
		c.LoadMember(payload.GuildID, payload.GuildMember, false)
	}
	return p, nil
}

// LoadUser merges a user object carried inside another payload.
func (c *ProfileCache) LoadUser(u *wire.User) *types.ProfileRecord {
	if u == nil || u.ID == 0 {
		return nil
	}
	incoming := u.Profile()
	p, ok := c.profiles[u.ID]
	if !ok {
		c.profiles[u.ID] = incoming
		return incoming
	}
	if incoming.Username != "" {
		p.Username = incoming.Username
	}
	if u.GlobalName != nil {
		p.GlobalName = incoming.GlobalName
	}
	if u.Avatar != nil {
		p.Avatar = incoming.Avatar
	}
	p.Bot = incoming.Bot
	p.Placeholder = false
	return p
}

// LoadMember merges a guild member object, creating the profile from the
// embedded user when present.
func (c *ProfileCache) LoadMember(guildID types.Snowflake, m *wire.Member, fromChunk bool) *types.ProfileRecord {
	if m == nil {
		return nil
	}
	id := m.ID()
	if id == 0 {
		return nil
	}
	var p *types.ProfileRecord
	if m.User != nil {
		p = c.LoadUser(m.User)
	} else {
		p = c.Lookup(id, "", "", "", false)
	}
	incoming := m.Membership()
	membership := p.Membership(guildID)
	membership.Nick = incoming.Nick
	membership.Avatar = incoming.Avatar
	membership.Roles = incoming.Roles
	if !incoming.JoinedAt.IsZero() {
		membership.JoinedAt = incoming.JoinedAt
	}
	membership.NotFound = false
	if fromChunk {
		membership.LoadedFromChunk = true
	}
	if m.Presence != nil && m.Presence.Status != "" {
		p.Status = m.Presence.Status
	}
	return p
}

// FetchFailed clears the outstanding-fetch mark so a later lookup may retry.
func (c *ProfileCache) FetchFailed(id types.Snowflake) {
	delete(c.pending, id)
}

// Settle clears the outstanding-fetch mark after the profile arrived by a
// path other than Load, such as a member chunk.
func (c *ProfileCache) Settle(id types.Snowflake) {
	delete(c.pending, id)
}

// ProfileDoesNotExist records that the server denied knowledge of id in
// guildID. The profile itself survives: the user may be valid elsewhere.
// A placeholder is settled as is so lookups stop refetching it.
func (c *ProfileCache) ProfileDoesNotExist(id, guildID types.Snowflake) {
	delete(c.pending, id)
	p := c.Lookup(id, "", "", "", false)
	if p == nil {
		return
	}
	p.Membership(guildID).NotFound = true
	p.Placeholder = false
}

// Clear drops every profile and pending mark.
func (c *ProfileCache) Clear() {
	c.profiles = make(map[types.Snowflake]*types.ProfileRecord)
	c.pending = make(map[types.Snowflake]struct{})
}

// Len returns the number of cached profiles.
func (c *ProfileCache) Len() int {
	return len(c.profiles)
}
