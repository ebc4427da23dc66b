package dispatch

import (
	"log/slog"
	"time"

	"github.com/user/relaycord/internal/types"
	"github.com/user/relaycord/internal/wire"
)

func (r *Router) onMemberListUpdate(e *GuildMemberListUpdate) {
	g := r.reg.Guild(e.GuildID)
	if g == nil || g.ID == 0 {
		return
	}
	list := g.MemberList
	for i := range e.Ops {
		list = r.applyMemberListOp(g.ID, list, &e.Ops[i])
	}
	groupMembers(list)
	g.MemberList = list
	if e.MemberCount > 0 {
		g.MemberCount = e.MemberCount
	}
	g.OnlineCount = e.OnlineCount
	if g.ID == r.reg.Current() {
		r.obs.OnMemberListChanged(g.ID)
	}
}

// applyMemberListOp applies one sub-operation. Indices outside the current
// listing make the operation a no-op.
func (r *Router) applyMemberListOp(guildID types.Snowflake, list []types.MemberListItem, op *MemberListOp) []types.MemberListItem {
	switch op.Op {
	case "SYNC":
		out := make([]types.MemberListItem, 0, len(op.Items))
		for i := range op.Items {
			out = append(out, r.memberListItem(guildID, &op.Items[i]))
		}
		return out
	case "INSERT":
		if op.Item == nil || op.Index < 0 || op.Index > len(list) {
			slog.Debug("dispatch member list insert out of range", "index", op.Index, "len", len(list))
			return list
		}
		item := r.memberListItem(guildID, op.Item)
		list = append(list, types.MemberListItem{})
		copy(list[op.Index+1:], list[op.Index:])
		list[op.Index] = item
		return list
	case "UPDATE":
		if op.Item == nil || op.Index < 0 || op.Index >= len(list) {
			slog.Debug("dispatch member list update out of range", "index", op.Index, "len", len(list))
			return list
		}
		list[op.Index] = r.memberListItem(guildID, op.Item)
		return list
	case "DELETE":
		if op.Index < 0 || op.Index >= len(list) {
			slog.Debug("dispatch member list delete out of range", "index", op.Index, "len", len(list))
			return list
		}
		return append(list[:op.Index], list[op.Index+1:]...)
	case "INVALIDATE":
		if len(op.Range) != 2 {
			return list
		}
		start, end := max(op.Range[0], 0), min(op.Range[1], len(list)-1)
		if start > end {
			return list
		}
		return append(list[:start], list[end+1:]...)
	default:
		slog.Debug("dispatch unknown member list op", "op", op.Op)
		return list
	}
}

func (r *Router) memberListItem(guildID types.Snowflake, item *MemberListItem) types.MemberListItem {
	if item.Group != nil {
		return types.MemberListItem{IsGroup: true, GroupID: item.Group.ID, Count: item.Group.Count}
	}
	if item.Member == nil {
		return types.MemberListItem{}
	}
	p := r.profiles.LoadMember(guildID, item.Member, false)
	if p == nil {
		return types.MemberListItem{}
	}
	return types.MemberListItem{UserID: p.ID}
}

// groupMembers tags every member with the group header preceding it.
func groupMembers(list []types.MemberListItem) {
	group := ""
	for i := range list {
		if list[i].IsGroup {
			group = list[i].GroupID
			continue
		}
		list[i].Group = group
	}
}

func (r *Router) onMembersChunk(e *GuildMembersChunk) {
	for i := range e.Members {
		if p := r.profiles.LoadMember(e.GuildID, &e.Members[i], true); p != nil {
			r.profiles.Settle(p.ID)
			r.obs.OnProfileChanged(p.ID, e.GuildID)
		}
	}
	for _, id := range e.NotFound {
		r.profiles.ProfileDoesNotExist(id, e.GuildID)
		r.obs.OnProfileChanged(id, e.GuildID)
	}
	for i := range e.Presences {
		r.applyPresence(&e.Presences[i])
	}
}

func (r *Router) onUserUpdate(e *UserUpdate) {
	if p := r.profiles.LoadUser(&e.User); p != nil {
		r.obs.OnProfileChanged(p.ID, 0)
	}
}

func (r *Router) onPresenceUpdate(e *PresenceUpdate) {
	if p := r.applyPresence(&e.Presence); p != nil {
		r.obs.OnProfileChanged(p.ID, e.Presence.GuildID)
	}
}

// applyPresence merges a presence. Presence users are often partial, so
// only a payload carrying a username counts as an authoritative profile.
func (r *Router) applyPresence(pr *wire.Presence) *types.ProfileRecord {
	if pr.User.ID == 0 {
		return nil
	}
	var p *types.ProfileRecord
	if pr.User.Username != "" {
		p = r.profiles.LoadUser(&pr.User)
	} else {
		p = r.profiles.Lookup(pr.User.ID, "", "", "", false)
	}
	if pr.Status != "" {
		p.Status = pr.Status
	}
	return p
}

func (r *Router) onTypingStart(e *TypingStart) {
	if e.UserID == 0 {
		return
	}
	guildID := e.GuildID
	if ch, g := r.reg.Channel(e.ChannelID); ch != nil {
		guildID = g.ID
	}

	var p *types.ProfileRecord
	if e.Member != nil && guildID != 0 {
		if e.Member.ID() == 0 {
			e.Member.UserID = e.UserID
		}
		p = r.profiles.LoadMember(guildID, e.Member, false)
	} else {
		p = r.profiles.Lookup(e.UserID, "", "", "", true)
		if guildID != 0 {
			p.Membership(guildID)
		}
	}

	now := r.clock.Now()
	at := time.Unix(e.Timestamp, 0)
	if skew := at.Sub(now); e.Timestamp == 0 || skew > maxTypingSkew || skew < -maxTypingSkew {
		at = now
	}
	r.obs.OnTypingStarted(guildID, e.ChannelID, p.ID, at)
}
