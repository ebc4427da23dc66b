package dispatch

import (
	"log/slog"

	"github.com/user/relaycord/internal/cache"
	"github.com/user/relaycord/internal/gateway"
	"github.com/user/relaycord/internal/types"
	"github.com/user/relaycord/internal/wire"
)

// memberListRange is the slice of the member sidebar subscribed to.
var memberListRange = [2]int{0, 99}

// onReady rebuilds every cache from the snapshot.
func (r *Router) onReady(e *Ready) {
	// Read positions outlive the snapshot when its read state is stale.
	saved := r.reg.ReadPositions()
	r.reg.Clear()
	r.profiles.Clear()
	r.messages.Clear()
	r.history = make(map[historyKey]struct{})
	r.open = 0

	if p := r.profiles.LoadUser(&e.User); p != nil {
		r.self = p.ID
	}
	for i := range e.Users {
		r.profiles.LoadUser(&e.Users[i])
	}

	for i := range e.Guilds {
		g := &e.Guilds[i]
		r.parseAndAddGuild(g)
		// merged_members is positional; a shorter list leaves later guilds
		// without members rather than misattributing them.
		if i < len(e.MergedMembers) {
			for j := range e.MergedMembers[i] {
				m := &e.MergedMembers[i][j]
				if m.ID() == 0 && m.User == nil {
					m.UserID = r.self
				}
				r.profiles.LoadMember(g.ID, m, false)
			}
		}
	}

	dm := r.reg.DM()
	for i := range e.PrivateChannels {
		dm.UpsertChannel(e.PrivateChannels[i].Record(0))
		for j := range e.PrivateChannels[i].Recipients {
			r.profiles.LoadUser(&e.PrivateChannels[i].Recipients[j])
		}
	}
	for i := range e.Presences {
		r.applyPresence(&e.Presences[i])
	}

	if !r.applyReadState(&e.ReadState) {
		r.reg.RestoreReadPositions(saved)
	}

	if e.UserSettings != nil {
		r.reg.SetFolders(convertFolders(e.UserSettings.GuildFolders))
	}

	slog.Info("dispatch ready",
		"guilds", r.reg.Len(),
		"private_channels", len(e.PrivateChannels),
		"profiles", r.profiles.Len(),
		"read_state_version", r.readVersion)

	r.obs.OnGuildListChanged()
	r.SelectGuild(r.reg.FirstGuild().ID)
}

func convertFolders(in []GuildFolder) []cache.Folder {
	out := make([]cache.Folder, 0, len(in))
	for _, f := range in {
		folder := cache.Folder{Name: f.Name, GuildIDs: f.GuildIDs}
		if f.ID != nil {
			folder.ID = *f.ID
		}
		if f.Color != nil {
			folder.Color = *f.Color
		}
		out = append(out, folder)
	}
	return out
}

// applyReadState applies stored read positions unless the snapshot is not
// newer than what was already applied, and reports whether it did.
// Unversioned lists are always applied.
func (r *Router) applyReadState(rs *ReadState) bool {
	if rs.Versioned {
		if rs.Version <= r.readVersion {
			slog.Debug("dispatch stale read state ignored", "version", rs.Version, "applied", r.readVersion)
			return false
		}
		r.readVersion = rs.Version
	}
	for _, entry := range rs.Entries {
		if entry.ReadStateType != 0 {
			continue
		}
		ch, _ := r.reg.Channel(entry.ID)
		if ch == nil {
			continue
		}
		ch.Acknowledge(entry.LastMessageID)
		ch.MentionCount = entry.MentionCount
	}
	return true
}

// parseAndAddGuild converts a guild snapshot, loads its embedded members
// and stores it, replacing any previous copy.
func (r *Router) parseAndAddGuild(g *wire.Guild) *types.GuildRecord {
	rec := g.Record()
	for i := range g.Members {
		r.profiles.LoadMember(g.ID, &g.Members[i], false)
	}
	return r.reg.Upsert(rec)
}

func (r *Router) onGuildCreate(e *GuildCreate) {
	if e.Guild.ID == 0 {
		return
	}
	g := r.parseAndAddGuild(&e.Guild)
	r.obs.OnGuildListChanged()
	if g.ID == r.reg.Current() {
		r.obs.OnChannelListChanged(g.ID)
	}
}

// onGuildUpdate merges metadata; channels and members are not part of the
// payload and stay as they are.
func (r *Router) onGuildUpdate(e *GuildUpdate) {
	g := r.reg.Guild(e.Guild.ID)
	if g == nil || g.ID == 0 {
		return
	}
	incoming := e.Guild.Record()
	g.Name = incoming.Name
	g.Icon = incoming.Icon
	g.OwnerID = incoming.OwnerID
	g.Unavailable = false
	if len(e.Guild.Roles) > 0 {
		g.Roles = incoming.Roles
	}
	r.obs.OnGuildListChanged()
}

func (r *Router) onGuildDelete(e *GuildDelete) {
	if e.Unavailable {
		if r.reg.MarkUnavailable(e.ID) {
			r.obs.OnGuildListChanged()
		}
		return
	}
	g := r.reg.Guild(e.ID)
	if g == nil || g.ID == 0 {
		return
	}
	wasCurrent := r.reg.Current() == e.ID
	for _, ch := range g.Channels {
		r.messages.ClearChannel(ch.ID)
		if ch.ID == r.open {
			r.open = 0
		}
	}
	r.reg.Remove(e.ID)
	r.obs.OnGuildListChanged()
	if wasCurrent {
		r.SelectGuild(r.reg.FirstGuild().ID)
	}
}

func (r *Router) onChannelUpsert(c *wire.Channel) {
	g := r.reg.Guild(c.GuildID)
	if g == nil {
		slog.Debug("dispatch channel for unknown guild", "channel_id", c.ID, "guild_id", c.GuildID)
		return
	}
	g.UpsertChannel(c.Record(g.ID))
	for i := range c.Recipients {
		r.profiles.LoadUser(&c.Recipients[i])
	}
	if g.ID == r.reg.Current() {
		r.obs.OnChannelListChanged(g.ID)
	}
}

func (r *Router) onChannelDelete(c *wire.Channel) {
	g := r.reg.Guild(c.GuildID)
	if g == nil || !g.RemoveChannel(c.ID) {
		return
	}
	r.messages.ClearChannel(c.ID)
	if r.open == c.ID {
		r.open = 0
	}
	if g.ID == r.reg.Current() {
		r.obs.OnChannelListChanged(g.ID)
	}
}

func (r *Router) onRoleUpsert(guildID types.Snowflake, role *wire.Role) {
	g := r.reg.Guild(guildID)
	if g == nil || g.ID == 0 {
		return
	}
	rec := role.Record()
	g.Roles[rec.ID] = rec
	if g.ID == r.reg.Current() {
		r.obs.OnChannelListChanged(g.ID)
	}
}

func (r *Router) onRoleDelete(e *GuildRoleDelete) {
	g := r.reg.Guild(e.GuildID)
	if g == nil || g.ID == 0 {
		return
	}
	if _, ok := g.Roles[e.RoleID]; !ok {
		return
	}
	delete(g.Roles, e.RoleID)
	if g.ID == r.reg.Current() {
		r.obs.OnChannelListChanged(g.ID)
	}
}

// SelectGuild makes guildID the displayed guild and subscribes to its
// member list. Unknown ids fall back to the DM space.
func (r *Router) SelectGuild(guildID types.Snowflake) {
	if r.reg.Guild(guildID) == nil {
		guildID = 0
	}
	r.reg.SetCurrent(guildID)
	r.Subscribe()
	r.obs.OnGuildSelected(guildID)
	r.obs.OnChannelListChanged(guildID)
}

// Subscribe asks the gateway to stream typing and member-list updates for
// the displayed guild. It is repeated after every (re)connect.
func (r *Router) Subscribe() {
	guildID := r.reg.Current()
	if guildID == 0 || r.gw == nil {
		return
	}
	sub := gateway.GuildSubscription{
		GuildID:    guildID.String(),
		Typing:     true,
		Activities: true,
		Threads:    true,
	}
	if ch := r.memberListChannel(guildID); ch != nil {
		sub.Channels = map[string][][2]int{ch.ID.String(): {memberListRange}}
	}
	if err := r.gw.Send(gateway.OpGuildSubscriptions, sub); err != nil {
		slog.Debug("dispatch guild subscription deferred", "guild_id", guildID, "error", err)
	}
}

// memberListChannel picks the channel whose member list stands for the
// guild's: the first text channel the user can see.
func (r *Router) memberListChannel(guildID types.Snowflake) *types.ChannelRecord {
	g := r.reg.Guild(guildID)
	if g == nil {
		return nil
	}
	roles := r.selfRoles(guildID)
	for _, ch := range g.Channels {
		if ch.Type != types.ChannelText {
			continue
		}
		if g.ChannelPermissions(ch, r.self, roles).Has(types.PermViewChannel) {
			return ch
		}
	}
	return nil
}

// VisibleChannels returns the displayed guild's channels the user may view.
func (r *Router) VisibleChannels(guildID types.Snowflake) []*types.ChannelRecord {
	g := r.reg.Guild(guildID)
	if g == nil {
		return nil
	}
	if g.ID == 0 {
		return append([]*types.ChannelRecord(nil), g.Channels...)
	}
	roles := r.selfRoles(guildID)
	var out []*types.ChannelRecord
	for _, ch := range g.Channels {
		if g.ChannelPermissions(ch, r.self, roles).Has(types.PermViewChannel) {
			out = append(out, ch)
		}
	}
	return out
}

func (r *Router) selfRoles(guildID types.Snowflake) []types.Snowflake {
	p := r.profiles.Get(r.self)
	if p == nil {
		return nil
	}
	if m, ok := p.Memberships[guildID]; ok {
		return m.Roles
	}
	return nil
}
