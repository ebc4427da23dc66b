package cache

import (
	"sort"

	"github.com/user/relaycord/internal/types"
)

// Folder is one entry of the user's guild folder setting. A folder with id
// 0 is a bare guild placement and holds exactly one guild.
type Folder struct {
	ID       int64
	Name     string
	Color    int
	GuildIDs []types.Snowflake
}

// GuildListItem is either a FolderItem or a LeafItem.
type GuildListItem interface {
	isGuildListItem()
}

// FolderItem groups guilds under a user-defined folder.
type FolderItem struct {
	ID       int64
	Name     string
	Color    int
	Children []LeafItem
}

// LeafItem is a single guild entry.
type LeafItem struct {
	ID   types.Snowflake
	Name string
	Icon string
}

func (FolderItem) isGuildListItem() {}
func (LeafItem) isGuildListItem()   {}

// FlatEntry is one display row produced by Flatten. Depth is 1 for guilds
// inside a folder.
type FlatEntry struct {
	Item  GuildListItem
	Depth int
}

// Registry holds every known guild and the direct-message pseudo-guild.
type Registry struct {
	guilds    map[types.Snowflake]*types.GuildRecord
	dm        *types.GuildRecord
	current   types.Snowflake
	nextOrder int64
	folders   []Folder
}

func NewRegistry() *Registry {
	return &Registry{
		guilds: make(map[types.Snowflake]*types.GuildRecord),
		dm:     types.NewGuildRecord(0),
	}
}

// Guild returns the guild with the given id. Id 0 is the direct-message
// space and is never nil; unknown ids return nil.
func (r *Registry) Guild(id types.Snowflake) *types.GuildRecord {
	if id == 0 {
		return r.dm
	}
	return r.guilds[id]
}

// DM returns the direct-message pseudo-guild.
func (r *Registry) DM() *types.GuildRecord { return r.dm }

// Upsert stores g, replacing any guild with the same id wholesale. The
// replaced guild's display order and channel read-state carry over.
func (r *Registry) Upsert(g *types.GuildRecord) *types.GuildRecord {
	if g.ID == 0 {
		r.carryReadState(r.dm, g)
		r.dm = g
		return g
	}
	if existing, ok := r.guilds[g.ID]; ok {
		g.Order = existing.Order
		r.carryReadState(existing, g)
		if g.MemberList == nil {
			g.MemberList = existing.MemberList
		}
	} else {
		r.nextOrder++
		g.Order = r.nextOrder
	}
	r.guilds[g.ID] = g
	return g
}

func (r *Registry) carryReadState(from, to *types.GuildRecord) {
	for _, ch := range to.Channels {
		old := from.Channel(ch.ID)
		if old == nil {
			continue
		}
		if ch.LastViewedID == 0 {
			ch.LastViewedID = old.LastViewedID
		}
		ch.AdvanceLastSent(old.LastSentID)
		if ch.MentionCount == 0 {
			ch.MentionCount = old.MentionCount
		}
	}
}

// ReadPosition is the read state of one channel.
type ReadPosition struct {
	LastViewedID types.Snowflake
	LastSentID   types.Snowflake
	MentionCount int
}

// ReadPositions snapshots the read state of every known channel,
// direct messages included.
func (r *Registry) ReadPositions() map[types.Snowflake]ReadPosition {
	out := make(map[types.Snowflake]ReadPosition)
	collect := func(g *types.GuildRecord) {
		for _, ch := range g.Channels {
			out[ch.ID] = ReadPosition{LastViewedID: ch.LastViewedID, LastSentID: ch.LastSentID, MentionCount: ch.MentionCount}
		}
	}
	collect(r.dm)
	for _, g := range r.guilds {
		collect(g)
	}
	return out
}

// RestoreReadPositions puts a snapshot back onto the channels that still
// exist. The last-sent pointer only moves forward.
func (r *Registry) RestoreReadPositions(saved map[types.Snowflake]ReadPosition) {
	restore := func(g *types.GuildRecord) {
		for _, ch := range g.Channels {
			p, ok := saved[ch.ID]
			if !ok {
				continue
			}
			ch.LastViewedID = p.LastViewedID
			ch.AdvanceLastSent(p.LastSentID)
			ch.MentionCount = p.MentionCount
		}
	}
	restore(r.dm)
	for _, g := range r.guilds {
		restore(g)
	}
}

// Remove deletes a guild and reports whether it was known.
func (r *Registry) Remove(id types.Snowflake) bool {
	if _, ok := r.guilds[id]; !ok {
		return false
	}
	delete(r.guilds, id)
	if r.current == id {
		r.current = 0
	}
	return true
}

// MarkUnavailable flags a guild as temporarily unreachable, keeping its
// cached contents.
func (r *Registry) MarkUnavailable(id types.Snowflake) bool {
	g, ok := r.guilds[id]
	if !ok {
		return false
	}
	g.Unavailable = true
	return true
}

// Len returns the number of real guilds.
func (r *Registry) Len() int { return len(r.guilds) }

// Guilds returns every real guild, most recently added first.
func (r *Registry) Guilds() []*types.GuildRecord {
	out := make([]*types.GuildRecord, 0, len(r.guilds))
	for _, g := range r.guilds {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order > out[j].Order })
	return out
}

// FirstGuild returns the earliest added guild, or the DM space if there
// are none.
func (r *Registry) FirstGuild() *types.GuildRecord {
	var first *types.GuildRecord
	for _, g := range r.guilds {
		if first == nil || g.Order < first.Order {
			first = g
		}
	}
	if first == nil {
		return r.dm
	}
	return first
}

// Current returns the id of the guild being displayed.
func (r *Registry) Current() types.Snowflake { return r.current }

// SetCurrent records the guild being displayed.
func (r *Registry) SetCurrent(id types.Snowflake) { r.current = id }

// Channel finds a channel in any guild, checking the current guild first.
// It returns the channel and its owning guild, or nils.
func (r *Registry) Channel(id types.Snowflake) (*types.ChannelRecord, *types.GuildRecord) {
	if g := r.Guild(r.current); g != nil {
		if ch := g.Channel(id); ch != nil {
			return ch, g
		}
	}
	if ch := r.dm.Channel(id); ch != nil {
		return ch, r.dm
	}
	for _, g := range r.guilds {
		if g.ID == r.current {
			continue
		}
		if ch := g.Channel(id); ch != nil {
			return ch, g
		}
	}
	return nil, nil
}

// SetFolders replaces the user's folder setting.
func (r *Registry) SetFolders(folders []Folder) {
	r.folders = folders
}

// Clear drops every guild, the DM space's contents and the folder setting.
func (r *Registry) Clear() {
	r.guilds = make(map[types.Snowflake]*types.GuildRecord)
	r.dm = types.NewGuildRecord(0)
	r.current = 0
	r.nextOrder = 0
	r.folders = nil
}

func (r *Registry) leaf(g *types.GuildRecord) LeafItem {
	return LeafItem{ID: g.ID, Name: g.Name, Icon: g.Icon}
}

// DisplayList builds the guild sidebar: the DM space first, then guilds
// missing from the folder setting (most recent first), then the folder
// setting in order. Unknown ids in the setting are skipped and folders
// left empty are dropped.
func (r *Registry) DisplayList() []GuildListItem {
	items := []GuildListItem{LeafItem{ID: 0, Name: "Direct Messages"}}

	placed := make(map[types.Snowflake]bool)
	for _, f := range r.folders {
		for _, id := range f.GuildIDs {
			if _, ok := r.guilds[id]; ok {
				placed[id] = true
			}
		}
	}
	for _, g := range r.Guilds() {
		if !placed[g.ID] {
			items = append(items, r.leaf(g))
		}
	}

	seen := make(map[types.Snowflake]bool)
	for _, f := range r.folders {
		var children []LeafItem
		for _, id := range f.GuildIDs {
			g, ok := r.guilds[id]
			if !ok || seen[id] {
				continue
			}
			seen[id] = true
			children = append(children, r.leaf(g))
		}
		if len(children) == 0 {
			continue
		}
		if f.ID == 0 && len(children) == 1 {
			items = append(items, children[0])
			continue
		}
		items = append(items, FolderItem{ID: f.ID, Name: f.Name, Color: f.Color, Children: children})
	}
	return items
}

// Flatten expands folders into their header followed by their children.
func Flatten(items []GuildListItem) []FlatEntry {
	var out []FlatEntry
	for _, item := range items {
		switch it := item.(type) {
		case FolderItem:
			out = append(out, FlatEntry{Item: it})
			for _, child := range it.Children {
				out = append(out, FlatEntry{Item: child, Depth: 1})
			}
		case LeafItem:
			out = append(out, FlatEntry{Item: it})
		}
	}
	return out
}
