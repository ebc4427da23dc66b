package types

import (
	"sort"
	"time"
)

// ChannelType mirrors the numeric channel kinds of the wire protocol.
type ChannelType int

const (
	ChannelText          ChannelType = 0
	ChannelDM            ChannelType = 1
	ChannelVoice         ChannelType = 2
	ChannelGroupDM       ChannelType = 3
	ChannelCategory      ChannelType = 4
	ChannelNews          ChannelType = 5
	ChannelNewsThread    ChannelType = 10
	ChannelPublicThread  ChannelType = 11
	ChannelPrivateThread ChannelType = 12
	ChannelStageVoice    ChannelType = 13
	ChannelForum         ChannelType = 15
)

// ChannelRecord is the cached state of one channel, including local
// read-state. LastViewedID never exceeds LastSentID once reconciled.
type ChannelRecord struct {
	ID           Snowflake
	GuildID      Snowflake
	ParentID     Snowflake
	Type         ChannelType
	Name         string
	Topic        string
	Position     int
	NSFW         bool
	Overwrites   map[Snowflake]Overwrite
	Recipients   []Snowflake
	LastSentID   Snowflake
	LastViewedID Snowflake
	MentionCount int
}

func (c *ChannelRecord) IsCategory() bool { return c.Type == ChannelCategory }

func (c *ChannelRecord) IsDM() bool { return c.Type == ChannelDM || c.Type == ChannelGroupDM }

func (c *ChannelRecord) IsThread() bool {
	return c.Type == ChannelNewsThread || c.Type == ChannelPublicThread || c.Type == ChannelPrivateThread
}

// HasUnread reports whether messages newer than the last acknowledged one exist.
func (c *ChannelRecord) HasUnread() bool {
	return c.LastViewedID < c.LastSentID
}

// AdvanceLastSent moves the last-sent pointer forward; it never moves back.
func (c *ChannelRecord) AdvanceLastSent(id Snowflake) {
	if id > c.LastSentID {
		c.LastSentID = id
	}
}

// Acknowledge records id as read. An acknowledgement that overtakes the
// last-sent pointer (the ack arrived before the message) drags it along.
func (c *ChannelRecord) Acknowledge(id Snowflake) {
	c.LastViewedID = id
	if c.LastViewedID > c.LastSentID {
		c.LastSentID = c.LastViewedID
	}
}

// RoleRecord is a guild role. The @everyone role shares the guild's id.
type RoleRecord struct {
	ID          Snowflake
	Name        string
	Permissions Permissions
	Position    int
	Color       int
}

// MemberListItem is one row of a guild's sidebar member listing: either a
// group header or a member. After grouping, members carry the id of the
// group header that precedes them.
type MemberListItem struct {
	IsGroup bool
	GroupID string
	Count   int
	UserID  Snowflake
	Group   string
}

// GuildRecord is the cached state of one guild. The record with ID 0 is the
// direct-message space.
type GuildRecord struct {
	ID          Snowflake
	Name        string
	Icon        string
	OwnerID     Snowflake
	Channels    []*ChannelRecord
	Roles       map[Snowflake]*RoleRecord
	MemberCount int
	OnlineCount int
	Unavailable bool
	// Order is the stable display key; larger values were added later.
	Order      int64
	MemberList []MemberListItem
}

// NewGuildRecord returns an empty guild with initialised maps.
func NewGuildRecord(id Snowflake) *GuildRecord {
	return &GuildRecord{ID: id, Roles: make(map[Snowflake]*RoleRecord)}
}

// Channel returns the channel with the given id, or nil.
func (g *GuildRecord) Channel(id Snowflake) *ChannelRecord {
	for _, ch := range g.Channels {
		if ch.ID == id {
			return ch
		}
	}
	return nil
}

// UpsertChannel replaces a channel with the same id or appends it, then
// re-sorts. Read-state carried by an existing record survives replacement.
func (g *GuildRecord) UpsertChannel(ch *ChannelRecord) {
	for i, existing := range g.Channels {
		if existing.ID == ch.ID {
			if ch.LastViewedID == 0 {
				ch.LastViewedID = existing.LastViewedID
			}
			if existing.LastSentID > ch.LastSentID {
				ch.LastSentID = existing.LastSentID
			}
			if ch.MentionCount == 0 {
				ch.MentionCount = existing.MentionCount
			}
			g.Channels[i] = ch
			g.SortChannels()
			return
		}
	}
	g.Channels = append(g.Channels, ch)
	g.SortChannels()
}

// RemoveChannel deletes a channel and reports whether it existed.
func (g *GuildRecord) RemoveChannel(id Snowflake) bool {
	for i, ch := range g.Channels {
		if ch.ID == id {
			g.Channels = append(g.Channels[:i], g.Channels[i+1:]...)
			return true
		}
	}
	return false
}

// SortChannels orders channels for display: channels are grouped under
// their category (uncategorised ones first), groups follow category
// position then category id, the category header leads its group, and
// members of a group sort by position, then parent id, then id descending.
func (g *GuildRecord) SortChannels() {
	categoryPos := make(map[Snowflake]int)
	for _, ch := range g.Channels {
		if ch.IsCategory() {
			categoryPos[ch.ID] = ch.Position
		}
	}
	group := func(ch *ChannelRecord) (int, Snowflake) {
		if ch.IsCategory() {
			return ch.Position, ch.ID
		}
		if ch.ParentID == 0 {
			return -1, 0
		}
		pos, ok := categoryPos[ch.ParentID]
		if !ok {
			return -1, 0
		}
		return pos, ch.ParentID
	}
	sort.SliceStable(g.Channels, func(i, j int) bool {
		a, b := g.Channels[i], g.Channels[j]
		ap, ag := group(a)
		bp, bg := group(b)
		if ap != bp {
			return ap < bp
		}
		if ag != bg {
			return ag < bg
		}
		if a.IsCategory() != b.IsCategory() {
			return a.IsCategory()
		}
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		if a.ParentID != b.ParentID {
			return a.ParentID < b.ParentID
		}
		return a.ID > b.ID
	})
}

// GuildMembership is a profile's per-guild state.
type GuildMembership struct {
	Nick            string
	Avatar          string
	Roles           []Snowflake
	JoinedAt        time.Time
	LoadedFromChunk bool
	// NotFound is set when the server confirmed the user is not a member.
	NotFound bool
}

// ProfileRecord is the de-duplicated identity of one user across guilds.
type ProfileRecord struct {
	ID          Snowflake
	Username    string
	GlobalName  string
	Avatar      string
	Bot         bool
	Status      string
	Placeholder bool
	Memberships map[Snowflake]*GuildMembership
}

// Membership returns the membership for guildID, creating it if absent.
func (p *ProfileRecord) Membership(guildID Snowflake) *GuildMembership {
	if p.Memberships == nil {
		p.Memberships = make(map[Snowflake]*GuildMembership)
	}
	m, ok := p.Memberships[guildID]
	if !ok {
		m = &GuildMembership{}
		p.Memberships[guildID] = m
	}
	return m
}

// DisplayName resolves the name shown for this user in guildID:
// nickname, then global name, then username.
func (p *ProfileRecord) DisplayName(guildID Snowflake) string {
	if m, ok := p.Memberships[guildID]; ok && m.Nick != "" {
		return m.Nick
	}
	if p.GlobalName != "" {
		return p.GlobalName
	}
	return p.Username
}

// MessageKind separates real messages from local-only entries.
type MessageKind int

const (
	KindMessage MessageKind = iota
	KindGap
	KindPending
	KindFailed
)

// GapDirection says which way unresolved history extends from a gap.
type GapDirection int

const (
	GapBefore GapDirection = iota
	GapAfter
)

type Attachment struct {
	ID          Snowflake
	Filename    string
	Size        int64
	URL         string
	ContentType string
	Width       int
	Height      int
}

type Embed struct {
	Type        string
	Title       string
	Description string
	URL         string
}

// ReferenceType distinguishes replies from forwards.
type ReferenceType int

const (
	ReferenceReply   ReferenceType = 0
	ReferenceForward ReferenceType = 1
)

type MessageReference struct {
	Type      ReferenceType
	MessageID Snowflake
	ChannelID Snowflake
	GuildID   Snowflake
}

type PollAnswer struct {
	ID   int
	Text string
}

type Poll struct {
	Question string
	Answers  []PollAnswer
	Expiry   time.Time
}

// MessageRecord is one entry of a channel's message cache. A gap marker
// (Kind == KindGap) carries no content and stands in for unresolved
// history in GapDir from Anchor.
type MessageRecord struct {
	ID              Snowflake
	ChannelID       Snowflake
	GuildID         Snowflake
	AuthorID        Snowflake
	Type            int
	Kind            MessageKind
	Content         string
	Created         time.Time
	Edited          time.Time
	Attachments     []Attachment
	Embeds          []Embed
	Mentions        []Snowflake
	MentionRoles    []Snowflake
	MentionEveryone bool
	Reference       *MessageReference
	Referenced      *MessageRecord
	// MentionsRepliedAuthor is true when the reply pings the author of
	// the referenced message.
	MentionsRepliedAuthor bool
	Poll                  *Poll
	WebhookID             Snowflake
	Nonce                 Snowflake
	// Failure explains why a KindFailed entry was not delivered.
	Failure string

	GapDir GapDirection
	Anchor Snowflake
}

func (m *MessageRecord) IsGap() bool { return m.Kind == KindGap }

// MentionsUser reports whether userID is pinged by the message, directly,
// through @everyone, or through one of roleIDs.
func (m *MessageRecord) MentionsUser(userID Snowflake, roleIDs []Snowflake) bool {
	if m.MentionEveryone {
		return true
	}
	for _, id := range m.Mentions {
		if id == userID {
			return true
		}
	}
	for _, want := range roleIDs {
		for _, id := range m.MentionRoles {
			if id == want {
				return true
			}
		}
	}
	return false
}

// RecomputeReplyMention refreshes MentionsRepliedAuthor from the message's
// own mention list.
func (m *MessageRecord) RecomputeReplyMention() {
	m.MentionsRepliedAuthor = false
	if m.Referenced == nil || m.Referenced.AuthorID == 0 {
		return
	}
	for _, id := range m.Mentions {
		if id == m.Referenced.AuthorID {
			m.MentionsRepliedAuthor = true
			return
		}
	}
}
