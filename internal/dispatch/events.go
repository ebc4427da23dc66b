package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/user/relaycord/internal/types"
	"github.com/user/relaycord/internal/wire"
)

// Event is one decoded DISPATCH payload. The concrete types below are the
// only implementations; anything the client does not know becomes Unknown.
type Event interface {
	isEvent()
}

// Ready is the full-state snapshot sent after IDENTIFY. MergedMembers is
// aligned positionally with Guilds: entry i holds members of guild i.
type Ready struct {
	User            wire.User       `json:"user"`
	SessionID       string          `json:"session_id"`
	Guilds          []wire.Guild    `json:"guilds"`
	MergedMembers   [][]wire.Member `json:"merged_members"`
	Users           []wire.User     `json:"users"`
	PrivateChannels []wire.Channel  `json:"private_channels"`
	ReadState       ReadState       `json:"read_state"`
	UserSettings    *UserSettings   `json:"user_settings"`
	Presences       []wire.Presence `json:"presences"`
}

// UserSettings is the subset of the settings blob the client uses.
type UserSettings struct {
	GuildFolders []GuildFolder `json:"guild_folders"`
}

// GuildFolder is one entry of the user's sidebar folder setting. ID is
// null for a bare guild that is not in a folder.
type GuildFolder struct {
	ID       *int64            `json:"id"`
	Name     string            `json:"name"`
	Color    *int              `json:"color"`
	GuildIDs []types.Snowflake `json:"guild_ids"`
}

// ReadStateEntry is the stored read position of one channel.
type ReadStateEntry struct {
	ID            types.Snowflake `json:"id"`
	LastMessageID types.Snowflake `json:"last_message_id"`
	MentionCount  int             `json:"mention_count"`
	ReadStateType int             `json:"read_state_type"`
}

// ReadState arrives either as a versioned object or, in older payloads, as
// a bare list of entries without a version.
type ReadState struct {
	Version   int64            `json:"version"`
	Partial   bool             `json:"partial"`
	Entries   []ReadStateEntry `json:"entries"`
	Versioned bool             `json:"-"`
}

func (rs *ReadState) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '[' {
		rs.Versioned = false
		return json.Unmarshal(data, &rs.Entries)
	}
	type plain ReadState
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*rs = ReadState(p)
	rs.Versioned = true
	return nil
}

type Resumed struct{}

type GuildCreate struct{ Guild wire.Guild }

type GuildUpdate struct{ Guild wire.Guild }

type GuildDelete struct {
	ID          types.Snowflake `json:"id"`
	Unavailable bool            `json:"unavailable"`
}

type ChannelCreate struct{ Channel wire.Channel }

type ChannelUpdate struct{ Channel wire.Channel }

type ChannelDelete struct{ Channel wire.Channel }

type GuildRoleCreate struct {
	GuildID types.Snowflake `json:"guild_id"`
	Role    wire.Role       `json:"role"`
}

type GuildRoleUpdate struct {
	GuildID types.Snowflake `json:"guild_id"`
	Role    wire.Role       `json:"role"`
}

type GuildRoleDelete struct {
	GuildID types.Snowflake `json:"guild_id"`
	RoleID  types.Snowflake `json:"role_id"`
}

type MessageCreate struct{ Message wire.Message }

type MessageUpdate struct{ Update wire.MessageUpdate }

type MessageDelete struct {
	ID        types.Snowflake `json:"id"`
	ChannelID types.Snowflake `json:"channel_id"`
	GuildID   types.Snowflake `json:"guild_id"`
}

type MessageDeleteBulk struct {
	IDs       []types.Snowflake `json:"ids"`
	ChannelID types.Snowflake   `json:"channel_id"`
	GuildID   types.Snowflake   `json:"guild_id"`
}

// MessageAck moves a channel's read position. Version orders acks from
// every session of the account.
type MessageAck struct {
	ChannelID    types.Snowflake `json:"channel_id"`
	MessageID    types.Snowflake `json:"message_id"`
	Version      int64           `json:"version"`
	MentionCount int             `json:"mention_count"`
}

// MemberListGroup is a header row of the member sidebar, usually a role
// name or "online"/"offline".
type MemberListGroup struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

// MemberListItem is a group header or a member; exactly one is set.
type MemberListItem struct {
	Group  *MemberListGroup `json:"group"`
	Member *wire.Member     `json:"member"`
}

// MemberListOp is one sub-operation of GUILD_MEMBER_LIST_UPDATE.
type MemberListOp struct {
	Op    string           `json:"op"`
	Range []int            `json:"range"`
	Items []MemberListItem `json:"items"`
	Index int              `json:"index"`
	Item  *MemberListItem  `json:"item"`
}

type GuildMemberListUpdate struct {
	GuildID     types.Snowflake   `json:"guild_id"`
	ID          string            `json:"id"`
	MemberCount int               `json:"member_count"`
	OnlineCount int               `json:"online_count"`
	Groups      []MemberListGroup `json:"groups"`
	Ops         []MemberListOp    `json:"ops"`
}

type GuildMembersChunk struct {
	GuildID   types.Snowflake   `json:"guild_id"`
	Members   []wire.Member     `json:"members"`
	NotFound  []types.Snowflake `json:"not_found"`
	Presences []wire.Presence   `json:"presences"`
	Nonce     string            `json:"nonce"`
}

type UserUpdate struct{ User wire.User }

type PresenceUpdate struct{ Presence wire.Presence }

// TypingStart carries a unix timestamp in seconds.
type TypingStart struct {
	ChannelID types.Snowflake `json:"channel_id"`
	GuildID   types.Snowflake `json:"guild_id"`
	UserID    types.Snowflake `json:"user_id"`
	Timestamp int64           `json:"timestamp"`
	Member    *wire.Member    `json:"member"`
}

// Unknown is any event the client does not handle.
type Unknown struct {
	Name string
	Data json.RawMessage
}

func (Ready) isEvent()                 {}
func (Resumed) isEvent()               {}
func (GuildCreate) isEvent()           {}
func (GuildUpdate) isEvent()           {}
func (GuildDelete) isEvent()           {}
func (ChannelCreate) isEvent()         {}
func (ChannelUpdate) isEvent()         {}
func (ChannelDelete) isEvent()         {}
func (GuildRoleCreate) isEvent()       {}
func (GuildRoleUpdate) isEvent()       {}
func (GuildRoleDelete) isEvent()       {}
func (MessageCreate) isEvent()         {}
func (MessageUpdate) isEvent()         {}
func (MessageDelete) isEvent()         {}
func (MessageDeleteBulk) isEvent()     {}
func (MessageAck) isEvent()            {}
func (GuildMemberListUpdate) isEvent() {}
func (GuildMembersChunk) isEvent()     {}
func (UserUpdate) isEvent()            {}
func (PresenceUpdate) isEvent()        {}
func (TypingStart) isEvent()           {}
func (Unknown) isEvent()               {}

// Decode turns a dispatch name and payload into an Event. Unrecognised
// names decode to Unknown; a recognised name with a malformed payload is an
// error.
func Decode(name string, data json.RawMessage) (Event, error) {
	var (
		ev  Event
		err error
	)
	switch name {
	case "READY":
		var e Ready
		err = wire.Decode(data, &e)
		ev = e
	case "RESUMED":
		ev = Resumed{}
	case "GUILD_CREATE":
		var e GuildCreate
		err = wire.Decode(data, &e.Guild)
		ev = e
	case "GUILD_UPDATE":
		var e GuildUpdate
		err = wire.Decode(data, &e.Guild)
		ev = e
	case "GUILD_DELETE":
		var e GuildDelete
		err = wire.Decode(data, &e)
		ev = e
	case "CHANNEL_CREATE":
		var e ChannelCreate
		err = wire.Decode(data, &e.Channel)
		ev = e
	case "CHANNEL_UPDATE":
		var e ChannelUpdate
		err = wire.Decode(data, &e.Channel)
		ev = e
	case "CHANNEL_DELETE":
		var e ChannelDelete
		err = wire.Decode(data, &e.Channel)
		ev = e
	case "GUILD_ROLE_CREATE":
		var e GuildRoleCreate
		err = wire.Decode(data, &e)
		ev = e
	case "GUILD_ROLE_UPDATE":
		var e GuildRoleUpdate
		err = wire.Decode(data, &e)
		ev = e
	case "GUILD_ROLE_DELETE":
		var e GuildRoleDelete
		err = wire.Decode(data, &e)
		ev = e
	case "MESSAGE_CREATE":
		var e MessageCreate
		err = wire.Decode(data, &e.Message)
		ev = e
	case "MESSAGE_UPDATE":
		var e MessageUpdate
		err = wire.Decode(data, &e.Update)
		ev = e
	case "MESSAGE_DELETE":
		var e MessageDelete
		err = wire.Decode(data, &e)
		ev = e
	case "MESSAGE_DELETE_BULK":
		var e MessageDeleteBulk
		err = wire.Decode(data, &e)
		ev = e
	case "MESSAGE_ACK":
		var e MessageAck
		err = wire.Decode(data, &e)
		ev = e
	case "GUILD_MEMBER_LIST_UPDATE":
		var e GuildMemberListUpdate
		err = wire.Decode(data, &e)
		ev = e
	case "GUILD_MEMBERS_CHUNK":
		var e GuildMembersChunk
		err = wire.Decode(data, &e)
		ev = e
	case "USER_UPDATE":
		var e UserUpdate
		err = wire.Decode(data, &e.User)
		ev = e
	case "PRESENCE_UPDATE":
		var e PresenceUpdate
		err = wire.Decode(data, &e.Presence)
		ev = e
	case "TYPING_START":
		var e TypingStart
		err = wire.Decode(data, &e)
		ev = e
	default:
		return Unknown{Name: name, Data: data}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return ev, nil
}
