// Package wire holds the JSON shapes of gateway payloads and REST responses
// and their conversion into cache records. Fields the client does not use
// are omitted; absent fields decode as zero values.
package wire

import (
	"encoding/json"
	"time"

	"github.com/user/relaycord/internal/types"
)

type User struct {
	ID         types.Snowflake `json:"id"`
	Username   string          `json:"username"`
	GlobalName *string         `json:"global_name"`
	Avatar     *string         `json:"avatar"`
	Bot        bool            `json:"bot"`
}

type Member struct {
	User     *User             `json:"user"`
	UserID   types.Snowflake   `json:"user_id"`
	Nick     *string           `json:"nick"`
	Avatar   *string           `json:"avatar"`
	Roles    []types.Snowflake `json:"roles"`
	JoinedAt string            `json:"joined_at"`
	Presence *Presence         `json:"presence"`
}

// ID returns the member's user id from whichever field carries it.
func (m *Member) ID() types.Snowflake {
	if m.User != nil && m.User.ID != 0 {
		return m.User.ID
	}
	return m.UserID
}

type Presence struct {
	User    User            `json:"user"`
	GuildID types.Snowflake `json:"guild_id"`
	Status  string          `json:"status"`
}

type Overwrite struct {
	ID    types.Snowflake   `json:"id"`
	Type  int               `json:"type"`
	Allow types.Permissions `json:"allow"`
	Deny  types.Permissions `json:"deny"`
}

type Channel struct {
	ID                   types.Snowflake   `json:"id"`
	GuildID              types.Snowflake   `json:"guild_id"`
	ParentID             types.Snowflake   `json:"parent_id"`
	Type                 int               `json:"type"`
	Name                 string            `json:"name"`
	Topic                string            `json:"topic"`
	Position             int               `json:"position"`
	NSFW                 bool              `json:"nsfw"`
	PermissionOverwrites []Overwrite       `json:"permission_overwrites"`
	LastMessageID        types.Snowflake   `json:"last_message_id"`
	Recipients           []User            `json:"recipients"`
	RecipientIDs         []types.Snowflake `json:"recipient_ids"`
}

type Role struct {
	ID          types.Snowflake   `json:"id"`
	Name        string            `json:"name"`
	Permissions types.Permissions `json:"permissions"`
	Position    int               `json:"position"`
	Color       int               `json:"color"`
}

// GuildProperties carries guild metadata in the user-account READY shape,
// where it is nested instead of top-level.
type GuildProperties struct {
	Name    string          `json:"name"`
	Icon    string          `json:"icon"`
	OwnerID types.Snowflake `json:"owner_id"`
}

type Guild struct {
	ID          types.Snowflake  `json:"id"`
	Name        string           `json:"name"`
	Icon        string           `json:"icon"`
	OwnerID     types.Snowflake  `json:"owner_id"`
	Properties  *GuildProperties `json:"properties"`
	Channels    []Channel        `json:"channels"`
	Threads     []Channel        `json:"threads"`
	Roles       []Role           `json:"roles"`
	Members     []Member         `json:"members"`
	MemberCount int              `json:"member_count"`
	Unavailable bool             `json:"unavailable"`
}

type Attachment struct {
	ID          types.Snowflake `json:"id"`
	Filename    string          `json:"filename"`
	Size        int64           `json:"size"`
	URL         string          `json:"url"`
	ContentType string          `json:"content_type"`
	Width       int             `json:"width"`
	Height      int             `json:"height"`
}

type Embed struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

type MessageReference struct {
	Type      int             `json:"type"`
	MessageID types.Snowflake `json:"message_id"`
	ChannelID types.Snowflake `json:"channel_id"`
	GuildID   types.Snowflake `json:"guild_id"`
}

type PollMedia struct {
	Text string `json:"text"`
}

type PollAnswer struct {
	AnswerID  int       `json:"answer_id"`
	PollMedia PollMedia `json:"poll_media"`
}

type Poll struct {
	Question PollMedia    `json:"question"`
	Answers  []PollAnswer `json:"answers"`
	Expiry   string       `json:"expiry"`
}

type Message struct {
	ID                types.Snowflake   `json:"id"`
	ChannelID         types.Snowflake   `json:"channel_id"`
	GuildID           types.Snowflake   `json:"guild_id"`
	Author            *User             `json:"author"`
	Member            *Member           `json:"member"`
	Type              int               `json:"type"`
	Content           string            `json:"content"`
	Timestamp         string            `json:"timestamp"`
	EditedTimestamp   string            `json:"edited_timestamp"`
	Attachments       []Attachment      `json:"attachments"`
	Embeds            []Embed           `json:"embeds"`
	Mentions          []User            `json:"mentions"`
	MentionRoles      []types.Snowflake `json:"mention_roles"`
	MentionEveryone   bool              `json:"mention_everyone"`
	MessageReference  *MessageReference `json:"message_reference"`
	ReferencedMessage *Message          `json:"referenced_message"`
	Poll              *Poll             `json:"poll"`
	WebhookID         types.Snowflake   `json:"webhook_id"`
	Nonce             types.Snowflake   `json:"nonce"`
}

// MessageUpdate is the partial shape of MESSAGE_UPDATE: only fields present
// in the payload are non-nil.
type MessageUpdate struct {
	ID                types.Snowflake    `json:"id"`
	ChannelID         types.Snowflake    `json:"channel_id"`
	GuildID           types.Snowflake    `json:"guild_id"`
	Author            *User              `json:"author"`
	Content           *string            `json:"content"`
	EditedTimestamp   *string            `json:"edited_timestamp"`
	Attachments       *[]Attachment      `json:"attachments"`
	Embeds            *[]Embed           `json:"embeds"`
	Mentions          *[]User            `json:"mentions"`
	MentionRoles      *[]types.Snowflake `json:"mention_roles"`
	MentionEveryone   *bool              `json:"mention_everyone"`
	MessageReference  *MessageReference  `json:"message_reference"`
	ReferencedMessage *Message           `json:"referenced_message"`
	Poll              *Poll              `json:"poll"`
}

// ParseTime parses an ISO-8601 wire timestamp; malformed input yields the
// zero time.
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Decode unmarshals raw into v and reports whether it succeeded. Callers
// treat failure as an absent payload.
func Decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errEmpty
	}
	return json.Unmarshal(raw, v)
}
