// Package gateway implements the session state machine on top of a
// transport stream: handshake, heartbeating, sequence tracking and the
// resume/reconnect policy. It forwards dispatch events without reading
// their payloads, except READY, from which it takes the resume coordinates.
package gateway

import (
	"encoding/json"
	"fmt"
)

// Opcode is the op field of a gateway frame.
type Opcode int

const (
	OpDispatch            Opcode = 0
	OpHeartbeat           Opcode = 1
	OpIdentify            Opcode = 2
	OpPresenceUpdate      Opcode = 3
	OpResume              Opcode = 6
	OpReconnect           Opcode = 7
	OpRequestGuildMembers Opcode = 8
	OpInvalidSession      Opcode = 9
	OpHello               Opcode = 10
	OpHeartbeatAck        Opcode = 11
	OpGuildSubscriptions  Opcode = 14
)

func (o Opcode) String() string {
	switch o {
	case OpDispatch:
		return "DISPATCH"
	case OpHeartbeat:
		return "HEARTBEAT"
	case OpIdentify:
		return "IDENTIFY"
	case OpPresenceUpdate:
		return "PRESENCE_UPDATE"
	case OpResume:
		return "RESUME"
	case OpReconnect:
		return "RECONNECT"
	case OpRequestGuildMembers:
		return "REQUEST_GUILD_MEMBERS"
	case OpInvalidSession:
		return "INVALID_SESSION"
	case OpHello:
		return "HELLO"
	case OpHeartbeatAck:
		return "HEARTBEAT_ACK"
	case OpGuildSubscriptions:
		return "GUILD_SUBSCRIPTIONS"
	default:
		return fmt.Sprintf("OP(%d)", int(o))
	}
}

// Frame is one inbound gateway payload.
type Frame struct {
	Op Opcode          `json:"op"`
	D  json.RawMessage `json:"d"`
	S  *int64          `json:"s"`
	T  string          `json:"t"`
}

type outboundFrame struct {
	Op Opcode `json:"op"`
	D  any    `json:"d"`
}

type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

// Properties describe the connecting client in IDENTIFY.
type Properties struct {
	OS                string `json:"os"`
	Browser           string `json:"browser"`
	Device            string `json:"device"`
	SystemLocale      string `json:"system_locale,omitempty"`
	BrowserUserAgent  string `json:"browser_user_agent,omitempty"`
	ClientBuildNumber int    `json:"client_build_number,omitempty"`
}

type identifyData struct {
	Token        string     `json:"token"`
	Capabilities int        `json:"capabilities"`
	Properties   Properties `json:"properties"`
	Compress     bool       `json:"compress"`
}

type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

type readyData struct {
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
}

// RequestGuildMembers is the payload of OpRequestGuildMembers.
type RequestGuildMembers struct {
	GuildID   string   `json:"guild_id"`
	UserIDs   []string `json:"user_ids,omitempty"`
	Query     *string  `json:"query,omitempty"`
	Limit     int      `json:"limit"`
	Presences bool     `json:"presences"`
	Nonce     string   `json:"nonce,omitempty"`
}

// GuildSubscription is the payload of OpGuildSubscriptions. Channels maps
// a channel id to the member-list index ranges to subscribe to.
type GuildSubscription struct {
	GuildID    string              `json:"guild_id"`
	Typing     bool                `json:"typing"`
	Activities bool                `json:"activities"`
	Threads    bool                `json:"threads"`
	Channels   map[string][][2]int `json:"channels,omitempty"`
}

func encode(op Opcode, d any) ([]byte, error) {
	data, err := json.Marshal(outboundFrame{Op: op, D: d})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", op, err)
	}
	return data, nil
}
