// Package dispatch applies gateway events to the caches and issues the REST
// follow-ups they imply. Every method runs on the processing context; REST
// completions are posted back to it before they touch any cache.
package dispatch

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/user/relaycord/internal/cache"
	"github.com/user/relaycord/internal/gateway"
	"github.com/user/relaycord/internal/loop"
	"github.com/user/relaycord/internal/transport"
	"github.com/user/relaycord/internal/types"
)

// maxTypingSkew bounds how far a server typing timestamp may stray from
// local time before local time is used instead.
const maxTypingSkew = 30 * time.Second

const defaultHistoryPage = 50

// Requester submits REST calls.
type Requester interface {
	Submit(req *transport.Request) transport.Handle
}

// GatewaySender sends outbound gateway operations.
type GatewaySender interface {
	Send(op gateway.Opcode, d any) error
}

// Config wires a Router to its collaborators.
type Config struct {
	APIBase         string
	Token           string
	HistoryPageSize int

	Registry *cache.Registry
	Profiles *cache.ProfileCache
	Messages *cache.MessageCache
	Observer types.Observer
	REST     Requester
	Gateway  GatewaySender
	Executor loop.Executor
	Clock    clock.Clock
	Nonces   *types.NonceSource
}

// Router owns event handling for one session.
type Router struct {
	api      string
	token    string
	pageSize int

	reg      *cache.Registry
	profiles *cache.ProfileCache
	messages *cache.MessageCache
	obs      types.Observer
	rest     Requester
	gw       GatewaySender
	exec     loop.Executor
	clock    clock.Clock
	nonces   *types.NonceSource

	self        types.Snowflake
	open        types.Snowflake
	readVersion int64
	history     map[historyKey]struct{}
}

// New creates a Router. Registry, Profiles, Messages and REST are required.
func New(cfg Config) *Router {
	if cfg.Observer == nil {
		cfg.Observer = types.NopObserver{}
	}
	if cfg.Executor == nil {
		cfg.Executor = loop.Inline{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Nonces == nil {
		cfg.Nonces = &types.NonceSource{}
	}
	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = defaultHistoryPage
	}
	return &Router{
		api:      cfg.APIBase,
		token:    cfg.Token,
		pageSize: cfg.HistoryPageSize,
		reg:      cfg.Registry,
		profiles: cfg.Profiles,
		messages: cfg.Messages,
		obs:      cfg.Observer,
		rest:     cfg.REST,
		gw:       cfg.Gateway,
		exec:     cfg.Executor,
		clock:    cfg.Clock,
		nonces:   cfg.Nonces,
		history:  make(map[historyKey]struct{}),
	}
}

// Self returns the logged-in user's id, known after READY.
func (r *Router) Self() types.Snowflake { return r.self }

// OpenChannel returns the channel currently shown, or 0.
func (r *Router) OpenChannel() types.Snowflake { return r.open }

// ReadStateVersion returns the highest read-state version applied.
func (r *Router) ReadStateVersion() int64 { return r.readVersion }

func (r *Router) SetToken(token string) { r.token = token }

// SetGateway attaches the outbound gateway once the session exists.
func (r *Router) SetGateway(gw GatewaySender) { r.gw = gw }

// Reset forgets all session state, as after a logout.
func (r *Router) Reset() {
	r.reg.Clear()
	r.profiles.Clear()
	r.messages.Clear()
	r.self = 0
	r.open = 0
	r.readVersion = 0
	r.history = make(map[historyKey]struct{})
}

// Handle decodes and applies one dispatch. Malformed payloads of known
// events are logged and dropped.
func (r *Router) Handle(name string, data json.RawMessage, seq int64) {
	ev, err := Decode(name, data)
	if err != nil {
		slog.Warn("dispatch dropped malformed event", "event", name, "seq", seq, "error", err)
		return
	}
	r.Dispatch(ev)
}

// Dispatch applies one decoded event.
func (r *Router) Dispatch(ev Event) {
	switch e := ev.(type) {
	case Ready:
		r.onReady(&e)
	case Resumed:
		slog.Debug("dispatch resumed")
	case GuildCreate:
		r.onGuildCreate(&e)
	case GuildUpdate:
		r.onGuildUpdate(&e)
	case GuildDelete:
		r.onGuildDelete(&e)
	case ChannelCreate:
		r.onChannelUpsert(&e.Channel)
	case ChannelUpdate:
		r.onChannelUpsert(&e.Channel)
	case ChannelDelete:
		r.onChannelDelete(&e.Channel)
	case GuildRoleCreate:
		r.onRoleUpsert(e.GuildID, &e.Role)
	case GuildRoleUpdate:
		r.onRoleUpsert(e.GuildID, &e.Role)
	case GuildRoleDelete:
		r.onRoleDelete(&e)
	case MessageCreate:
		r.onMessageCreate(&e)
	case MessageUpdate:
		r.onMessageUpdate(&e)
	case MessageDelete:
		r.onMessageDelete(e.ChannelID, e.ID)
	case MessageDeleteBulk:
		for _, id := range e.IDs {
			r.onMessageDelete(e.ChannelID, id)
		}
	case MessageAck:
		r.onMessageAck(&e)
	case GuildMemberListUpdate:
		r.onMemberListUpdate(&e)
	case GuildMembersChunk:
		r.onMembersChunk(&e)
	case UserUpdate:
		r.onUserUpdate(&e)
	case PresenceUpdate:
		r.onPresenceUpdate(&e)
	case TypingStart:
		r.onTypingStart(&e)
	case Unknown:
		slog.Debug("dispatch ignored unknown event", "event", e.Name, "bytes", len(e.Data))
	}
}

// post runs fn on the processing context.
func (r *Router) post(fn func()) {
	if !r.exec.Post(fn) {
		slog.Debug("dispatch completion dropped, loop stopped")
	}
}
