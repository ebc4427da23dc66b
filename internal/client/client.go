// Package client assembles the chat core: one processing loop, the
// transport, the gateway session, the caches, the dispatch router and the
// upload pipeline. It is the only entry point a presentation layer needs.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/user/relaycord/internal/cache"
	"github.com/user/relaycord/internal/config"
	"github.com/user/relaycord/internal/dispatch"
	"github.com/user/relaycord/internal/gateway"
	"github.com/user/relaycord/internal/loop"
	"github.com/user/relaycord/internal/transport"
	"github.com/user/relaycord/internal/types"
	"github.com/user/relaycord/internal/upload"
)

// ErrNotRunning is returned by calls that need the processing loop before
// Start or after Stop.
var ErrNotRunning = errors.New("client not running")

const stopTimeout = 5 * time.Second

type Options struct {
	Config   *config.Config
	Observer types.Observer
	// Optional overrides, mostly for tests.
	Clock      clock.Clock
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Properties *gateway.Properties
}

// Client owns every service of one logged-in account. Its exported
// methods are safe for concurrent use; they hand work to the processing
// loop. Observer callbacks run on that loop.
type Client struct {
	cfg *config.Config
	obs types.Observer

	lp       *loop.Loop
	rest     *transport.Client
	session  *gateway.Session
	router   *dispatch.Router
	uploads  *upload.Pipeline
	registry *cache.Registry
	profiles *cache.ProfileCache
	messages *cache.MessageCache

	mu     sync.Mutex
	cancel context.CancelFunc
}

func New(opts Options) *Client {
	cfg := opts.Config
	if opts.Observer == nil {
		opts.Observer = types.NopObserver{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	props := gateway.Properties{OS: runtime.GOOS, Browser: "relaycord", Device: "relaycord"}
	if opts.Properties != nil {
		props = *opts.Properties
	}

	c := &Client{
		cfg:      cfg,
		obs:      opts.Observer,
		lp:       loop.New(),
		registry: cache.NewRegistry(),
		profiles: cache.NewProfileCache(nil),
		messages: cache.NewMessageCache(),
	}
	c.rest = transport.New(transport.Options{
		HTTPClient:  opts.HTTPClient,
		Dialer:      opts.Dialer,
		UserAgent:   cfg.UserAgent,
		MaxInFlight: int64(cfg.MaxInFlight),
		SendFrames:  cfg.GatewaySendRate.Frames,
		SendPer:     cfg.SendPer(),
	})
	nonces := &types.NonceSource{}

	c.router = dispatch.New(dispatch.Config{
		APIBase:         cfg.APIBase,
		Token:           cfg.Token,
		HistoryPageSize: cfg.HistoryPageSize,
		Registry:        c.registry,
		Profiles:        c.profiles,
		Messages:        c.messages,
		Observer:        c.obs,
		REST:            c.rest,
		Executor:        c.lp,
		Clock:           opts.Clock,
		Nonces:          nonces,
	})
	c.profiles.SetFetcher(c.router)

	retry := gateway.DefaultRetryPolicy()
	if cfg.Reconnect.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.Reconnect.MaxAttempts
	}
	if d := cfg.InitialDelay(); d > 0 {
		retry.InitialDelay = d
	}
	if d := cfg.MaxDelay(); d > 0 {
		retry.MaxDelay = d
	}
	c.session = gateway.New(gateway.Config{
		URL:        cfg.GatewayURL,
		Token:      cfg.Token,
		Properties: props,
		Compress:   cfg.Compress,
		Retry:      retry,
		Clock:      opts.Clock,
		Executor:   c.lp,
		Stream:     c.rest,
		Handler:    (*sessionHandler)(c),
	})
	c.router.SetGateway(c.session)

	c.uploads = upload.New(upload.Config{
		Router:   c.router,
		REST:     c.rest,
		Executor: c.lp,
		Observer: c.obs,
		Clock:    opts.Clock,
		Nonces:   nonces,
	})
	return c
}

// Start launches the loop and the transport and opens the gateway session.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	go c.lp.Run(ctx)
	c.rest.Start(ctx)
	c.post(c.session.Start)
	slog.Info("client started", "api_base", c.cfg.APIBase, "gateway", c.cfg.GatewayURL, "compress", c.cfg.Compress)
}

// Stop closes the session, aborts uploads and waits for the transport and
// the loop to wind down.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}

	ctx, done := context.WithTimeout(context.Background(), stopTimeout)
	defer done()
	if err := c.lp.Do(ctx, func() {
		c.uploads.CancelAll()
		c.session.Close()
	}); err != nil {
		slog.Warn("client stop", "error", err)
	}
	c.rest.Stop()
	cancel()
	<-c.lp.Done()
	slog.Info("client stopped")
}

func (c *Client) post(fn func()) {
	if !c.lp.Post(fn) {
		slog.Debug("client call dropped, loop stopped")
	}
}

// Do runs fn on the processing loop and waits for it. Cached state may be
// read freely inside fn.
func (c *Client) Do(ctx context.Context, fn func()) error {
	if err := c.lp.Do(ctx, fn); err != nil {
		if errors.Is(err, loop.ErrStopped) {
			return ErrNotRunning
		}
		return err
	}
	return nil
}

// Registry, Profiles, Messages, Router and Uploads expose the services for
// use inside Do or observer callbacks only.
func (c *Client) Registry() *cache.Registry     { return c.registry }
func (c *Client) Profiles() *cache.ProfileCache { return c.profiles }
func (c *Client) Messages() *cache.MessageCache { return c.messages }
func (c *Client) Router() *dispatch.Router      { return c.router }
func (c *Client) Uploads() *upload.Pipeline     { return c.uploads }

// State returns the gateway state. Like the accessors above it must run on
// the loop.
func (c *Client) State() gateway.State { return c.session.State() }

func (c *Client) SelectGuild(guildID types.Snowflake) {
	c.post(func() { c.router.SelectGuild(guildID) })
}

// OpenChannel marks channelID as displayed, loading its newest page when
// nothing is cached. Zero closes the current channel.
func (c *Client) OpenChannel(channelID types.Snowflake) {
	c.post(func() { c.router.SetOpenChannel(channelID) })
}

// LoadOlder fetches the page above the oldest cached message.
func (c *Client) LoadOlder(channelID types.Snowflake) {
	c.post(func() { c.router.LoadOlder(channelID) })
}

// JumpTo loads the page surrounding messageID.
func (c *Client) JumpTo(channelID, messageID types.Snowflake) {
	c.post(func() { c.router.FetchAround(channelID, messageID) })
}

// ResolveGap loads the messages hidden behind a gap marker.
func (c *Client) ResolveGap(channelID, gapID types.Snowflake) {
	c.post(func() { c.router.ResolveGap(channelID, gapID) })
}

func (c *Client) Acknowledge(channelID, messageID types.Snowflake) {
	c.post(func() { c.router.AckMessage(channelID, messageID) })
}

// SendMessage posts a text message and returns the nonce of its pending
// entry.
func (c *Client) SendMessage(ctx context.Context, channelID types.Snowflake, content string, replyTo types.Snowflake) (types.Snowflake, error) {
	var nonce types.Snowflake
	err := c.Do(ctx, func() { nonce = c.router.SendMessage(channelID, content, replyTo) })
	return nonce, err
}

// DiscardFailed removes a failed message entry.
func (c *Client) DiscardFailed(channelID, nonce types.Snowflake) {
	c.post(func() { c.router.DiscardFailed(channelID, nonce) })
}

// SendFile uploads body and posts a message referencing it. It returns the
// attachment id usable with CancelUpload.
func (c *Client) SendFile(ctx context.Context, channelID types.Snowflake, content string, replyTo types.Snowflake, name string, size int64, body io.Reader) (string, error) {
	var id string
	err := c.Do(ctx, func() {
		id = c.uploads.Send(upload.Request{
			ChannelID: channelID,
			Content:   content,
			ReplyTo:   replyTo,
			File:      upload.File{Name: name, Size: size, Body: body},
		})
	})
	return id, err
}

func (c *Client) CancelUpload(id string) {
	c.post(func() { c.uploads.Cancel(id) })
}

// Reconnect drops the current connection and connects again.
func (c *Client) Reconnect() {
	c.post(c.session.Reconnect)
}

// SetToken replaces the credentials for the next connection and REST call.
func (c *Client) SetToken(token string) {
	c.post(func() {
		c.cfg.Token = token
		c.router.SetToken(token)
		c.session.SetToken(token)
	})
}

// sessionHandler routes gateway notifications into the router and the
// observer. It runs on the loop.
type sessionHandler Client

func (h *sessionHandler) OnConnecting() {
	h.obs.OnConnecting()
}

func (h *sessionHandler) OnDispatch(event string, data json.RawMessage, seq int64) {
	h.router.Handle(event, data, seq)
}

func (h *sessionHandler) OnConnected(resumed bool) {
	slog.Info("gateway ready", "resumed", resumed, "guilds", len(h.registry.Guilds()))
	h.obs.OnConnected()
	h.router.Subscribe()
}

func (h *sessionHandler) OnClosed(code int, policy gateway.ClosePolicy) {
	switch policy {
	case gateway.PolicyReauth:
		slog.Warn("gateway rejected credentials", "code", code)
		h.uploads.CancelAll()
		h.router.Reset()
		h.obs.OnLoggedOut()
	default:
		slog.Warn("gateway session closed", "code", code, "policy", policy.String())
		h.obs.OnSessionClosed(code)
	}
}
