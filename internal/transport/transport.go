// Package transport executes REST calls and drives persistent WebSocket
// streams. It knows nothing about the chat protocol: requests go out,
// results and stream events come back through callbacks invoked on
// transport goroutines, never while an internal lock is held.
package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Synthetic result codes for failures that produced no HTTP status.
const (
	CodeTransportError = -1
	CodeCancelled      = -2
)

// ErrStopped is reported for work submitted after Stop.
var ErrStopped = errors.New("transport stopped")

// Handle identifies a submitted request.
type Handle string

// Request is one REST call. Body and BodyReader are mutually exclusive;
// BodyReader with a known BodySize enables upload progress.
type Request struct {
	Method      string
	URL         string
	Body        []byte
	BodyReader  io.Reader
	BodySize    int64
	ContentType string
	Token       string

	// Interactive requests are admitted to the in-flight set ahead of
	// background ones. They are not guaranteed to complete earlier.
	Interactive bool

	// Progress requests invoke Callback with InProgress results after
	// every chunk transferred in either direction.
	Progress bool

	// Ctx cancels the transfer; cancellation is observed at the next
	// chunk boundary. Nil means no per-request cancellation.
	Ctx context.Context

	// Context is opaque continuation data echoed back in the Result.
	Context any

	Callback func(*Result)
}

// Result is delivered to the request's callback. Code is the HTTP status,
// or one of the negative synthetic codes.
type Result struct {
	Handle  Handle
	Code    int
	Body    []byte
	Err     error
	Context any
	URL     string

	InProgress bool
	BytesSoFar int64
	BytesTotal int64
}

// OK reports a 2xx completion.
func (r *Result) OK() bool {
	return !r.InProgress && r.Code >= 200 && r.Code < 300
}

// Options configures a Client.
type Options struct {
	HTTPClient  *http.Client
	Dialer      *websocket.Dialer
	UserAgent   string
	MaxInFlight int64
	// SendFrames per SendPer caps outbound stream frames.
	SendFrames int
	SendPer    time.Duration
}

// Client owns the REST worker and every open stream.
type Client struct {
	http      *http.Client
	dialer    *websocket.Dialer
	userAgent string

	sem         *semaphore.Weighted
	interactive chan *pending
	background  chan *pending

	sendLimit rate.Limit
	sendBurst int

	mu       sync.Mutex
	inflight map[Handle]*pending
	streams  map[StreamID]*stream
	started  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Client. Start must be called before use.
func New(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 8
	}
	if opts.SendFrames <= 0 {
		opts.SendFrames = 120
	}
	if opts.SendPer <= 0 {
		opts.SendPer = time.Minute
	}
	return &Client{
		http:        opts.HTTPClient,
		dialer:      opts.Dialer,
		userAgent:   opts.UserAgent,
		sem:         semaphore.NewWeighted(opts.MaxInFlight),
		interactive: make(chan *pending, 256),
		background:  make(chan *pending, 1024),
		sendLimit:   rate.Limit(float64(opts.SendFrames) / opts.SendPer.Seconds()),
		sendBurst:   opts.SendFrames,
		inflight:    make(map[Handle]*pending),
		streams:     make(map[StreamID]*stream),
	}
}

// Start launches the REST dispatcher.
func (c *Client) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	c.wg.Add(1)
	go c.dispatch()
}

// Stop cancels every in-flight request, closes every stream and waits for
// transport goroutines to finish. Callbacks for cancelled work still run.
func (c *Client) Stop() {
	c.mu.Lock()
	c.started = false
	streams := make([]*stream, 0, len(c.streams))
	for _, s := range c.streams {
		streams = append(streams, s)
	}
	c.mu.Unlock()

	for _, s := range streams {
		s.shutdown(websocket.CloseNormalClosure)
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}
