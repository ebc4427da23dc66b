package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

type pending struct {
	handle Handle
	req    *Request
	ctx    context.Context
	cancel context.CancelFunc
}

// Submit enqueues a REST call and returns immediately. The callback always
// runs exactly once with a final result, preceded by progress results for
// Progress requests.
func (c *Client) Submit(req *Request) Handle {
	p := &pending{handle: Handle(uuid.NewString()), req: req}

	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		go c.deliver(p, &Result{Code: CodeCancelled, Err: ErrStopped})
		return p.handle
	}
	parent := c.ctx
	if req.Ctx != nil {
		parent = req.Ctx
	}
	p.ctx, p.cancel = context.WithCancel(parent)
	if req.Ctx != nil {
		stop := context.AfterFunc(c.ctx, p.cancel)
		cancel := p.cancel
		p.cancel = func() {
			stop()
			cancel()
		}
	}

	lane := c.background
	if req.Interactive {
		lane = c.interactive
	}
	select {
	case lane <- p:
		c.inflight[p.handle] = p
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		p.cancel()
		slog.Warn("request queue full", "method", req.Method, "url", req.URL)
		go c.deliver(p, &Result{Code: CodeTransportError, Err: fmt.Errorf("request queue full")})
	}
	return p.handle
}

// Cancel aborts a queued or running request. The callback still runs, with
// CodeCancelled. It reports whether the handle was known.
func (c *Client) Cancel(h Handle) bool {
	c.mu.Lock()
	p, ok := c.inflight[h]
	c.mu.Unlock()
	if ok {
		p.cancel()
	}
	return ok
}

// InFlight returns the number of submitted requests that have not completed.
func (c *Client) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

// dispatch admits queued requests into the in-flight set, draining the
// interactive lane before the background lane. The semaphore caps how many
// requests execute at once.
func (c *Client) dispatch() {
	defer c.wg.Done()
	for {
		var p *pending
		select {
		case p = <-c.interactive:
		default:
			select {
			case p = <-c.interactive:
			case p = <-c.background:
			case <-c.ctx.Done():
				c.drain()
				return
			}
		}
		if err := c.sem.Acquire(c.ctx, 1); err != nil {
			c.finish(p, &Result{Code: CodeCancelled, Err: err})
			c.drain()
			return
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			defer c.sem.Release(1)
			c.execute(p)
		}()
	}
}

func (c *Client) drain() {
	for {
		select {
		case p := <-c.interactive:
			c.finish(p, &Result{Code: CodeCancelled, Err: ErrStopped})
		case p := <-c.background:
			c.finish(p, &Result{Code: CodeCancelled, Err: ErrStopped})
		default:
			return
		}
	}
}

func (c *Client) execute(p *pending) {
	if err := p.ctx.Err(); err != nil {
		c.finish(p, &Result{Code: CodeCancelled, Err: err})
		return
	}
	req := p.req

	var body io.Reader
	size := int64(-1)
	switch {
	case req.BodyReader != nil:
		body = req.BodyReader
		size = req.BodySize
	case req.Body != nil:
		body = bytes.NewReader(req.Body)
		size = int64(len(req.Body))
	}
	if body != nil && req.Progress {
		body = &progressReader{r: body, ctx: p.ctx, total: size, report: c.reporter(p)}
	}

	httpReq, err := http.NewRequestWithContext(p.ctx, req.Method, req.URL, body)
	if err != nil {
		c.finish(p, &Result{Code: CodeTransportError, Err: fmt.Errorf("build request: %w", err)})
		return
	}
	if body != nil && size >= 0 {
		httpReq.ContentLength = size
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	if req.Token != "" {
		httpReq.Header.Set("Authorization", req.Token)
	}
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.finish(p, c.failure(p, err))
		return
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if req.Progress {
		reader = &progressReader{r: resp.Body, ctx: p.ctx, total: resp.ContentLength, report: c.reporter(p)}
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		c.finish(p, c.failure(p, err))
		return
	}
	c.finish(p, &Result{Code: resp.StatusCode, Body: data})
}

func (c *Client) failure(p *pending, err error) *Result {
	code := CodeTransportError
	if p.ctx.Err() != nil {
		code = CodeCancelled
	}
	return &Result{Code: code, Err: fmt.Errorf("%s %s: %w", p.req.Method, p.req.URL, err)}
}

func (c *Client) reporter(p *pending) func(done, total int64) {
	return func(done, total int64) {
		c.deliver(p, &Result{InProgress: true, BytesSoFar: done, BytesTotal: total})
	}
}

// finish removes p from the in-flight table and then runs its callback
// with the lock released, so callbacks may submit new requests.
func (c *Client) finish(p *pending, res *Result) {
	c.mu.Lock()
	delete(c.inflight, p.handle)
	c.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	c.deliver(p, res)
}

func (c *Client) deliver(p *pending, res *Result) {
	res.Handle = p.handle
	res.Context = p.req.Context
	res.URL = p.req.URL
	if p.req.Callback != nil {
		p.req.Callback(res)
	}
}
