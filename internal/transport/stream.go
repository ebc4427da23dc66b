package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	closeGrace = time.Second
)

// StreamID identifies an open stream.
type StreamID string

type StreamEventKind int

const (
	StreamOpened StreamEventKind = iota
	StreamMessage
	StreamClosed
	StreamFailed
)

func (k StreamEventKind) String() string {
	switch k {
	case StreamOpened:
		return "opened"
	case StreamMessage:
		return "message"
	case StreamClosed:
		return "closed"
	case StreamFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StreamEvent is delivered to a stream's handler. For StreamClosed, Code is
// the close code; StreamFailed always carries 1006 and the cause in Err.
type StreamEvent struct {
	Stream StreamID
	Kind   StreamEventKind
	Data   []byte
	Binary bool
	Code   int
	Err    error
}

// StreamHandler receives events for one stream, in order, on the stream's
// own goroutine. Exactly one terminal event (closed or failed) is delivered.
type StreamHandler func(StreamEvent)

type stream struct {
	id       StreamID
	handler  StreamHandler
	send     chan []byte
	closeReq chan int
	readDone chan struct{}
	limiter  *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	conn      *websocket.Conn
	localCode int
}

// ConnectStream dials uri in the background and returns immediately.
func (c *Client) ConnectStream(uri string, handler StreamHandler) StreamID {
	s := &stream{
		id:       StreamID(uuid.NewString()),
		handler:  handler,
		send:     make(chan []byte, 64),
		closeReq: make(chan int, 1),
		readDone: make(chan struct{}),
		limiter:  rate.NewLimiter(c.sendLimit, c.sendBurst),
	}

	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		go handler(StreamEvent{Stream: s.id, Kind: StreamFailed, Code: websocket.CloseAbnormalClosure, Err: ErrStopped})
		return s.id
	}
	s.ctx, s.cancel = context.WithCancel(c.ctx)
	c.streams[s.id] = s
	c.wg.Add(1)
	c.mu.Unlock()

	go c.runStream(s, uri)
	return s.id
}

// Send queues one text frame. Frames are written by a single writer in
// submission order, paced by the outbound rate limit.
func (c *Client) Send(id StreamID, data []byte) error {
	s := c.stream(id)
	if s == nil {
		return fmt.Errorf("unknown stream %s", id)
	}
	s.mu.Lock()
	open := s.conn != nil && s.localCode == 0
	s.mu.Unlock()
	if !open {
		return fmt.Errorf("stream %s is not open", id)
	}
	select {
	case s.send <- data:
		return nil
	default:
		return fmt.Errorf("stream %s send buffer full", id)
	}
}

// Close starts a graceful close with code. The handler's terminal event
// reports the same code.
func (c *Client) Close(id StreamID, code int) error {
	s := c.stream(id)
	if s == nil {
		return fmt.Errorf("unknown stream %s", id)
	}
	s.shutdown(code)
	return nil
}

func (c *Client) stream(id StreamID) *stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[id]
}

func (s *stream) shutdown(code int) {
	s.mu.Lock()
	if s.localCode != 0 {
		s.mu.Unlock()
		return
	}
	s.localCode = code
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		// Still dialing: abort the dial.
		s.cancel()
		return
	}
	select {
	case s.closeReq <- code:
	default:
	}
}

func (c *Client) runStream(s *stream, uri string) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		delete(c.streams, s.id)
		c.mu.Unlock()
		s.cancel()
	}()

	header := http.Header{}
	if c.userAgent != "" {
		header.Set("User-Agent", c.userAgent)
	}
	conn, _, err := c.dialer.DialContext(s.ctx, uri, header)
	if err != nil {
		s.terminate(fmt.Errorf("dial %s: %w", uri, err))
		return
	}

	s.mu.Lock()
	if s.localCode != 0 {
		code := s.localCode
		s.mu.Unlock()
		conn.Close()
		s.handler(StreamEvent{Stream: s.id, Kind: StreamClosed, Code: code})
		return
	}
	s.conn = conn
	s.mu.Unlock()

	s.handler(StreamEvent{Stream: s.id, Kind: StreamOpened})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		s.writePump(conn)
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			close(s.readDone)
			s.terminate(err)
			return
		}
		s.handler(StreamEvent{
			Stream: s.id,
			Kind:   StreamMessage,
			Data:   data,
			Binary: messageType == websocket.BinaryMessage,
		})
	}
}

// terminate reports the stream's single terminal event. A locally
// requested close wins over whatever the read error says. gorilla reports
// a dropped connection as a 1006 close error; that is a failure.
func (s *stream) terminate(err error) {
	s.mu.Lock()
	local := s.localCode
	s.mu.Unlock()

	var closeErr *websocket.CloseError
	switch {
	case local != 0:
		s.handler(StreamEvent{Stream: s.id, Kind: StreamClosed, Code: local})
	case errors.As(err, &closeErr) && closeErr.Code != websocket.CloseAbnormalClosure:
		s.handler(StreamEvent{Stream: s.id, Kind: StreamClosed, Code: closeErr.Code})
	default:
		slog.Debug("stream failed", "stream", string(s.id), "error", err)
		s.handler(StreamEvent{Stream: s.id, Kind: StreamFailed, Code: websocket.CloseAbnormalClosure, Err: err})
	}
}

func (s *stream) writePump(conn *websocket.Conn) {
	defer conn.Close()
	for {
		select {
		case data := <-s.send:
			if err := s.limiter.Wait(s.ctx); err != nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("stream write failed", "stream", string(s.id), "error", err)
				return
			}
		case code := <-s.closeReq:
			s.writeClose(conn, code)
			select {
			case <-s.readDone:
			case <-time.After(closeGrace):
			}
			return
		case <-s.readDone:
			return
		case <-s.ctx.Done():
			select {
			case code := <-s.closeReq:
				s.writeClose(conn, code)
			default:
			}
			return
		}
	}
}

func (s *stream) writeClose(conn *websocket.Conn, code int) {
	msg := websocket.FormatCloseMessage(code, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		slog.Debug("stream close write failed", "stream", string(s.id), "error", err)
	}
}
