// Package upload sends file attachments: it asks the API for upload
// coordinates, streams the bytes to the returned URL and finally creates
// the message that references the uploaded file.
package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/user/relaycord/internal/dispatch"
	"github.com/user/relaycord/internal/loop"
	"github.com/user/relaycord/internal/transport"
	"github.com/user/relaycord/internal/types"
)

// State is the position of one attachment in the pipeline.
type State int

const (
	Requested State = iota
	AwaitingUploadURL
	Uploading
	Finalizing
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Requested:
		return "requested"
	case AwaitingUploadURL:
		return "awaiting_upload_url"
	case Uploading:
		return "uploading"
	case Finalizing:
		return "finalizing"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MessageCreator is the part of the dispatch router the pipeline needs.
// Submit attaches the session token and completes on the processing
// context.
type MessageCreator interface {
	URL(path string, query url.Values) string
	Submit(req *transport.Request, done func(*transport.Result)) transport.Handle
	CreateMessage(d dispatch.Draft) types.Snowflake
}

// Requester submits raw requests. Uploads to the storage URL go through it
// without the session token.
type Requester interface {
	Submit(req *transport.Request) transport.Handle
}

// File is one attachment to send. Body is read once, during the upload.
type File struct {
	Name string
	Size int64
	Body io.Reader
}

// Request describes a message carrying one attachment.
type Request struct {
	ChannelID types.Snowflake
	Content   string
	ReplyTo   types.Snowflake
	File      File
}

// Pending is an attachment between its first request and the message that
// references it.
type Pending struct {
	ID        string
	ChannelID types.Snowflake
	Nonce     types.Snowflake
	FileName  string
	Size      int64
	Content   string
	ReplyTo   types.Snowflake

	// Populated from the coordinates response.
	UploadURL      string
	UploadFilename string

	State     State
	BytesSent int64

	body   io.Reader
	ctx    context.Context
	cancel context.CancelFunc
}

type Config struct {
	Router   MessageCreator
	REST     Requester
	Executor loop.Executor
	Observer types.Observer
	Clock    clock.Clock
	Nonces   *types.NonceSource
}

// Pipeline tracks every attachment in flight. All methods must run on the
// processing context.
type Pipeline struct {
	router  MessageCreator
	rest    Requester
	exec    loop.Executor
	obs     types.Observer
	clock   clock.Clock
	nonces  *types.NonceSource
	pending map[string]*Pending
}

func New(cfg Config) *Pipeline {
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
	return &Pipeline{
		router:  cfg.Router,
		rest:    cfg.REST,
		exec:    cfg.Executor,
		obs:     cfg.Observer,
		clock:   cfg.Clock,
		nonces:  cfg.Nonces,
		pending: make(map[string]*Pending),
	}
}

type coordinatesRequest struct {
	Files []fileSlot `json:"files"`
}

type fileSlot struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	FileSize int64  `json:"file_size"`
}

type coordinatesResponse struct {
	Attachments []struct {
		ID             json.RawMessage `json:"id"`
		UploadURL      string          `json:"upload_url"`
		UploadFilename string          `json:"upload_filename"`
	} `json:"attachments"`
}

// Send reserves a local attachment id, registers the upload and asks for
// upload coordinates. It returns the attachment id.
func (p *Pipeline) Send(req Request) string {
	ctx, cancel := context.WithCancel(context.Background())
	u := &Pending{
		ID:        uuid.NewString(),
		ChannelID: req.ChannelID,
		Nonce:     p.nonces.Next(p.clock.Now()),
		FileName:  req.File.Name,
		Size:      req.File.Size,
		Content:   req.Content,
		ReplyTo:   req.ReplyTo,
		State:     Requested,
		body:      req.File.Body,
		ctx:       ctx,
		cancel:    cancel,
	}
	p.pending[u.ID] = u
	slog.Info("upload requested", "id", u.ID, "channel_id", u.ChannelID, "file", u.FileName, "size", humanize.Bytes(uint64(max(u.Size, 0))))

	body, err := json.Marshal(coordinatesRequest{Files: []fileSlot{{ID: u.ID, Filename: u.FileName, FileSize: u.Size}}})
	if err != nil {
		p.fail(u, transport.CodeTransportError, err)
		return u.ID
	}
	u.State = AwaitingUploadURL
	p.router.Submit(&transport.Request{
		Method:      http.MethodPost,
		URL:         p.router.URL(fmt.Sprintf("channels/%s/attachments", u.ChannelID), nil),
		Body:        body,
		ContentType: "application/json",
		Interactive: true,
		Ctx:         ctx,
	}, func(res *transport.Result) { p.onCoordinates(u, res) })
	return u.ID
}

func (p *Pipeline) onCoordinates(u *Pending, res *transport.Result) {
	if !p.live(u) {
		return
	}
	if !res.OK() {
		p.fail(u, res.Code, res.Error())
		return
	}
	var resp coordinatesResponse
	if err := json.Unmarshal(res.Body, &resp); err != nil {
		p.fail(u, transport.CodeTransportError, fmt.Errorf("decode upload coordinates: %w", err))
		return
	}
	for _, a := range resp.Attachments {
		// The id is echoed as sent, or as a slot index by older servers.
		if strings.Trim(string(a.ID), `"`) == u.ID || len(resp.Attachments) == 1 {
			u.UploadURL, u.UploadFilename = a.UploadURL, a.UploadFilename
			break
		}
	}
	if u.UploadURL == "" || u.UploadFilename == "" {
		p.fail(u, transport.CodeTransportError, fmt.Errorf("no upload coordinates for %s", u.FileName))
		return
	}

	u.State = Uploading
	slog.Debug("upload started", "id", u.ID, "file", u.FileName)
	p.rest.Submit(&transport.Request{
		Method:      http.MethodPut,
		URL:         u.UploadURL,
		BodyReader:  u.body,
		BodySize:    u.Size,
		ContentType: "application/octet-stream",
		Progress:    true,
		Ctx:         u.ctx,
		Callback: func(res *transport.Result) {
			if !p.exec.Post(func() { p.onUpload(u, res) }) {
				slog.Debug("upload completion dropped, loop stopped", "id", u.ID)
			}
		},
	})
}

func (p *Pipeline) onUpload(u *Pending, res *transport.Result) {
	if !p.live(u) {
		return
	}
	if res.InProgress {
		// Response body progress is reported too; only the request body counts.
		if u.Size <= 0 || res.BytesTotal == u.Size {
			u.BytesSent = res.BytesSoFar
		}
		return
	}
	if !res.OK() {
		p.fail(u, res.Code, res.Error())
		return
	}

	u.State = Finalizing
	p.router.CreateMessage(dispatch.Draft{
		ChannelID: u.ChannelID,
		Content:   u.Content,
		ReplyTo:   u.ReplyTo,
		Nonce:     u.Nonce,
		Attachments: []dispatch.DraftAttachment{{
			ID:               u.ID,
			Filename:         u.FileName,
			UploadedFilename: u.UploadFilename,
		}},
	})
	u.State = Done
	slog.Info("upload finished", "id", u.ID, "file", u.FileName, "size", humanize.Bytes(uint64(max(u.Size, 0))))
	p.remove(u)
}

// Cancel aborts an attachment that has not reached message creation. An
// upload in progress stops at its next chunk.
func (p *Pipeline) Cancel(id string) bool {
	u, ok := p.pending[id]
	if !ok {
		return false
	}
	p.fail(u, transport.CodeCancelled, context.Canceled)
	return true
}

// CancelAll aborts every attachment in flight.
func (p *Pipeline) CancelAll() {
	for _, u := range p.pending {
		p.fail(u, transport.CodeCancelled, context.Canceled)
	}
}

// Get returns the attachment with the given id while it is in flight.
func (p *Pipeline) Get(id string) *Pending {
	return p.pending[id]
}

// Len returns the number of attachments in flight.
func (p *Pipeline) Len() int {
	return len(p.pending)
}

func (p *Pipeline) live(u *Pending) bool {
	cur, ok := p.pending[u.ID]
	return ok && cur == u
}

func (p *Pipeline) fail(u *Pending, code int, err error) {
	u.State = Failed
	if !p.remove(u) {
		return
	}
	slog.Warn("upload failed", "id", u.ID, "file", u.FileName, "code", code, "error", err)
	p.obs.OnUploadFailed(u.FileName, code)
}

// remove discards u and reports whether it was still registered, so each
// upload is discarded exactly once.
func (p *Pipeline) remove(u *Pending) bool {
	if !p.live(u) {
		return false
	}
	delete(p.pending, u.ID)
	u.cancel()
	return true
}
