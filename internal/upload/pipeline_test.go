package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/user/relaycord/internal/cache"
	"github.com/user/relaycord/internal/dispatch"
	"github.com/user/relaycord/internal/loop"
	"github.com/user/relaycord/internal/transport"
	"github.com/user/relaycord/internal/types"
)

type failure struct {
	file string
	code int
}

type uploadObserver struct {
	types.NopObserver
	failures []failure
}

func (o *uploadObserver) OnUploadFailed(file string, code int) {
	o.failures = append(o.failures, failure{file, code})
}

// storage plays both the API and the attachment store.
type storage struct {
	mu            sync.Mutex
	coordsStatus  int
	coordsBody    string
	coordsRelease chan struct{}
	putStatus     int
	requested     []fileSlot
	uploaded      []byte
	putAuth       string
	puts          int
	messages      []map[string]any
}

func (s *storage) handler(base *string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v9/channels/100/attachments", func(w http.ResponseWriter, r *http.Request) {
		if s.coordsRelease != nil {
			select {
			case <-s.coordsRelease:
			case <-r.Context().Done():
				return
			}
		}
		var req coordinatesRequest
		json.NewDecoder(r.Body).Decode(&req)
		s.mu.Lock()
		s.requested = append(s.requested, req.Files...)
		status, body := s.coordsStatus, s.coordsBody
		s.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
			w.Write([]byte(body))
			return
		}
		id := ""
		if len(req.Files) > 0 {
			id = req.Files[0].ID
		}
		fmt.Fprintf(w, `{"attachments": [{"id": %q, "upload_url": "%s/storage/abc", "upload_filename": "uploads/abc/photo.png"}]}`, id, *base)
	})
	mux.HandleFunc("PUT /storage/abc", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.puts++
		s.uploaded = data
		s.putAuth = r.Header.Get("Authorization")
		status := s.putStatus
		s.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
		}
	})
	mux.HandleFunc("POST /api/v9/channels/100/messages", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.messages = append(s.messages, body)
		s.mu.Unlock()
		fmt.Fprintf(w, `{"id": "900", "channel_id": "100", "author": {"id": "1", "username": "me"}, "nonce": %q,
			"attachments": [{"id": "1", "filename": "photo.png", "size": 3}]}`, body["nonce"])
	})
	return mux
}

type harness struct {
	lp       *loop.Loop
	store    *storage
	obs      *uploadObserver
	messages *cache.MessageCache
	router   *dispatch.Router
	p        *Pipeline
}

func newHarness(t *testing.T, store *storage) *harness {
	t.Helper()
	var base string
	srv := httptest.NewServer(store.handler(&base))
	t.Cleanup(srv.Close)
	base = srv.URL

	ctx, cancel := context.WithCancel(context.Background())
	lp := loop.New()
	go lp.Run(ctx)
	tc := transport.New(transport.Options{})
	tc.Start(ctx)
	t.Cleanup(func() {
		tc.Stop()
		cancel()
		<-lp.Done()
	})

	h := &harness{lp: lp, store: store, obs: &uploadObserver{}, messages: cache.NewMessageCache()}
	nonces := &types.NonceSource{}
	h.router = dispatch.New(dispatch.Config{
		APIBase:  srv.URL + "/api/v9",
		Token:    "tok",
		Registry: cache.NewRegistry(),
		Profiles: cache.NewProfileCache(nil),
		Messages: h.messages,
		Observer: h.obs,
		REST:     tc,
		Executor: lp,
		Nonces:   nonces,
	})
	h.p = New(Config{Router: h.router, REST: tc, Executor: lp, Observer: h.obs, Nonces: nonces})
	return h
}

func (h *harness) do(t *testing.T, fn func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.lp.Do(ctx, fn); err != nil {
		t.Fatalf("loop: %v", err)
	}
}

func (h *harness) waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var ok bool
		h.do(t, func() { ok = cond() })
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) send(t *testing.T, data []byte) string {
	t.Helper()
	var id string
	h.do(t, func() {
		id = h.p.Send(Request{
			ChannelID: 100,
			Content:   "look",
			File:      File{Name: "photo.png", Size: int64(len(data)), Body: bytes.NewReader(data)},
		})
	})
	return id
}

func TestUploadCreatesMessage(t *testing.T) {
	h := newHarness(t, &storage{})
	data := bytes.Repeat([]byte("relaycord"), 20000)

	id := h.send(t, data)
	h.waitFor(t, "server message", func() bool { return h.messages.Get(100, 900) != nil })

	h.do(t, func() {
		if h.p.Len() != 0 || h.p.Get(id) != nil {
			t.Errorf("expected upload discarded, %d left", h.p.Len())
		}
		if len(h.obs.failures) != 0 {
			t.Errorf("unexpected failures %v", h.obs.failures)
		}
	})

	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if len(h.store.requested) != 1 || h.store.requested[0].ID != id || h.store.requested[0].FileSize != int64(len(data)) {
		t.Errorf("unexpected coordinate request %+v", h.store.requested)
	}
	if !bytes.Equal(h.store.uploaded, data) {
		t.Errorf("uploaded %d bytes, expected %d", len(h.store.uploaded), len(data))
	}
	if h.store.putAuth != "" {
		t.Error("the storage upload must not carry the session token")
	}
	if len(h.store.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(h.store.messages))
	}
	msg := h.store.messages[0]
	atts, _ := msg["attachments"].([]any)
	if msg["content"] != "look" || len(atts) != 1 {
		t.Fatalf("unexpected message body %v", msg)
	}
	att := atts[0].(map[string]any)
	if att["uploaded_filename"] != "uploads/abc/photo.png" || att["filename"] != "photo.png" || att["id"] != id {
		t.Errorf("unexpected attachment %v", att)
	}
}

func TestUploadCoordinatesFailure(t *testing.T) {
	h := newHarness(t, &storage{coordsStatus: http.StatusForbidden, coordsBody: `{"code": 50013, "message": "Missing Permissions"}`})

	h.send(t, []byte("abc"))
	h.waitFor(t, "failure report", func() bool { return len(h.obs.failures) > 0 })

	h.do(t, func() {
		if len(h.obs.failures) != 1 || h.obs.failures[0] != (failure{"photo.png", 403}) {
			t.Errorf("unexpected failures %v", h.obs.failures)
		}
		if h.p.Len() != 0 {
			t.Error("failed upload should be discarded")
		}
	})
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if h.store.puts != 0 || len(h.store.messages) != 0 {
		t.Errorf("nothing should follow a failed request: %d puts, %d messages", h.store.puts, len(h.store.messages))
	}
}

func TestUploadMissingCoordinates(t *testing.T) {
	h := newHarness(t, &storage{coordsStatus: http.StatusOK, coordsBody: `{"attachments": []}`})

	h.send(t, []byte("abc"))
	h.waitFor(t, "failure report", func() bool { return len(h.obs.failures) > 0 })
	h.do(t, func() {
		if h.obs.failures[0].code != transport.CodeTransportError {
			t.Errorf("unexpected failure %v", h.obs.failures[0])
		}
	})
}

func TestUploadStorageFailure(t *testing.T) {
	h := newHarness(t, &storage{putStatus: http.StatusInternalServerError})

	h.send(t, []byte("abc"))
	h.waitFor(t, "failure report", func() bool { return len(h.obs.failures) > 0 })

	h.do(t, func() {
		if len(h.obs.failures) != 1 || h.obs.failures[0] != (failure{"photo.png", 500}) {
			t.Errorf("unexpected failures %v", h.obs.failures)
		}
		if h.p.Len() != 0 {
			t.Error("failed upload should be discarded")
		}
	})
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if len(h.store.messages) != 0 {
		t.Error("no message may reference a failed upload")
	}
}

func TestUploadCancelReportsOnce(t *testing.T) {
	store := &storage{coordsRelease: make(chan struct{})}
	h := newHarness(t, store)

	id := h.send(t, []byte("abc"))
	h.do(t, func() {
		if u := h.p.Get(id); u == nil || u.State != AwaitingUploadURL {
			t.Fatalf("expected upload awaiting coordinates, got %+v", u)
		}
		if !h.p.Cancel(id) {
			t.Error("cancel should find the upload")
		}
		if h.p.Cancel(id) {
			t.Error("a second cancel should find nothing")
		}
		h.p.CancelAll()
	})
	close(store.coordsRelease)

	// Let the cancelled request complete before checking for stray reports.
	time.Sleep(50 * time.Millisecond)
	h.do(t, func() {
		if len(h.obs.failures) != 1 || h.obs.failures[0] != (failure{"photo.png", transport.CodeCancelled}) {
			t.Errorf("expected exactly one cancellation report, got %v", h.obs.failures)
		}
	})
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.puts != 0 {
		t.Error("a cancelled upload must not reach storage")
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{Requested: "requested", Uploading: "uploading", Failed: "failed", State(42): "state(42)"} {
		if got := s.String(); got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	}
}
