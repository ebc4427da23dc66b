package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/user/relaycord/internal/cache"
	"github.com/user/relaycord/internal/gateway"
	"github.com/user/relaycord/internal/transport"
	"github.com/user/relaycord/internal/types"
	"github.com/user/relaycord/internal/wire"
)

type historyKey struct {
	channel types.Snowflake
	gap     types.Snowflake
}

// Draft is a message about to be created.
type Draft struct {
	ChannelID   types.Snowflake
	Content     string
	ReplyTo     types.Snowflake
	Attachments []DraftAttachment
	// Nonce keys the local pending entry; zero mints a fresh one.
	Nonce types.Snowflake
}

// DraftAttachment references a file already uploaded to the attachment
// store under UploadedFilename.
type DraftAttachment struct {
	ID               string `json:"id"`
	Filename         string `json:"filename"`
	UploadedFilename string `json:"uploaded_filename"`
}

type createMessageBody struct {
	Content          string                 `json:"content"`
	Nonce            string                 `json:"nonce"`
	TTS              bool                   `json:"tts"`
	Attachments      []DraftAttachment      `json:"attachments,omitempty"`
	MessageReference *wire.MessageReference `json:"message_reference,omitempty"`
}

// URL joins a resource path onto the API base.
func (r *Router) URL(path string, query url.Values) string {
	u := strings.TrimRight(r.api, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// Submit sends req with the session token and runs done on the processing
// context with the final result. Progress results are not forwarded.
func (r *Router) Submit(req *transport.Request, done func(*transport.Result)) transport.Handle {
	req.Token = r.token
	req.Callback = func(res *transport.Result) {
		if res.InProgress {
			return
		}
		r.post(func() { done(res) })
	}
	return r.rest.Submit(req)
}

func jsonRequest(method, u string, body any) (*transport.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s %s: %w", method, u, err)
	}
	return &transport.Request{Method: method, URL: u, Body: data, ContentType: "application/json"}, nil
}

// ReportError routes a failed result: 401 logs the user out, absorbed
// statuses are dropped silently and everything else reaches the observer
// verbatim.
func (r *Router) ReportError(res *transport.Result, absorbed ...int) {
	err := res.Error()
	if err == nil {
		return
	}
	for _, code := range absorbed {
		if res.Code == code {
			slog.Debug("request failed", "url", res.URL, "code", res.Code, "error", err)
			return
		}
	}
	if res.Code == http.StatusUnauthorized {
		slog.Warn("request unauthorized, logging out", "url", res.URL)
		r.obs.OnLoggedOut()
		return
	}
	slog.Warn("request failed", "url", res.URL, "code", res.Code, "error", err)
	r.obs.OnRequestError(res.Code, errorMessage(err), res.URL)
}

func errorMessage(err error) string {
	var apiErr *transport.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

// FetchMessages loads the newest page of a channel.
func (r *Router) FetchMessages(channelID types.Snowflake) bool {
	return r.fetchHistory(channelID, cache.Before, 0, 0)
}

// FetchAround loads the page centred on messageID.
func (r *Router) FetchAround(channelID, messageID types.Snowflake) bool {
	return r.fetchHistory(channelID, cache.Around, messageID, 0)
}

// ResolveGap loads the page that replaces a gap marker. It reports false
// when gapID is not a gap or a request for it is already outstanding.
func (r *Router) ResolveGap(channelID, gapID types.Snowflake) bool {
	gap := r.messages.Get(channelID, gapID)
	if gap == nil || !gap.IsGap() {
		return false
	}
	dir := cache.Before
	if gap.GapDir == types.GapAfter {
		dir = cache.After
	}
	return r.fetchHistory(channelID, dir, gap.Anchor, gapID)
}

// LoadOlder resolves the oldest gap of a channel, if any.
func (r *Router) LoadOlder(channelID types.Snowflake) bool {
	for _, gap := range r.messages.Gaps(channelID) {
		if gap.GapDir == types.GapBefore {
			return r.ResolveGap(channelID, gap.ID)
		}
	}
	return false
}

func (r *Router) fetchHistory(channelID types.Snowflake, dir cache.Direction, cursor, gapID types.Snowflake) bool {
	key := historyKey{channelID, gapID}
	if _, busy := r.history[key]; busy {
		return false
	}
	r.history[key] = struct{}{}

	q := url.Values{"limit": {strconv.Itoa(r.pageSize)}}
	if cursor != 0 {
		switch dir {
		case cache.Before:
			q.Set("before", cursor.String())
		case cache.After:
			q.Set("after", cursor.String())
		case cache.Around:
			q.Set("around", cursor.String())
		}
	}
	req := &transport.Request{
		Method:      http.MethodGet,
		URL:         r.URL(fmt.Sprintf("channels/%s/messages", channelID), q),
		Interactive: true,
	}
	r.Submit(req, func(res *transport.Result) {
		delete(r.history, key)
		r.onHistory(channelID, dir, gapID, res)
	})
	return true
}

func (r *Router) onHistory(channelID types.Snowflake, dir cache.Direction, gapID types.Snowflake, res *transport.Result) {
	if !res.OK() {
		r.ReportError(res, http.StatusForbidden)
		return
	}
	ch, g := r.reg.Channel(channelID)
	if ch == nil {
		slog.Debug("history for vanished channel dropped", "channel_id", channelID)
		return
	}
	var page []wire.Message
	if err := json.Unmarshal(res.Body, &page); err != nil {
		slog.Warn("history decode failed", "channel_id", channelID, "error", err)
		return
	}
	records := make([]*types.MessageRecord, 0, len(page))
	for i := range page {
		m := &page[i]
		if m.Author != nil {
			r.profiles.LoadUser(m.Author)
			if m.Member != nil && g.ID != 0 {
				m.Member.UserID = m.Author.ID
				r.profiles.LoadMember(g.ID, m.Member, false)
			}
		}
		rec := m.Record()
		rec.GuildID = g.ID
		records = append(records, rec)
	}
	inserted := r.messages.ProcessPaginationResult(channelID, dir, gapID, records, r.pageSize)
	slog.Debug("history loaded", "channel_id", channelID, "direction", dir.String(), "page", len(records), "new", inserted)
	r.obs.OnMessagesLoaded(channelID)
}

// SendMessage creates a plain text message and returns its nonce.
func (r *Router) SendMessage(channelID types.Snowflake, content string, replyTo types.Snowflake) types.Snowflake {
	return r.CreateMessage(Draft{ChannelID: channelID, Content: content, ReplyTo: replyTo})
}

// CreateMessage shows a pending entry keyed by the nonce immediately and
// posts the message. The server's copy replaces the entry, from the REST
// response or the gateway echo, whichever comes first. A failure turns the
// entry into a failed one carrying the reason.
func (r *Router) CreateMessage(d Draft) types.Snowflake {
	now := r.clock.Now()
	nonce := d.Nonce
	if nonce == 0 {
		nonce = r.nonces.Next(now)
	}
	var guildID types.Snowflake
	if _, g := r.reg.Channel(d.ChannelID); g != nil {
		guildID = g.ID
	}

	pending := &types.MessageRecord{
		ID:        nonce,
		ChannelID: d.ChannelID,
		GuildID:   guildID,
		AuthorID:  r.self,
		Kind:      types.KindPending,
		Content:   d.Content,
		Created:   now,
		Nonce:     nonce,
	}
	body := createMessageBody{Content: d.Content, Nonce: nonce.String(), Attachments: d.Attachments}
	if d.ReplyTo != 0 {
		pending.Reference = &types.MessageReference{MessageID: d.ReplyTo, ChannelID: d.ChannelID, GuildID: guildID}
		pending.Referenced = r.messages.Get(d.ChannelID, d.ReplyTo)
		body.MessageReference = &wire.MessageReference{MessageID: d.ReplyTo, ChannelID: d.ChannelID, GuildID: guildID}
	}
	for _, a := range d.Attachments {
		pending.Attachments = append(pending.Attachments, types.Attachment{Filename: a.Filename})
	}
	r.messages.Insert(pending)
	r.obs.OnMessageAdded(d.ChannelID, nonce)

	req, err := jsonRequest(http.MethodPost, r.URL(fmt.Sprintf("channels/%s/messages", d.ChannelID), nil), body)
	if err != nil {
		r.failPending(pending, err.Error())
		return nonce
	}
	req.Interactive = true
	r.Submit(req, func(res *transport.Result) { r.onMessageSent(pending, res) })
	return nonce
}

func (r *Router) onMessageSent(pending *types.MessageRecord, res *transport.Result) {
	channelID := pending.ChannelID
	if !res.OK() {
		reason := "Message could not be delivered."
		if res.Code == http.StatusForbidden {
			reason = "Message could not be delivered: you do not have permission to send messages here."
		} else if err := res.Error(); err != nil {
			reason = "Message could not be delivered: " + errorMessage(err)
		}
		r.failPending(pending, reason)
		r.ReportError(res, http.StatusForbidden)
		return
	}

	var m wire.Message
	if err := json.Unmarshal(res.Body, &m); err != nil || m.ID == 0 {
		slog.Warn("sent message decode failed", "channel_id", channelID, "error", err)
		return
	}
	rec := m.Record()
	rec.GuildID = pending.GuildID
	if r.messages.Get(channelID, pending.ID) != nil {
		r.messages.ReplaceNonce(channelID, pending.ID, rec)
		r.obs.OnMessageDeleted(channelID, pending.ID)
		r.obs.OnMessageAdded(channelID, rec.ID)
	}
	if ch, _ := r.reg.Channel(channelID); ch != nil {
		ch.AdvanceLastSent(rec.ID)
		ch.Acknowledge(rec.ID)
	}
}

func (r *Router) failPending(pending *types.MessageRecord, reason string) {
	if existing := r.messages.Get(pending.ChannelID, pending.ID); existing == nil || existing.Kind != types.KindPending {
		return
	}
	failed := *pending
	failed.Kind = types.KindFailed
	failed.Failure = reason
	r.messages.Insert(&failed)
	r.obs.OnMessageUpdated(pending.ChannelID, pending.ID)
}

// DiscardFailed removes a failed entry, as when the user retries or
// dismisses it.
func (r *Router) DiscardFailed(channelID, nonce types.Snowflake) bool {
	m := r.messages.Get(channelID, nonce)
	if m == nil || m.Kind != types.KindFailed {
		return false
	}
	r.messages.Delete(channelID, nonce)
	r.obs.OnMessageDeleted(channelID, nonce)
	return true
}

// AckMessage marks messageID read locally and tells the server.
func (r *Router) AckMessage(channelID, messageID types.Snowflake) {
	ch, g := r.reg.Channel(channelID)
	if ch == nil || messageID == 0 {
		return
	}
	ch.Acknowledge(messageID)
	ch.MentionCount = 0
	r.obs.OnChannelUnreadChanged(g.ID, ch.ID)

	req, err := jsonRequest(http.MethodPost,
		r.URL(fmt.Sprintf("channels/%s/messages/%s/ack", channelID, messageID), nil),
		map[string]any{"token": nil})
	if err != nil {
		slog.Warn("ack encode failed", "error", err)
		return
	}
	r.Submit(req, func(res *transport.Result) {
		if !res.OK() {
			r.ReportError(res, http.StatusForbidden, http.StatusNotFound)
		}
	})
}

// FetchProfile implements cache.Fetcher. Inside a guild the member is
// requested over the gateway; otherwise, or when that is impossible, the
// profile endpoint is used.
func (r *Router) FetchProfile(userID types.Snowflake) {
	guildID := r.reg.Current()
	if guildID != 0 && r.gw != nil && !r.memberKnownMissing(userID, guildID) {
		err := r.gw.Send(gateway.OpRequestGuildMembers, gateway.RequestGuildMembers{
			GuildID: guildID.String(),
			UserIDs: []string{userID.String()},
		})
		if err == nil {
			return
		}
		slog.Debug("member request over gateway failed, using REST", "user_id", userID, "error", err)
	}

	q := url.Values{"with_mutual_guilds": {"false"}}
	if guildID != 0 {
		q.Set("guild_id", guildID.String())
	}
	req := &transport.Request{
		Method: http.MethodGet,
		URL:    r.URL(fmt.Sprintf("users/%s/profile", userID), q),
	}
	r.Submit(req, func(res *transport.Result) { r.onProfile(userID, guildID, res) })
}

func (r *Router) memberKnownMissing(userID, guildID types.Snowflake) bool {
	p := r.profiles.Get(userID)
	if p == nil {
		return false
	}
	m, ok := p.Memberships[guildID]
	return ok && m.NotFound
}

func (r *Router) onProfile(userID, guildID types.Snowflake, res *transport.Result) {
	switch {
	case res.Code == http.StatusNotFound || res.Code == http.StatusForbidden:
		r.profiles.ProfileDoesNotExist(userID, guildID)
		r.obs.OnProfileChanged(userID, guildID)
		return
	case !res.OK():
		r.profiles.FetchFailed(userID)
		r.ReportError(res)
		return
	}
	if _, err := r.profiles.Load(userID, res.Body); err != nil {
		slog.Warn("profile decode failed", "user_id", userID, "error", err)
		r.profiles.FetchFailed(userID)
		return
	}
	if guildID != 0 {
		var extra struct {
			GuildMember *wire.Member `json:"guild_member"`
		}
		if json.Unmarshal(res.Body, &extra) == nil && extra.GuildMember != nil {
			extra.GuildMember.UserID = userID
			r.profiles.LoadMember(guildID, extra.GuildMember, false)
		}
	}
	r.obs.OnProfileChanged(userID, guildID)
}
