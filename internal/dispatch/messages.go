package dispatch

import (
	"log/slog"

	"github.com/user/relaycord/internal/types"
	"github.com/user/relaycord/internal/wire"
)

func (r *Router) onMessageCreate(e *MessageCreate) {
	m := &e.Message
	r.handleMessage(m.ChannelID, m.ID, m.Author, m.Member, false, func(ch *types.ChannelRecord, g *types.GuildRecord) (*types.MessageRecord, bool) {
		rec := m.Record()
		rec.GuildID = g.ID
		if rec.Nonce != 0 && r.messages.Get(ch.ID, rec.Nonce) != nil {
			r.messages.ReplaceNonce(ch.ID, rec.Nonce, rec)
			r.obs.OnMessageDeleted(ch.ID, rec.Nonce)
			r.obs.OnMessageAdded(ch.ID, rec.ID)
			return rec, true
		}
		if held := r.messages.Get(ch.ID, rec.ID); held != nil && !held.IsGap() {
			return rec, false
		}
		// Unloaded channels keep no copy; the newest id seen stands in.
		if !r.messages.IsLoaded(ch.ID) && rec.ID == ch.LastSentID {
			return rec, false
		}
		if r.messages.AddLive(rec) {
			r.obs.OnMessageAdded(ch.ID, rec.ID)
		}
		return rec, true
	})
}

func (r *Router) onMessageUpdate(e *MessageUpdate) {
	u := &e.Update
	r.handleMessage(u.ChannelID, u.ID, u.Author, nil, true, func(ch *types.ChannelRecord, g *types.GuildRecord) (*types.MessageRecord, bool) {
		existing := r.messages.Get(ch.ID, u.ID)
		if existing == nil || existing.IsGap() {
			return nil, false
		}
		edited := *existing
		u.Apply(&edited)
		if !r.messages.Edit(&edited) {
			return nil, false
		}
		r.obs.OnMessageUpdated(ch.ID, u.ID)
		return &edited, false
	})
}

// handleMessage is shared by MESSAGE_CREATE and MESSAGE_UPDATE. store
// applies the payload to the message cache and returns the resulting
// record, or nil to drop the event, and whether the message is newly
// created. A create for an unknown channel and an update for a message
// never seen are both dropped. A create for a message already held counts
// no mention and raises no unread notification.
func (r *Router) handleMessage(channelID, messageID types.Snowflake, author *wire.User, member *wire.Member, isUpdate bool,
	store func(*types.ChannelRecord, *types.GuildRecord) (*types.MessageRecord, bool)) {
	ch, g := r.reg.Channel(channelID)
	if ch == nil {
		slog.Debug("dispatch message for unknown channel", "channel_id", channelID, "update", isUpdate)
		return
	}
	rec, created := store(ch, g)
	if rec == nil {
		slog.Debug("dispatch message update for unseen message", "channel_id", channelID, "message_id", messageID)
		return
	}

	if author != nil && author.Username != "" {
		r.profiles.LoadUser(author)
	}
	if member != nil && author != nil && g.ID != 0 {
		if member.User == nil && member.UserID == 0 {
			member.UserID = author.ID
		}
		r.profiles.LoadMember(g.ID, member, false)
	}

	ch.AdvanceLastSent(messageID)
	if !isUpdate && !created {
		slog.Debug("dispatch duplicate message create", "channel_id", channelID, "message_id", messageID)
		return
	}

	if rec.AuthorID != 0 && rec.AuthorID == r.self {
		if !isUpdate {
			ch.Acknowledge(messageID)
		}
		return
	}
	if !isUpdate && rec.MentionsUser(r.self, r.selfRoles(g.ID)) {
		ch.MentionCount++
	}
	if ch.ID == r.open {
		r.obs.OnAcknowledgeRequested(ch.ID, messageID)
		return
	}
	if !isUpdate {
		r.obs.OnChannelUnreadChanged(g.ID, ch.ID)
	}
}

func (r *Router) onMessageDelete(channelID, messageID types.Snowflake) {
	if r.messages.Delete(channelID, messageID) {
		r.obs.OnMessageDeleted(channelID, messageID)
	}
}

// onMessageAck moves a channel's read position when the ack is newer than
// every read-state already applied.
func (r *Router) onMessageAck(e *MessageAck) {
	if e.Version <= r.readVersion {
		slog.Debug("dispatch stale ack ignored", "channel_id", e.ChannelID, "version", e.Version, "applied", r.readVersion)
		return
	}
	r.readVersion = e.Version
	ch, g := r.reg.Channel(e.ChannelID)
	if ch == nil {
		return
	}
	ch.Acknowledge(e.MessageID)
	ch.MentionCount = e.MentionCount
	r.obs.OnChannelUnreadChanged(g.ID, ch.ID)
}

// SetOpenChannel records the channel being displayed and loads its first
// page of history if nothing is cached yet.
func (r *Router) SetOpenChannel(channelID types.Snowflake) {
	r.open = channelID
	if channelID == 0 {
		return
	}
	if !r.messages.IsLoaded(channelID) {
		r.FetchMessages(channelID)
	}
}
