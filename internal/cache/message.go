package cache

import (
	"sort"

	"github.com/user/relaycord/internal/types"
)

// Direction is the scroll direction of a history page.
type Direction int

const (
	// Before fetches older messages. A page requested without a cursor
	// (the newest messages) is a Before page too.
	Before Direction = iota
	After
	Around
)

func (d Direction) String() string {
	switch d {
	case Before:
		return "before"
	case After:
		return "after"
	case Around:
		return "around"
	default:
		return "unknown"
	}
}

type channelMessages struct {
	ids    []types.Snowflake
	byID   map[types.Snowflake]*types.MessageRecord
	loaded bool
}

func (cm *channelMessages) index(id types.Snowflake) (int, bool) {
	i := sort.Search(len(cm.ids), func(i int) bool { return cm.ids[i] >= id })
	return i, i < len(cm.ids) && cm.ids[i] == id
}

func (cm *channelMessages) put(msg *types.MessageRecord) {
	i, found := cm.index(msg.ID)
	if !found {
		cm.ids = append(cm.ids, 0)
		copy(cm.ids[i+1:], cm.ids[i:])
		cm.ids[i] = msg.ID
	}
	cm.byID[msg.ID] = msg
}

func (cm *channelMessages) remove(id types.Snowflake) bool {
	i, found := cm.index(id)
	if !found {
		return false
	}
	cm.ids = append(cm.ids[:i], cm.ids[i+1:]...)
	delete(cm.byID, id)
	return true
}

// shiftGap re-places gap after a real message took its key. Gap keys sit
// next to their anchor, so the message that took the key is adjacent to the
// anchor and the unresolved history now starts beyond that message. Runs of
// adjacent real messages are skipped the same way.
func (cm *channelMessages) shiftGap(gap *types.MessageRecord, taken types.Snowflake) {
	anchor := taken
	for {
		key := anchor + 1
		if gap.GapDir == types.GapBefore {
			if anchor <= 1 {
				return
			}
			key = anchor - 1
		}
		existing, ok := cm.byID[key]
		if !ok {
			moved := *gap
			moved.ID = key
			moved.Anchor = anchor
			cm.put(&moved)
			return
		}
		if existing.IsGap() {
			return
		}
		anchor = key
	}
}

// MessageCache stores one id-ordered message map per channel.
type MessageCache struct {
	channels map[types.Snowflake]*channelMessages
}

func NewMessageCache() *MessageCache {
	return &MessageCache{channels: make(map[types.Snowflake]*channelMessages)}
}

func (c *MessageCache) channel(id types.Snowflake) *channelMessages {
	cm, ok := c.channels[id]
	if !ok {
		cm = &channelMessages{byID: make(map[types.Snowflake]*types.MessageRecord)}
		c.channels[id] = cm
	}
	return cm
}

// IsLoaded reports whether any history page has been applied to the channel.
func (c *MessageCache) IsLoaded(channelID types.Snowflake) bool {
	cm, ok := c.channels[channelID]
	return ok && cm.loaded
}

// Messages returns the channel's entries, gaps included, oldest first.
func (c *MessageCache) Messages(channelID types.Snowflake) []*types.MessageRecord {
	cm, ok := c.channels[channelID]
	if !ok {
		return nil
	}
	out := make([]*types.MessageRecord, len(cm.ids))
	for i, id := range cm.ids {
		out[i] = cm.byID[id]
	}
	return out
}

// Get returns one entry or nil.
func (c *MessageCache) Get(channelID, id types.Snowflake) *types.MessageRecord {
	cm, ok := c.channels[channelID]
	if !ok {
		return nil
	}
	return cm.byID[id]
}

// Gaps returns the channel's gap markers, oldest first.
func (c *MessageCache) Gaps(channelID types.Snowflake) []*types.MessageRecord {
	var gaps []*types.MessageRecord
	for _, m := range c.Messages(channelID) {
		if m.IsGap() {
			gaps = append(gaps, m)
		}
	}
	return gaps
}

// Insert stores msg, replacing an entry with the same id, and reports
// whether the id was not already held by a real message.
// A real message landing on a gap's key pushes the gap past it.
func (c *MessageCache) Insert(msg *types.MessageRecord) bool {
	cm := c.channel(msg.ChannelID)
	existing, ok := cm.byID[msg.ID]
	cm.put(msg)
	if ok && existing.IsGap() && !msg.IsGap() {
		cm.shiftGap(existing, msg.ID)
	}
	return !ok || existing.IsGap()
}

// AddLive stores a message that arrived in real time. Channels whose
// history was never loaded are left alone: the message is fetched with the
// first page instead of becoming an island.
func (c *MessageCache) AddLive(msg *types.MessageRecord) bool {
	if !c.IsLoaded(msg.ChannelID) {
		return false
	}
	return c.Insert(msg)
}

// Delete removes a message and reports whether it was present.
func (c *MessageCache) Delete(channelID, id types.Snowflake) bool {
	cm, ok := c.channels[channelID]
	if !ok {
		return false
	}
	return cm.remove(id)
}

// Edit replaces an existing message. A replacement that lost its copy of
// the referenced message keeps the old one, and the reply-mention flag is
// recomputed from the edited mention list. Editing an unknown id is a no-op.
func (c *MessageCache) Edit(msg *types.MessageRecord) bool {
	cm, ok := c.channels[msg.ChannelID]
	if !ok {
		return false
	}
	existing, ok := cm.byID[msg.ID]
	if !ok || existing.IsGap() {
		return false
	}
	if msg.Referenced == nil && msg.Reference != nil {
		msg.Referenced = existing.Referenced
	}
	msg.RecomputeReplyMention()
	cm.byID[msg.ID] = msg
	return true
}

// ReplaceNonce swaps a locally created entry keyed by nonce for its
// server-side counterpart.
func (c *MessageCache) ReplaceNonce(channelID, nonce types.Snowflake, msg *types.MessageRecord) bool {
	removed := c.Delete(channelID, nonce)
	c.Insert(msg)
	return removed
}

// ProcessPaginationResult applies one history page. The gap being resolved
// is removed, every message is inserted, and only if at least one message
// was new is a fresh gap placed beyond the inserted range in the scroll
// direction. A page shorter than limit means the end of history in that
// direction was reached and no gap is placed; limit <= 0 disables that
// check. It returns the number of newly inserted messages.
func (c *MessageCache) ProcessPaginationResult(channelID types.Snowflake, dir Direction, anchorGap types.Snowflake, page []*types.MessageRecord, limit int) int {
	cm := c.channel(channelID)
	cm.loaded = true

	if anchorGap != 0 {
		if gap, ok := cm.byID[anchorGap]; ok && gap.IsGap() {
			cm.remove(anchorGap)
		}
	}

	inserted := 0
	var earliest, latest types.Snowflake
	for _, msg := range page {
		if msg == nil || msg.ID == 0 {
			continue
		}
		msg.ChannelID = channelID
		existing, ok := cm.byID[msg.ID]
		cm.put(msg)
		if ok && !existing.IsGap() {
			continue
		}
		inserted++
		if earliest == 0 || msg.ID < earliest {
			earliest = msg.ID
		}
		if msg.ID > latest {
			latest = msg.ID
		}
	}
	if inserted == 0 {
		return 0
	}

	exhausted := limit > 0 && len(page) < limit
	if exhausted {
		return inserted
	}
	switch dir {
	case Before:
		c.placeGap(cm, channelID, types.GapBefore, earliest)
	case After:
		c.placeGap(cm, channelID, types.GapAfter, latest)
	case Around:
		c.placeGap(cm, channelID, types.GapBefore, earliest)
		c.placeGap(cm, channelID, types.GapAfter, latest)
	}
	return inserted
}

// placeGap keys a before-gap just below anchor and an after-gap just above
// it, unless a real message already occupies that slot.
func (c *MessageCache) placeGap(cm *channelMessages, channelID types.Snowflake, dir types.GapDirection, anchor types.Snowflake) {
	key := anchor + 1
	if dir == types.GapBefore {
		if anchor <= 1 {
			return
		}
		key = anchor - 1
	}
	if _, ok := cm.byID[key]; ok {
		return
	}
	cm.put(&types.MessageRecord{
		ID:        key,
		ChannelID: channelID,
		Kind:      types.KindGap,
		GapDir:    dir,
		Anchor:    anchor,
	})
}

// ClearChannel forgets a channel's history.
func (c *MessageCache) ClearChannel(channelID types.Snowflake) {
	delete(c.channels, channelID)
}

// Clear forgets every channel.
func (c *MessageCache) Clear() {
	c.channels = make(map[types.Snowflake]*channelMessages)
}
