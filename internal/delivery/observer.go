package delivery

import (
	"fmt"
	"log/slog"

	"github.com/user/relaycord/internal/types"
)

// Topic prefixes published by Observer.
const (
	TopicSession = "session:"
	TopicMessage = "message:"
	TopicUnread  = "unread:"
	TopicUpload  = "upload:"
	TopicError   = "error:"
)

// Describer renders a cached message as a single line. It is called on the
// processing goroutine, so it may read the caches directly.
type Describer func(channelID, messageID types.Snowflake) string

// Observer turns core notifications into text lines and publishes them
// through a Registry. Notifications without a textual form are ignored.
type Observer struct {
	types.NopObserver
	reg      *Registry
	describe Describer
}

func NewObserver(reg *Registry, describe Describer) *Observer {
	return &Observer{reg: reg, describe: describe}
}

func (o *Observer) publish(topic, message string) {
	if err := o.reg.Deliver(topic, message); err != nil {
		slog.Debug("notification dropped", "topic", topic, "error", err)
	}
}

func (o *Observer) OnConnecting() {
	o.publish(TopicSession+"connecting", "connecting")
}

func (o *Observer) OnConnected() {
	o.publish(TopicSession+"connected", "connected")
}

func (o *Observer) OnSessionClosed(code int) {
	o.publish(TopicSession+"closed", fmt.Sprintf("session closed (code %d)", code))
}

func (o *Observer) OnLoggedOut() {
	o.publish(TopicSession+"logged_out", "credentials rejected, log in again")
}

func (o *Observer) OnMessageAdded(channelID, messageID types.Snowflake) {
	line := ""
	if o.describe != nil {
		line = o.describe(channelID, messageID)
	}
	if line == "" {
		line = "message " + messageID.String()
	}
	o.publish(TopicMessage+channelID.String(), line)
}

func (o *Observer) OnChannelUnreadChanged(guildID, channelID types.Snowflake) {
	o.publish(TopicUnread+channelID.String(), fmt.Sprintf("new activity in channel %s (guild %s)", channelID, guildID))
}

func (o *Observer) OnUploadFailed(fileName string, code int) {
	o.publish(TopicUpload+fileName, fmt.Sprintf("upload of %s failed (code %d)", fileName, code))
}

func (o *Observer) OnRequestError(code int, message, url string) {
	o.publish(TopicError+"request", fmt.Sprintf("%s: %s (code %d)", url, message, code))
}
