package types

import "time"

// Observer is the narrow interface through which the core reaches the
// presentation layer. All methods are invoked on the processing goroutine
// and must not block.
type Observer interface {
	OnConnecting()
	OnConnected()
	OnSessionClosed(code int)
	OnLoggedOut()

	OnGuildListChanged()
	OnGuildSelected(guildID Snowflake)
	OnChannelListChanged(guildID Snowflake)
	OnMemberListChanged(guildID Snowflake)
	OnProfileChanged(userID, guildID Snowflake)

	OnMessageAdded(channelID, messageID Snowflake)
	OnMessageUpdated(channelID, messageID Snowflake)
	OnMessageDeleted(channelID, messageID Snowflake)
	OnMessagesLoaded(channelID Snowflake)
	OnTypingStarted(guildID, channelID, userID Snowflake, at time.Time)

	// OnChannelUnreadChanged asks the UI to refresh the unread/mention
	// indicator of a channel that is not open.
	OnChannelUnreadChanged(guildID, channelID Snowflake)
	// OnAcknowledgeRequested asks the UI to acknowledge messageID in the
	// open channel instead of raising its unread indicator.
	OnAcknowledgeRequested(channelID, messageID Snowflake)

	OnUploadFailed(fileName string, code int)
	OnRequestError(code int, message, url string)
}

// NopObserver implements Observer with no-ops. Embed it to override a subset.
type NopObserver struct{}

func (NopObserver) OnConnecting()                                              {}
func (NopObserver) OnConnected()                                               {}
func (NopObserver) OnSessionClosed(int)                                        {}
func (NopObserver) OnLoggedOut()                                               {}
func (NopObserver) OnGuildListChanged()                                        {}
func (NopObserver) OnGuildSelected(Snowflake)                                  {}
func (NopObserver) OnChannelListChanged(Snowflake)                             {}
func (NopObserver) OnMemberListChanged(Snowflake)                              {}
func (NopObserver) OnProfileChanged(Snowflake, Snowflake)                      {}
func (NopObserver) OnMessageAdded(Snowflake, Snowflake)                        {}
func (NopObserver) OnMessageUpdated(Snowflake, Snowflake)                      {}
func (NopObserver) OnMessageDeleted(Snowflake, Snowflake)                      {}
func (NopObserver) OnMessagesLoaded(Snowflake)                                 {}
func (NopObserver) OnTypingStarted(Snowflake, Snowflake, Snowflake, time.Time) {}
func (NopObserver) OnChannelUnreadChanged(Snowflake, Snowflake)                {}
func (NopObserver) OnAcknowledgeRequested(Snowflake, Snowflake)                {}
func (NopObserver) OnUploadFailed(string, int)                                 {}
func (NopObserver) OnRequestError(int, string, string)                         {}
