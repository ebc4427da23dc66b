package delivery

import (
	"testing"

	"github.com/user/relaycord/internal/types"
)

type line struct {
	topic, message string
}

func collecting(t *testing.T) (*Registry, *[]line) {
	t.Helper()
	var lines []line
	reg := NewRegistry()
	reg.Register("", func(topic, message string) error {
		lines = append(lines, line{topic, message})
		return nil
	})
	return reg, &lines
}

func TestObserverPublishes(t *testing.T) {
	reg, lines := collecting(t)
	var obs types.Observer = NewObserver(reg, nil)

	obs.OnConnected()
	obs.OnSessionClosed(4004)
	obs.OnUploadFailed("photo.png", 413)
	obs.OnRequestError(500, "Internal Server Error", "https://chat.test/api/v9/users/@me")
	obs.OnChannelUnreadChanged(10, 100)
	// No textual form.
	obs.OnTypingStarted(10, 100, 2, types.Snowflake(0).Time())

	want := []line{
		{"session:connected", "connected"},
		{"session:closed", "session closed (code 4004)"},
		{"upload:photo.png", "upload of photo.png failed (code 413)"},
		{"error:request", "https://chat.test/api/v9/users/@me: Internal Server Error (code 500)"},
		{"unread:100", "new activity in channel 100 (guild 10)"},
	}
	if len(*lines) != len(want) {
		t.Fatalf("expected %d lines, got %v", len(want), *lines)
	}
	for i, w := range want {
		if (*lines)[i] != w {
			t.Errorf("line %d: expected %v, got %v", i, w, (*lines)[i])
		}
	}
}

func TestObserverDescribesMessages(t *testing.T) {
	reg, lines := collecting(t)
	obs := NewObserver(reg, func(channelID, messageID types.Snowflake) string {
		if messageID == 7 {
			return ""
		}
		return "bob: hi"
	})

	obs.OnMessageAdded(100, 5)
	obs.OnMessageAdded(100, 7)

	want := []line{{"message:100", "bob: hi"}, {"message:100", "message 7"}}
	for i, w := range want {
		if (*lines)[i] != w {
			t.Errorf("line %d: expected %v, got %v", i, w, (*lines)[i])
		}
	}
}

func TestObserverWithoutHandler(t *testing.T) {
	obs := NewObserver(NewRegistry(), nil)
	// Undeliverable notifications are dropped.
	obs.OnLoggedOut()
}
