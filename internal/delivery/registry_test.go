// internal/delivery/registry_test.go
package delivery

import (
	"testing"
)

func TestRegistryDeliver(t *testing.T) {
	reg := NewRegistry()

	var gotTopic, gotMsg string
	reg.Register("message:", func(topic, message string) error {
		gotTopic = topic
		gotMsg = message
		return nil
	})

	err := reg.Deliver("message:123", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotTopic != "message:123" {
		t.Errorf("expected topic %q, got %q", "message:123", gotTopic)
	}
	if gotMsg != "hello" {
		t.Errorf("expected message %q, got %q", "hello", gotMsg)
	}
}

func TestRegistryNoHandler(t *testing.T) {
	reg := NewRegistry()

	err := reg.Deliver("unknown:123", "hello")
	if err == nil {
		t.Fatal("expected error for unregistered prefix, got nil")
	}
}

func TestRegistryMultiplePrefixes(t *testing.T) {
	reg := NewRegistry()

	var sessionCalls, uploadCalls int
	reg.Register("session:", func(topic, message string) error {
		sessionCalls++
		return nil
	})
	reg.Register("upload:", func(topic, message string) error {
		uploadCalls++
		return nil
	})

	if err := reg.Deliver("session:connected", "msg1"); err != nil {
		t.Fatalf("session deliver error: %v", err)
	}
	if err := reg.Deliver("upload:photo.png", "msg2"); err != nil {
		t.Fatalf("upload deliver error: %v", err)
	}

	if sessionCalls != 1 {
		t.Errorf("expected 1 session call, got %d", sessionCalls)
	}
	if uploadCalls != 1 {
		t.Errorf("expected 1 upload call, got %d", uploadCalls)
	}
}

func TestRegistryLongestPrefixWins(t *testing.T) {
	reg := NewRegistry()

	var got []string
	reg.Register("", func(topic, message string) error {
		got = append(got, "any")
		return nil
	})
	reg.Register("message:", func(topic, message string) error {
		got = append(got, "message")
		return nil
	})
	reg.Register("message:100", func(topic, message string) error {
		got = append(got, "channel")
		return nil
	})

	for _, topic := range []string{"message:100", "message:200", "session:closed"} {
		if err := reg.Deliver(topic, "x"); err != nil {
			t.Fatalf("deliver %s: %v", topic, err)
		}
	}
	want := []string{"channel", "message", "any"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
