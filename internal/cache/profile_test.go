package cache

import (
	"encoding/json"
	"testing"

	"github.com/user/relaycord/internal/types"
	"github.com/user/relaycord/internal/wire"
)

type recordingFetcher struct {
	calls []types.Snowflake
}

func (f *recordingFetcher) FetchProfile(id types.Snowflake) {
	f.calls = append(f.calls, id)
}

func TestLookupFabricatesPlaceholder(t *testing.T) {
	c := NewProfileCache(nil)
	p := c.Lookup(42, "alice", "Alice", "abc", false)
	if p == nil {
		t.Fatal("expected placeholder, got nil")
	}
	if !p.Placeholder || p.Username != "alice" || p.GlobalName != "Alice" {
		t.Errorf("unexpected placeholder: %+v", p)
	}
	if c.Lookup(0, "x", "", "", false) != nil {
		t.Error("id 0 should not produce a profile")
	}
}

func TestLookupSchedulesOneFetch(t *testing.T) {
	f := &recordingFetcher{}
	c := NewProfileCache(f)
	c.Lookup(42, "", "", "", true)
	c.Lookup(42, "", "", "", true)
	c.Lookup(42, "", "", "", true)
	if len(f.calls) != 1 {
		t.Fatalf("expected exactly 1 fetch, got %d", len(f.calls))
	}
	if !c.IsPending(42) {
		t.Error("expected fetch to be pending")
	}

	c.FetchFailed(42)
	c.Lookup(42, "", "", "", true)
	if len(f.calls) != 2 {
		t.Errorf("expected retry after failure, got %d fetches", len(f.calls))
	}
}

func TestLoadWinsOverPlaceholder(t *testing.T) {
	f := &recordingFetcher{}
	c := NewProfileCache(f)
	c.Lookup(42, "fallback", "", "", true)

	raw := json.RawMessage(`{
		"user": {"id": "42", "username": "alice", "global_name": "Alice A", "avatar": "hash"},
		"guild_member": {"nick": "ally", "roles": ["7"]},
		"guild_id": "9"
	}`)
	p, err := c.Load(42, raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Placeholder || p.Username != "alice" || p.GlobalName != "Alice A" {
		t.Errorf("load should replace placeholder: %+v", p)
	}
	if c.IsPending(42) {
		t.Error("load should clear the pending mark")
	}
	if got := p.DisplayName(9); got != "ally" {
		t.Errorf("expected nickname in guild 9, got %q", got)
	}
	if got := p.DisplayName(10); got != "Alice A" {
		t.Errorf("expected global name elsewhere, got %q", got)
	}
	if c.Lookup(42, "other", "", "", true) != p || len(f.calls) != 1 {
		t.Error("loaded profile should not be refetched")
	}
}

func TestLoadBareUser(t *testing.T) {
	c := NewProfileCache(nil)
	p, err := c.Load(5, json.RawMessage(`{"id":"5","username":"bob"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Username != "bob" {
		t.Errorf("expected bob, got %q", p.Username)
	}
	if _, err := c.Load(6, json.RawMessage(`not json`)); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestMembershipsDeduplicateAcrossGuilds(t *testing.T) {
	c := NewProfileCache(nil)
	user := &wire.User{ID: 3, Username: "carol"}
	for _, guild := range []types.Snowflake{1, 2, 3} {
		c.LoadMember(guild, &wire.Member{User: user, Roles: []types.Snowflake{guild * 10}}, true)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 profile, got %d", c.Len())
	}
	p := c.Get(3)
	if len(p.Memberships) != 3 {
		t.Errorf("expected 3 memberships, got %d", len(p.Memberships))
	}
	if !p.Memberships[2].LoadedFromChunk {
		t.Error("expected chunk flag on membership")
	}
}

func TestProfileDoesNotExistKeepsRecord(t *testing.T) {
	c := NewProfileCache(nil)
	c.LoadMember(1, &wire.Member{User: &wire.User{ID: 8, Username: "dan"}}, false)
	c.ProfileDoesNotExist(8, 2)

	p := c.Get(8)
	if p == nil {
		t.Fatal("profile should survive a negative lookup")
	}
	if !p.Memberships[2].NotFound {
		t.Error("expected guild 2 membership to be marked not found")
	}
	if p.Memberships[1].NotFound {
		t.Error("guild 1 membership should be untouched")
	}
}

func TestProfileDoesNotExistStopsRefetch(t *testing.T) {
	f := &recordingFetcher{}
	c := NewProfileCache(f)
	c.Lookup(5, "ghost", "", "", true)
	c.ProfileDoesNotExist(5, 0)
	c.Lookup(5, "ghost", "", "", true)

	if len(f.calls) != 1 {
		t.Errorf("expected a single fetch, got %v", f.calls)
	}
	if p := c.Get(5); p.Username != "ghost" || !p.Memberships[0].NotFound {
		t.Errorf("unexpected record %+v", p)
	}
}
