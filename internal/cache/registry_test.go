package cache

import (
	"reflect"
	"testing"

	"github.com/user/relaycord/internal/types"
)

func guild(id types.Snowflake, name string, channels ...*types.ChannelRecord) *types.GuildRecord {
	g := types.NewGuildRecord(id)
	g.Name = name
	g.Channels = channels
	g.SortChannels()
	return g
}

func TestRegistryDMGuildNeverNil(t *testing.T) {
	r := NewRegistry()
	if r.Guild(0) == nil {
		t.Fatal("DM guild should always exist")
	}
	r.Clear()
	if r.Guild(0) == nil {
		t.Fatal("DM guild should survive Clear")
	}
	if r.Guild(5) != nil {
		t.Error("unknown guild should be nil")
	}
	if r.FirstGuild() != r.DM() {
		t.Error("first guild of an empty registry should be the DM space")
	}
}

func TestRegistryUpsertIsIdempotent(t *testing.T) {
	build := func() *types.GuildRecord {
		return guild(1, "one",
			&types.ChannelRecord{ID: 10, GuildID: 1, Name: "general", LastSentID: 100},
			&types.ChannelRecord{ID: 11, GuildID: 1, Name: "random", Position: 1},
		)
	}

	once := NewRegistry()
	once.Upsert(build())

	twice := NewRegistry()
	twice.Upsert(build())
	twice.Upsert(build())

	if once.Len() != twice.Len() {
		t.Fatalf("expected %d guilds, got %d", once.Len(), twice.Len())
	}
	if !reflect.DeepEqual(once.Guild(1), twice.Guild(1)) {
		t.Errorf("double upsert diverged:\n%+v\n%+v", once.Guild(1), twice.Guild(1))
	}
}

func TestRegistryUpsertCarriesReadState(t *testing.T) {
	r := NewRegistry()
	r.Upsert(guild(1, "one", &types.ChannelRecord{ID: 10, LastSentID: 100}))
	ch, _ := r.Channel(10)
	ch.Acknowledge(90)
	ch.MentionCount = 2
	order := r.Guild(1).Order

	r.Upsert(guild(1, "renamed", &types.ChannelRecord{ID: 10, LastSentID: 95}))

	g := r.Guild(1)
	if g.Name != "renamed" || g.Order != order {
		t.Errorf("unexpected guild after replace: %+v", g)
	}
	ch = g.Channel(10)
	if ch.LastViewedID != 90 || ch.LastSentID != 100 || ch.MentionCount != 2 {
		t.Errorf("read state lost on replace: %+v", ch)
	}
}

func TestRegistryChannelLookupPrefersCurrent(t *testing.T) {
	r := NewRegistry()
	r.Upsert(guild(1, "one", &types.ChannelRecord{ID: 10, GuildID: 1}))
	r.Upsert(guild(2, "two", &types.ChannelRecord{ID: 20, GuildID: 2}))
	r.DM().UpsertChannel(&types.ChannelRecord{ID: 30, Type: types.ChannelDM})
	r.SetCurrent(2)

	for _, tt := range []struct {
		channel types.Snowflake
		guild   types.Snowflake
	}{{10, 1}, {20, 2}, {30, 0}} {
		ch, g := r.Channel(tt.channel)
		if ch == nil || g.ID != tt.guild {
			t.Errorf("channel %d: expected guild %d, got %v", tt.channel, tt.guild, g)
		}
	}
	if ch, g := r.Channel(99); ch != nil || g != nil {
		t.Error("unknown channel should return nils")
	}
}

func TestRegistryRemoveResetsCurrent(t *testing.T) {
	r := NewRegistry()
	r.Upsert(guild(1, "one"))
	r.SetCurrent(1)
	if !r.Remove(1) {
		t.Fatal("expected removal")
	}
	if r.Current() != 0 {
		t.Errorf("expected current reset to DM, got %d", r.Current())
	}
	if r.Remove(1) {
		t.Error("second removal should report false")
	}
}

func TestDisplayListOrdering(t *testing.T) {
	r := NewRegistry()
	for i, name := range []string{"a", "b", "c", "d", "e"} {
		r.Upsert(guild(types.Snowflake(i+1), name))
	}
	r.SetFolders([]Folder{
		{ID: 0, GuildIDs: []types.Snowflake{3}},
		{ID: 77, Name: "games", GuildIDs: []types.Snowflake{1, 999, 2}},
		{ID: 78, Name: "empty", GuildIDs: []types.Snowflake{999}},
	})

	flat := Flatten(r.DisplayList())
	type row struct {
		id    types.Snowflake
		depth int
		name  string
	}
	var got []row
	for _, e := range flat {
		switch it := e.Item.(type) {
		case LeafItem:
			got = append(got, row{it.ID, e.Depth, it.Name})
		case FolderItem:
			got = append(got, row{0, e.Depth, "folder:" + it.Name})
		}
	}
	want := []row{
		{0, 0, "Direct Messages"},
		{5, 0, "e"},
		{4, 0, "d"},
		{3, 0, "c"},
		{0, 0, "folder:games"},
		{1, 1, "a"},
		{2, 1, "b"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestReadPositionsSurviveClear(t *testing.T) {
	r := NewRegistry()
	g := types.NewGuildRecord(10)
	g.UpsertChannel(&types.ChannelRecord{ID: 100, GuildID: 10, LastSentID: 150, LastViewedID: 140, MentionCount: 2})
	r.Upsert(g)
	r.DM().UpsertChannel(&types.ChannelRecord{ID: 500, Type: types.ChannelDM, LastSentID: 510, LastViewedID: 505})

	saved := r.ReadPositions()
	r.Clear()

	g = types.NewGuildRecord(10)
	g.UpsertChannel(&types.ChannelRecord{ID: 100, GuildID: 10, LastSentID: 160})
	g.UpsertChannel(&types.ChannelRecord{ID: 101, GuildID: 10})
	r.Upsert(g)
	r.DM().UpsertChannel(&types.ChannelRecord{ID: 500, Type: types.ChannelDM, LastSentID: 500})
	r.RestoreReadPositions(saved)

	ch, _ := r.Channel(100)
	if ch.LastViewedID != 140 || ch.LastSentID != 160 || ch.MentionCount != 2 {
		t.Errorf("unexpected restored position %+v", ch)
	}
	if ch, _ := r.Channel(101); ch.LastViewedID != 0 || ch.MentionCount != 0 {
		t.Errorf("new channel should keep an empty position, got %+v", ch)
	}
	if dm, _ := r.Channel(500); dm.LastViewedID != 505 || dm.LastSentID != 510 {
		t.Errorf("unexpected DM position %+v", dm)
	}
}
