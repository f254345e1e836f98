package resolve

import (
	"path/filepath"
	"testing"

	"github.com/gotd/td/tg"

	"telegram-forwarder/internal/domain/urlparse"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "entity_cache.bbolt"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCache_PutGetRoundTrip(t *testing.T) {
	c := openTestCache(t)
	want := entry{Kind: "channel", ID: 123, AccessHash: 456, Title: "Test Channel"}
	if err := c.put("username:test", want); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := c.get("username:test")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestCache_GetMiss(t *testing.T) {
	c := openTestCache(t)
	_, ok, err := c.get("username:absent")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatalf("expected miss")
	}
}

func TestInputPeerFromEntry(t *testing.T) {
	cases := []struct {
		name string
		e    entry
		want tg.InputPeerClass
	}{
		{"channel", entry{Kind: "channel", ID: 1, AccessHash: 2}, &tg.InputPeerChannel{ChannelID: 1, AccessHash: 2}},
		{"user", entry{Kind: "user", ID: 3, AccessHash: 4}, &tg.InputPeerUser{UserID: 3, AccessHash: 4}},
		{"chat", entry{Kind: "chat", ID: 5}, &tg.InputPeerChat{ChatID: 5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := inputPeerFromEntry(tc.e)
			gotCh, gotOK := got.(*tg.InputPeerChannel)
			wantCh, wantOK := tc.want.(*tg.InputPeerChannel)
			if gotOK != wantOK {
				t.Fatalf("type mismatch for %s", tc.name)
			}
			if gotOK && *gotCh != *wantCh {
				t.Fatalf("got %+v, want %+v", gotCh, wantCh)
			}
		})
	}
}

func TestEntryFromChat(t *testing.T) {
	ch := &tg.Channel{ID: 10, AccessHash: 20, Title: "Chan"}
	e, err := entryFromChat(ch)
	if err != nil {
		t.Fatalf("entryFromChat: %v", err)
	}
	if e.Kind != "channel" || e.ID != 10 || e.AccessHash != 20 || e.Title != "Chan" {
		t.Fatalf("unexpected entry: %+v", e)
	}

	basic := &tg.Chat{ID: 11, Title: "Group"}
	e2, err := entryFromChat(basic)
	if err != nil {
		t.Fatalf("entryFromChat: %v", err)
	}
	if e2.Kind != "chat" || e2.ID != 11 {
		t.Fatalf("unexpected entry: %+v", e2)
	}
}

func TestExtractChats(t *testing.T) {
	chats := []tg.ChatClass{&tg.Channel{ID: 1}}
	if got := extractChats(&tg.Updates{Chats: chats}); len(got) != 1 {
		t.Fatalf("extractChats(*Updates) = %v", got)
	}
	if got := extractChats(&tg.UpdatesCombined{Chats: chats}); len(got) != 1 {
		t.Fatalf("extractChats(*UpdatesCombined) = %v", got)
	}
	if got := extractChats(&tg.UpdatesTooLong{}); got != nil {
		t.Fatalf("extractChats(unsupported) = %v, want nil", got)
	}
}

func TestResolved_EntityInfo(t *testing.T) {
	r := Resolved{Kind: "channel", Title: "Announcements"}
	if got := r.EntityInfo(); got != "channel:Announcements" {
		t.Fatalf("EntityInfo() = %q, want %q", got, "channel:Announcements")
	}

	bare := Resolved{Kind: "user"}
	if got := bare.EntityInfo(); got != "user" {
		t.Fatalf("EntityInfo() with no title = %q, want %q", got, "user")
	}
}

func TestCacheAndBuild_SetsJoinFlagsAndKind(t *testing.T) {
	c := openTestCache(t)
	chat := &tg.Channel{ID: 42, AccessHash: 7, Title: "Secret"}

	r, err := c.cacheAndBuild("invite:abc", chat, urlparse.Parsed{}, true, true)
	if err != nil {
		t.Fatalf("cacheAndBuild: %v", err)
	}
	if r.Kind != "channel" || !r.JoinAttempted || !r.JoinSuccessful {
		t.Fatalf("unexpected Resolved: %+v", r)
	}
	if got := r.EntityInfo(); got != "channel:Secret" {
		t.Fatalf("EntityInfo() = %q", got)
	}

	r2, err := c.cacheAndBuild("invite:def", chat, urlparse.Parsed{}, false, true)
	if err != nil {
		t.Fatalf("cacheAndBuild: %v", err)
	}
	if r2.JoinAttempted {
		t.Fatalf("expected JoinAttempted=false for an already-participant path")
	}
}
