package resolve

import (
	"errors"
	"testing"

	"github.com/gotd/td/tg"
)

func TestNormalizeDialogsResponse(t *testing.T) {
	if _, err := normalizeDialogsResponse(&tg.MessagesDialogsNotModified{}); !errors.Is(err, errDialogsNotModified) {
		t.Fatalf("expected errDialogsNotModified, got %v", err)
	}

	slice := &tg.MessagesDialogsSlice{Chats: []tg.ChatClass{&tg.Channel{ID: 1}}}
	got, err := normalizeDialogsResponse(slice)
	if err != nil {
		t.Fatalf("normalizeDialogsResponse(slice): %v", err)
	}
	if len(got.Chats) != 1 {
		t.Fatalf("expected chats carried over, got %+v", got)
	}

	if _, err := normalizeDialogsResponse(&tg.MessagesDialogs{Chats: []tg.ChatClass{&tg.Channel{ID: 2}}}); err != nil {
		t.Fatalf("normalizeDialogsResponse(full): %v", err)
	}
}

func TestCollectHashesAndDialogPeerToInput(t *testing.T) {
	batch := &tg.MessagesDialogs{
		Users: []tg.UserClass{&tg.User{ID: 10, AccessHash: 111}},
		Chats: []tg.ChatClass{&tg.Channel{ID: 20, AccessHash: 222}},
	}
	userHashes, channelHashes := map[int64]int64{}, map[int64]int64{}
	collectHashes(batch, userHashes, channelHashes)

	if userHashes[10] != 111 || channelHashes[20] != 222 {
		t.Fatalf("unexpected hashes: %v %v", userHashes, channelHashes)
	}

	got := dialogPeerToInput(&tg.PeerChannel{ChannelID: 20}, userHashes, channelHashes)
	ch, ok := got.(*tg.InputPeerChannel)
	if !ok || ch.ChannelID != 20 || ch.AccessHash != 222 {
		t.Fatalf("dialogPeerToInput did not attach cached access hash: %+v", got)
	}
}

func TestMessageDate(t *testing.T) {
	messages := []tg.MessageClass{&tg.Message{ID: 5, Date: 1000}, &tg.MessageService{ID: 6, Date: 2000}}
	if got := messageDate(messages, 5); got != 1000 {
		t.Fatalf("messageDate(5) = %d, want 1000", got)
	}
	if got := messageDate(messages, 6); got != 2000 {
		t.Fatalf("messageDate(6) = %d, want 2000", got)
	}
	if got := messageDate(messages, 99); got != 0 {
		t.Fatalf("messageDate(missing) = %d, want 0", got)
	}
}

func TestNextOffset(t *testing.T) {
	userHashes, channelHashes := map[int64]int64{7: 77}, map[int64]int64{}
	dlg := &tg.Dialog{TopMessage: 5, Peer: &tg.PeerUser{UserID: 7}}
	messages := []tg.MessageClass{&tg.Message{ID: 5, Date: 42}}

	id, date, peer, ok := nextOffset(dlg, messages, userHashes, channelHashes)
	if !ok || id != 5 || date != 42 {
		t.Fatalf("nextOffset = %d, %d, %v, %v", id, date, peer, ok)
	}
	u, ok := peer.(*tg.InputPeerUser)
	if !ok || u.UserID != 7 || u.AccessHash != 77 {
		t.Fatalf("nextOffset peer = %+v", peer)
	}

	if _, _, _, ok := nextOffset(&tg.DialogFolder{}, nil, userHashes, channelHashes); !ok {
		t.Fatalf("expected DialogFolder to yield a valid (empty) offset peer")
	}
}

func TestCacheDialogEntities_PopulatesChatIDLookup(t *testing.T) {
	c := openTestCache(t)
	batch := &tg.MessagesDialogs{
		Users: []tg.UserClass{&tg.User{ID: 1, AccessHash: 2, Username: "alice"}},
		Chats: []tg.ChatClass{
			&tg.Channel{ID: 3, AccessHash: 4, Title: "Chan"},
			&tg.Chat{ID: 5, Title: "Group"},
		},
	}
	c.cacheDialogEntities(batch)

	if e, ok, err := c.get("chatid:1"); err != nil || !ok || e.AccessHash != 2 {
		t.Fatalf("user not cached: %+v ok=%v err=%v", e, ok, err)
	}
	if e, ok, err := c.get("chatid:3"); err != nil || !ok || e.AccessHash != 4 {
		t.Fatalf("channel not cached: %+v ok=%v err=%v", e, ok, err)
	}
	if e, ok, err := c.get("chatid:5"); err != nil || !ok || e.Kind != "chat" {
		t.Fatalf("chat not cached: %+v ok=%v err=%v", e, ok, err)
	}
}
