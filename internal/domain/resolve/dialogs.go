package resolve

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gotd/td/tg"
)

const dialogFetchPageLimit = 100

var errDialogsNotModified = errors.New("resolve: dialogs not modified")

// WarmDialogs fetches the account's full dialog list and caches every user,
// chat, and channel it contains by bare id, so a subsequent chat_id/private
// target (§4.1) that names one of them resolves without an invite join.
// Adapted from the teacher's internal/infra/telegram/peersmgr, whose
// dialog-warmup fetch is exactly the access-hash source bare-id resolution
// needs; resolveByChatID calls it when a chat id is not yet in the cache.
func (c *Cache) WarmDialogs(ctx context.Context, api *tg.Client) error {
	offsetDate, offsetID := 0, 0
	var offsetPeer tg.InputPeerClass = &tg.InputPeerEmpty{}
	userHashes := make(map[int64]int64)
	channelHashes := make(map[int64]int64)

	for {
		resp, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetDate: offsetDate,
			OffsetID:   offsetID,
			OffsetPeer: offsetPeer,
			Limit:      dialogFetchPageLimit,
		})
		if err != nil {
			return fmt.Errorf("resolve: fetch dialogs: %w", err)
		}

		batch, err := normalizeDialogsResponse(resp)
		if err != nil {
			if errors.Is(err, errDialogsNotModified) {
				return nil
			}
			return err
		}
		if len(batch.Dialogs) == 0 {
			return nil
		}

		c.cacheDialogEntities(batch)
		collectHashes(batch, userHashes, channelHashes)

		last := batch.Dialogs[len(batch.Dialogs)-1]
		nextID, nextDate, nextPeer, ok := nextOffset(last, batch.Messages, userHashes, channelHashes)
		if !ok {
			return nil
		}
		offsetID, offsetDate, offsetPeer = nextID, nextDate, nextPeer

		if len(batch.Dialogs) < dialogFetchPageLimit {
			return nil
		}
	}
}

func (c *Cache) cacheDialogEntities(batch *tg.MessagesDialogs) {
	for _, u := range batch.Users {
		if user, ok := u.(*tg.User); ok {
			key := "chatid:" + strconv.FormatInt(user.ID, 10)
			_ = c.put(key, entry{Kind: "user", ID: user.ID, AccessHash: user.AccessHash, Title: user.Username})
		}
	}
	for _, ch := range batch.Chats {
		switch item := ch.(type) {
		case *tg.Channel:
			key := "chatid:" + strconv.FormatInt(item.ID, 10)
			_ = c.put(key, entry{Kind: "channel", ID: item.ID, AccessHash: item.AccessHash, Title: item.Title})
		case *tg.Chat:
			key := "chatid:" + strconv.FormatInt(item.ID, 10)
			_ = c.put(key, entry{Kind: "chat", ID: item.ID, Title: item.Title})
		}
	}
}

func normalizeDialogsResponse(resp tg.MessagesDialogsClass) (*tg.MessagesDialogs, error) {
	switch data := resp.(type) {
	case *tg.MessagesDialogs:
		return data, nil
	case *tg.MessagesDialogsSlice:
		return &tg.MessagesDialogs{Dialogs: data.Dialogs, Messages: data.Messages, Chats: data.Chats, Users: data.Users}, nil
	case *tg.MessagesDialogsNotModified:
		return nil, errDialogsNotModified
	default:
		return nil, fmt.Errorf("resolve: unexpected dialogs response %T", resp)
	}
}

func collectHashes(batch *tg.MessagesDialogs, userHashes, channelHashes map[int64]int64) {
	for _, u := range batch.Users {
		if user, ok := u.(*tg.User); ok {
			userHashes[user.ID] = user.AccessHash
		}
	}
	for _, ch := range batch.Chats {
		if channel, ok := ch.(*tg.Channel); ok {
			channelHashes[channel.ID] = channel.AccessHash
		}
	}
}

// nextOffset computes the next page's (offset_id, offset_date, offset_peer)
// from the last dialog of the current page, per MessagesGetDialogs' paging
// contract; ok is false when the last dialog is of an unrecognised type.
func nextOffset(last tg.DialogClass, messages []tg.MessageClass, userHashes, channelHashes map[int64]int64) (id, date int, peer tg.InputPeerClass, ok bool) {
	var topMessage int
	var dialogPeer tg.PeerClass
	switch dlg := last.(type) {
	case *tg.Dialog:
		topMessage, dialogPeer = dlg.TopMessage, dlg.Peer
	case *tg.DialogFolder:
		topMessage, dialogPeer = dlg.TopMessage, dlg.Peer
	default:
		return 0, 0, nil, false
	}

	date = messageDate(messages, topMessage)
	peer = dialogPeerToInput(dialogPeer, userHashes, channelHashes)
	return topMessage, date, peer, true
}

func messageDate(messages []tg.MessageClass, id int) int {
	for _, msg := range messages {
		switch item := msg.(type) {
		case *tg.Message:
			if item.ID == id {
				return item.Date
			}
		case *tg.MessageService:
			if item.ID == id {
				return item.Date
			}
		}
	}
	return 0
}

func dialogPeerToInput(peer tg.PeerClass, userHashes, channelHashes map[int64]int64) tg.InputPeerClass {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return &tg.InputPeerUser{UserID: p.UserID, AccessHash: userHashes[p.UserID]}
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: p.ChatID}
	case *tg.PeerChannel:
		return &tg.InputPeerChannel{ChannelID: p.ChannelID, AccessHash: channelHashes[p.ChannelID]}
	default:
		return &tg.InputPeerEmpty{}
	}
}
