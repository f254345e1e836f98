// Package forward implements the Forwarding Action of §4.2: reading the
// latest Saved Messages entry and delivering it to a resolved target under
// one of the three forwarding modes, with topic-aware routing and fallback.
//
// Grounded on original_source/message_forwarder.py's _forward_to_topic/
// _forward_to_entity/_forward_to_main_chat_fallback (topic_closed/
// message_id_invalid fallback to the main chat) and get_latest_message
// (source is always the authenticated user's own Saved Messages, 'me').
// RPC calls and the deterministic random_id derivation follow the teacher's
// internal/adapters/telegram/notifier/client_sender.go
// (MessagesSendMessageRequest/MessagesForwardMessagesRequest shape) and
// internal/domain/notifications/idempotency.go (FNV-1a random_id scheme),
// adapted from per-recipient notification jobs to per-cycle forwarding
// attempts.
package forward

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"github.com/gotd/td/tg"

	"telegram-forwarder/internal/domain/classify"
	"telegram-forwarder/internal/domain/model"
	"telegram-forwarder/internal/domain/resolve"
)

// MessageType mirrors original_source/message_forwarder.py's MessageType enum,
// used only for statistics/logging (§4.8), never for routing decisions.
type MessageType int

const (
	MessageUnknown MessageType = iota
	MessageText
	MessagePhoto
	MessageVideo
	MessageDocument
	MessageAudio
	MessageSticker
	MessageVoice
	MessageVideoNote
	MessagePoll
)

func (t MessageType) String() string {
	switch t {
	case MessageText:
		return "text"
	case MessagePhoto:
		return "photo"
	case MessageVideo:
		return "video"
	case MessageDocument:
		return "document"
	case MessageAudio:
		return "audio"
	case MessageSticker:
		return "sticker"
	case MessageVoice:
		return "voice"
	case MessageVideoNote:
		return "video_note"
	case MessagePoll:
		return "poll"
	default:
		return "unknown"
	}
}

// Result is the outcome of a single forwarding attempt against one target.
type Result struct {
	Success      bool
	Detail       string
	ErrorKind    classify.Kind
	RetryAfter   int64 // seconds; set only for flood_wait/slow_mode
	UsedFallback bool  // true if a topic send fell back to the main chat

	// JoinAttempted/JoinSuccessful/EntityInfo carry the resolver's side of
	// §4.2's observable outputs through to the caller (worker/stats), since
	// the resolution happens before the send and Result would otherwise drop it.
	JoinAttempted  bool
	JoinSuccessful bool
	EntityInfo     string
}

// Forwarder performs forwarding RPCs against one account's tg.Client.
type Forwarder struct {
	api *tg.Client
}

// New builds a Forwarder bound to api.
func New(api *tg.Client) *Forwarder {
	return &Forwarder{api: api}
}

// LatestSavedMessage fetches the single most recent message in the
// authenticated user's Saved Messages, the fixed forwarding source (§4.2:
// "source is always Saved Messages' latest message").
func (f *Forwarder) LatestSavedMessage(ctx context.Context) (*tg.Message, error) {
	history, err := f.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  &tg.InputPeerSelf{},
		Limit: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("forward: get saved messages history: %w", err)
	}

	var messages []tg.MessageClass
	switch h := history.(type) {
	case *tg.MessagesMessages:
		messages = h.Messages
	case *tg.MessagesMessagesSlice:
		messages = h.Messages
	case *tg.MessagesChannelMessages:
		messages = h.Messages
	default:
		return nil, fmt.Errorf("forward: unexpected history response %T", history)
	}

	for _, m := range messages {
		if msg, ok := m.(*tg.Message); ok {
			return msg, nil
		}
	}
	return nil, fmt.Errorf("forward: saved messages is empty")
}

// DetectMessageType classifies msg for statistics purposes.
func DetectMessageType(msg *tg.Message) MessageType {
	if msg == nil {
		return MessageUnknown
	}
	media := msg.Media
	if media == nil {
		if msg.Message != "" {
			return MessageText
		}
		return MessageUnknown
	}
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		return MessagePhoto
	case *tg.MessageMediaDocument:
		return documentType(m)
	case *tg.MessageMediaPoll:
		return MessagePoll
	default:
		return MessageUnknown
	}
}

func documentType(m *tg.MessageMediaDocument) MessageType {
	doc, ok := m.Document.(*tg.Document)
	if !ok {
		return MessageDocument
	}
	for _, attr := range doc.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeVideo:
			if a.RoundMessage {
				return MessageVideoNote
			}
			return MessageVideo
		case *tg.DocumentAttributeAudio:
			if a.Voice {
				return MessageVoice
			}
			return MessageAudio
		case *tg.DocumentAttributeSticker:
			return MessageSticker
		}
	}
	return MessageDocument
}

// ForwardTo delivers msg to r under mode, routing to a topic when r carries
// one and falling back to the main chat on topic_closed/invalid topic (§4.2).
func (f *Forwarder) ForwardTo(ctx context.Context, msg *tg.Message, r resolve.Resolved, mode model.ForwardMode, seed int64) Result {
	var res Result
	if r.HasTopic {
		res = f.send(ctx, msg, r.InputPeer, mode, r.TopicID, seed)
		if !res.Success {
			switch res.ErrorKind {
			case classify.KindTopicClosed:
				fallback := f.send(ctx, msg, r.InputPeer, mode, 0, seed+1)
				fallback.UsedFallback = true
				res = fallback
			}
		}
	} else {
		res = f.send(ctx, msg, r.InputPeer, mode, 0, seed)
	}
	res.JoinAttempted = r.JoinAttempted
	res.JoinSuccessful = r.JoinSuccessful
	res.EntityInfo = r.EntityInfo()
	return res
}

func (f *Forwarder) send(ctx context.Context, msg *tg.Message, peer tg.InputPeerClass, mode model.ForwardMode, topMsgID int, seed int64) Result {
	var err error
	switch mode {
	case model.ModeAsCopy:
		err = f.sendAsCopy(ctx, msg, peer, topMsgID, seed)
	default:
		err = f.forwardOriginal(ctx, msg, peer, mode, topMsgID, seed)
	}
	if err == nil {
		return Result{Success: true, Detail: "delivered"}
	}

	c := classify.Classify(err)
	return Result{
		Success:    false,
		Detail:     err.Error(),
		ErrorKind:  c.Kind,
		RetryAfter: int64(c.RetryAfter.Seconds()),
	}
}

func (f *Forwarder) forwardOriginal(ctx context.Context, msg *tg.Message, peer tg.InputPeerClass, mode model.ForwardMode, topMsgID int, seed int64) error {
	req := &tg.MessagesForwardMessagesRequest{
		FromPeer: &tg.InputPeerSelf{},
		ID:       []int{msg.ID},
		ToPeer:   peer,
		RandomID: []int64{randomID(seed, uint64(msg.ID))},
		Silent:   mode == model.ModeSilent,
	}
	if topMsgID > 0 {
		req.SetTopMsgID(topMsgID)
	}
	_, err := f.api.MessagesForwardMessages(ctx, req)
	return err
}

func (f *Forwarder) sendAsCopy(ctx context.Context, msg *tg.Message, peer tg.InputPeerClass, topMsgID int, seed int64) error {
	media, hasMedia := msg.GetMedia()
	if !hasMedia {
		req := &tg.MessagesSendMessageRequest{
			Peer:     peer,
			Message:  msg.Message,
			RandomID: randomID(seed, uint64(msg.ID)),
		}
		if topMsgID > 0 {
			req.SetTopMsgID(topMsgID)
		}
		_, err := f.api.MessagesSendMessage(ctx, req)
		return err
	}

	inputMedia, err := inputMediaFromMessage(media)
	if err != nil {
		return err
	}
	req := &tg.MessagesSendMediaRequest{
		Peer:     peer,
		Media:    inputMedia,
		Message:  msg.Message,
		RandomID: randomID(seed, uint64(msg.ID)),
	}
	if topMsgID > 0 {
		req.SetTopMsgID(topMsgID)
	}
	_, err = f.api.MessagesSendMedia(ctx, req)
	return err
}

func inputMediaFromMessage(media tg.MessageMediaClass) (tg.InputMediaClass, error) {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return nil, fmt.Errorf("forward: as-copy photo is unavailable (expired or deleted)")
		}
		return &tg.InputMediaPhoto{
			ID: &tg.InputPhoto{
				ID:            photo.ID,
				AccessHash:    photo.AccessHash,
				FileReference: photo.FileReference,
			},
		}, nil
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return nil, fmt.Errorf("forward: as-copy document is unavailable (expired or deleted)")
		}
		return &tg.InputMediaDocument{
			ID: &tg.InputDocument{
				ID:            doc.ID,
				AccessHash:    doc.AccessHash,
				FileReference: doc.FileReference,
			},
		}, nil
	default:
		return nil, fmt.Errorf("forward: as-copy mode does not support media type %T", media)
	}
}

// randomID derives a Telegram-valid random_id (nonzero, positive int63) from
// seed and message id, following the teacher's FNV-1a idempotency scheme.
func randomID(seed int64, messageID uint64) int64 {
	hasher := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(seed))
	_, _ = hasher.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], messageID)
	_, _ = hasher.Write(buf[:])
	value := hasher.Sum64() & ((1 << 63) - 1)
	if value == 0 {
		value = 1
	}
	return int64(value)
}
