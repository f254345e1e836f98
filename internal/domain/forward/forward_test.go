package forward

import (
	"testing"

	"github.com/gotd/td/tg"
)

func TestDetectMessageType(t *testing.T) {
	cases := []struct {
		name string
		msg  *tg.Message
		want MessageType
	}{
		{"text", &tg.Message{Message: "hello"}, MessageText},
		{"empty", &tg.Message{}, MessageUnknown},
		{"photo", &tg.Message{Media: &tg.MessageMediaPhoto{Photo: &tg.Photo{}}}, MessagePhoto},
		{"poll", &tg.Message{Media: &tg.MessageMediaPoll{}}, MessagePoll},
		{
			"video",
			&tg.Message{Media: &tg.MessageMediaDocument{Document: &tg.Document{
				Attributes: []tg.DocumentAttributeClass{&tg.DocumentAttributeVideo{}},
			}}},
			MessageVideo,
		},
		{
			"video note",
			&tg.Message{Media: &tg.MessageMediaDocument{Document: &tg.Document{
				Attributes: []tg.DocumentAttributeClass{&tg.DocumentAttributeVideo{RoundMessage: true}},
			}}},
			MessageVideoNote,
		},
		{
			"voice",
			&tg.Message{Media: &tg.MessageMediaDocument{Document: &tg.Document{
				Attributes: []tg.DocumentAttributeClass{&tg.DocumentAttributeAudio{Voice: true}},
			}}},
			MessageVoice,
		},
		{
			"audio",
			&tg.Message{Media: &tg.MessageMediaDocument{Document: &tg.Document{
				Attributes: []tg.DocumentAttributeClass{&tg.DocumentAttributeAudio{}},
			}}},
			MessageAudio,
		},
		{
			"sticker",
			&tg.Message{Media: &tg.MessageMediaDocument{Document: &tg.Document{
				Attributes: []tg.DocumentAttributeClass{&tg.DocumentAttributeSticker{}},
			}}},
			MessageSticker,
		},
		{
			"plain document",
			&tg.Message{Media: &tg.MessageMediaDocument{Document: &tg.Document{}}},
			MessageDocument,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DetectMessageType(tc.msg); got != tc.want {
				t.Fatalf("DetectMessageType(%s) = %v, want %v", tc.name, got, tc.want)
			}
		})
	}
}

func TestRandomID_DeterministicAndNonZero(t *testing.T) {
	a := randomID(42, 7)
	b := randomID(42, 7)
	if a != b {
		t.Fatalf("randomID not deterministic: %d != %d", a, b)
	}
	if a <= 0 {
		t.Fatalf("randomID must be a positive int63, got %d", a)
	}
	if c := randomID(43, 7); c == a {
		t.Fatalf("different seeds collided: %d", a)
	}
}

func TestInputMediaFromMessage(t *testing.T) {
	photo := &tg.MessageMediaPhoto{Photo: &tg.Photo{ID: 1, AccessHash: 2, FileReference: []byte("ref")}}
	m, err := inputMediaFromMessage(photo)
	if err != nil {
		t.Fatalf("inputMediaFromMessage(photo): %v", err)
	}
	ip, ok := m.(*tg.InputMediaPhoto)
	if !ok || ip.ID.ID != 1 || ip.ID.AccessHash != 2 {
		t.Fatalf("unexpected input media: %+v", m)
	}

	_, err = inputMediaFromMessage(&tg.MessageMediaPhoto{Photo: &tg.PhotoEmpty{}})
	if err == nil {
		t.Fatalf("expected error for expired photo")
	}

	_, err = inputMediaFromMessage(&tg.MessageMediaGeo{})
	if err == nil {
		t.Fatalf("expected error for unsupported media kind")
	}
}
