package urlparse

import (
	"strings"
	"testing"
)

func TestParse_Kinds(t *testing.T) {
	cases := []struct {
		name string
		url  string
		kind Kind
		valid bool
	}{
		{"public channel", "https://t.me/durov", KindPublicChannel, true},
		{"public topic", "https://t.me/durov/123", KindPublicTopic, true},
		{"private channel", "https://t.me/c/1234567890", KindPrivateChannel, true},
		{"private topic", "https://t.me/c/1234567890/42", KindPrivateTopic, true},
		{"joinchat", "https://t.me/joinchat/AAAAAAAAAAAAAAAAAA", KindInviteLink, true},
		{"invite plus", "https://t.me/+AAAAAAAAAAAAAAAAAAAAAA", KindInviteLink, true},
		{"at username", "@durov_dev", KindUsername, true},
		{"bare username", "durov_dev", KindUsername, true},
		{"chat id", "-1001234567890", KindChatID, true},
		{"positive chat id", "123456", KindChatID, true},
		{"empty", "", KindInvalid, false},
		{"short invite", "https://t.me/+short", KindInviteLink, false},
		{"zero topic rejected", "https://t.me/durov/0", KindInvalid, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Parse(tc.url)
			if got.Kind != tc.kind {
				t.Fatalf("Parse(%q).Kind = %v, want %v", tc.url, got.Kind, tc.kind)
			}
			if got.Valid != tc.valid {
				t.Fatalf("Parse(%q).Valid = %v, want %v", tc.url, got.Valid, tc.valid)
			}
		})
	}
}

func TestNormalizeChatID(t *testing.T) {
	if got := NormalizeChatID(1234567890); got != -1001234567890 {
		t.Fatalf("NormalizeChatID(1234567890) = %d, want -1001234567890", got)
	}
	if got := NormalizeChatID(-1001234567890); got != -1001234567890 {
		t.Fatalf("NormalizeChatID(-1001234567890) = %d, want unchanged", got)
	}
}

func TestAmbiguousBareHashIsUsername(t *testing.T) {
	// §9 Open Question: a bare https://t.me/<hash-like string> without a
	// +/joinchat prefix is never an invite link. A 26-char all-letter path
	// would have matched the original's invite_link_hash rule (len >= 22);
	// here it must resolve as a public_channel username instead.
	p := Parse("https://t.me/aaaaaaaaaaaaaaaaaaaaaaaaaa")
	if p.Kind != KindPublicChannel || !p.Valid {
		t.Fatalf("expected public_channel, got kind=%v valid=%v", p.Kind, p.Valid)
	}

	// A path exceeding the username grammar's 32-char cap matches no rule at
	// all and is not a bare-username fallback either (it still carries the
	// https://t.me/ prefix), so it is invalid.
	p2 := Parse("https://t.me/" + strings.Repeat("a", 40))
	if p2.Kind != KindInvalid {
		t.Fatalf("expected overlong path to be invalid, got kind=%v", p2.Kind)
	}
}

func TestRoundTrip(t *testing.T) {
	urls := []string{
		"https://t.me/durov",
		"https://t.me/durov/123",
		"https://t.me/c/1234567890",
		"https://t.me/c/1234567890/42",
		"https://t.me/+AAAAAAAAAAAAAAAAAAAAAA",
	}
	for _, u := range urls {
		p1 := Parse(u)
		if !p1.Valid {
			t.Fatalf("Parse(%q) unexpectedly invalid", u)
		}
		p2 := Parse(Format(p1))
		p1.OriginalURL, p2.OriginalURL = "", ""
		if p1 != p2 {
			t.Fatalf("round trip mismatch for %q: %+v != %+v", u, p1, p2)
		}
	}
}
