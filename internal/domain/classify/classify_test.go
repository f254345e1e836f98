package classify

import (
	"testing"
	"time"

	"github.com/gotd/td/tgerr"
)

func TestClassify_Taxonomy(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind Kind
	}{
		{"write forbidden", &tgerr.Error{Type: "CHAT_WRITE_FORBIDDEN"}, KindWriteForbidden},
		{"access denied", &tgerr.Error{Type: "CHANNEL_PRIVATE"}, KindAccessDenied},
		{"not participant", &tgerr.Error{Type: "USER_NOT_PARTICIPANT"}, KindNotParticipant},
		{"already participant", &tgerr.Error{Type: "USER_ALREADY_PARTICIPANT"}, KindAlreadyParticipant},
		{"invalid target", &tgerr.Error{Type: "PEER_ID_INVALID"}, KindInvalidTarget},
		{"topic closed", &tgerr.Error{Type: "TOPIC_CLOSED"}, KindTopicClosed},
		{"invite invalid", &tgerr.Error{Type: "INVITE_HASH_INVALID"}, KindInviteInvalid},
		{"unrecognised rpc error", &tgerr.Error{Type: "SOMETHING_ELSE"}, KindUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.err)
			if got.Kind != tc.kind {
				t.Fatalf("Classify(%v).Kind = %v, want %v", tc.err, got.Kind, tc.kind)
			}
		})
	}
}

func TestClassify_SlowMode(t *testing.T) {
	got := Classify(&tgerr.Error{Type: "SLOWMODE_WAIT", Argument: 45})
	if got.Kind != KindSlowMode {
		t.Fatalf("Kind = %v, want slow_mode", got.Kind)
	}
	if got.RetryAfter != 45*time.Second {
		t.Fatalf("RetryAfter = %v, want 45s", got.RetryAfter)
	}
}

func TestRetryPolicy_NonRetryableFailsFast(t *testing.T) {
	p := DefaultRetryPolicy()
	for _, k := range []Kind{KindAccessDenied, KindInvalidTarget, KindWriteForbidden, KindInviteInvalid, KindAlreadyParticipant} {
		d := p.Next(Classified{Kind: k}, 1)
		if d.Retry {
			t.Fatalf("kind %v must not be retried, got Retry=true", k)
		}
	}
}

func TestRetryPolicy_ExponentialBackoff(t *testing.T) {
	p := DefaultRetryPolicy()
	want := []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second}
	for attempt, w := range want {
		d := p.Next(Classified{Kind: KindUnknown}, attempt+1)
		if attempt+1 >= p.MaxRetries {
			if d.Retry {
				t.Fatalf("attempt %d: expected no retry at max_retries", attempt+1)
			}
			continue
		}
		if !d.Retry || d.Wait != w {
			t.Fatalf("attempt %d: got Retry=%v Wait=%v, want %v", attempt+1, d.Retry, d.Wait, w)
		}
	}
}

func TestRetryPolicy_FloodWaitUsesCarriedDelay(t *testing.T) {
	p := DefaultRetryPolicy()
	c := Classified{Kind: KindFloodWait, RetryAfter: 12 * time.Second}
	d := p.Next(c, 1)
	if !d.Retry || d.Wait != 12*time.Second {
		t.Fatalf("got Retry=%v Wait=%v, want Retry=true Wait=12s", d.Retry, d.Wait)
	}
}

func TestRetryPolicy_StopsAtMaxRetries(t *testing.T) {
	p := DefaultRetryPolicy()
	d := p.Next(Classified{Kind: KindUnknown}, p.MaxRetries)
	if d.Retry {
		t.Fatalf("expected no retry once attempt reaches max_retries")
	}
}
