// Package classify implements the closed error taxonomy and retry policy of
// §4.3: every error a forwarding attempt can produce maps to exactly one Kind,
// and RetryPolicy decides whether/how long to wait before the next attempt.
// Grounded on original_source/message_forwarder.py's exception handling for
// the taxonomy shape, and on the teacher's
// internal/adapters/telegram/notifier/client_wait_extractor.go for the
// tgerr.AsFloodWait extraction pattern specifically. The fixed
// base·2^(attempt-1) backoff is spec-original and does not reuse the
// teacher's internal/infra/throttle jittered backoff.
package classify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gotd/td/tgerr"
)

// Kind is the closed error taxonomy of §4.3.
type Kind int

const (
	KindUnknown Kind = iota
	KindFloodWait
	KindSlowMode
	KindAccessDenied
	KindWriteForbidden
	KindNotParticipant
	KindInvalidTarget
	KindTopicClosed
	KindInviteInvalid
	KindAlreadyParticipant
)

func (k Kind) String() string {
	switch k {
	case KindFloodWait:
		return "flood_wait"
	case KindSlowMode:
		return "slow_mode"
	case KindAccessDenied:
		return "access_denied"
	case KindWriteForbidden:
		return "write_forbidden"
	case KindNotParticipant:
		return "not_participant"
	case KindInvalidTarget:
		return "invalid_target"
	case KindTopicClosed:
		return "topic_closed"
	case KindInviteInvalid:
		return "invite_invalid"
	case KindAlreadyParticipant:
		return "already_participant"
	default:
		return "unknown"
	}
}

// Classified is the outcome of classifying a single forwarding-attempt error.
type Classified struct {
	Kind       Kind
	RetryAfter time.Duration // meaningful only for flood_wait/slow_mode
	Err        error
}

// nonRetryable is the fail-fast set of §4.3: these never get a second attempt
// within the same cycle regardless of attempts remaining.
var nonRetryable = map[Kind]bool{
	KindAccessDenied:       true,
	KindInvalidTarget:      true,
	KindWriteForbidden:     true,
	KindInviteInvalid:      true,
	KindAlreadyParticipant: true,
}

// Retryable reports whether c's kind may be retried within the current cycle.
func (c Classified) Retryable() bool {
	return !nonRetryable[c.Kind]
}

// Classify maps err onto the closed taxonomy. A nil err has no defined Kind
// and must not be passed in; callers classify only on failure.
func Classify(err error) Classified {
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return Classified{Kind: KindFloodWait, RetryAfter: wait + time.Second, Err: err}
	}

	var rpcErr *tgerr.Error
	if errors.As(err, &rpcErr) {
		if wait, ok := slowModeWait(rpcErr); ok {
			return Classified{Kind: KindSlowMode, RetryAfter: wait, Err: err}
		}
		return Classified{Kind: typeToKind(rpcErr.Type), Err: err}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Classified{Kind: KindUnknown, Err: err}
	}

	return Classified{Kind: KindUnknown, Err: err}
}

func slowModeWait(rpcErr *tgerr.Error) (time.Duration, bool) {
	if rpcErr.Type != "SLOWMODE_WAIT" {
		return 0, false
	}
	return time.Duration(rpcErr.Argument) * time.Second, true
}

func typeToKind(typ string) Kind {
	switch {
	case typ == "CHAT_WRITE_FORBIDDEN", typ == "USER_BANNED_IN_CHANNEL", typ == "CHAT_SEND_PLAIN_FORBIDDEN",
		typ == "CHAT_SEND_MEDIA_FORBIDDEN", typ == "CHAT_RESTRICTED":
		return KindWriteForbidden
	case typ == "CHANNEL_PRIVATE", typ == "USER_PRIVACY_RESTRICTED", typ == "CHAT_ADMIN_REQUIRED",
		typ == "CHANNEL_PUBLIC_GROUP_NA", typ == "USER_DEACTIVATED", typ == "USER_DEACTIVATED_BAN":
		return KindAccessDenied
	case typ == "USER_NOT_PARTICIPANT", typ == "CHANNEL_PRIVATE_INVALID":
		return KindNotParticipant
	case typ == "USER_ALREADY_PARTICIPANT":
		return KindAlreadyParticipant
	case typ == "PEER_ID_INVALID", typ == "CHANNEL_INVALID", typ == "USERNAME_NOT_OCCUPIED",
		typ == "USERNAME_INVALID", typ == "PEER_ID_NOT_SUPPORTED":
		return KindInvalidTarget
	case typ == "TOPIC_CLOSED", typ == "MSG_ID_INVALID", typ == "TOPIC_DELETED":
		return KindTopicClosed
	case typ == "INVITE_HASH_INVALID", typ == "INVITE_HASH_EXPIRED", typ == "INVITE_REQUEST_SENT",
		strings.HasPrefix(typ, "INVITE_HASH"):
		return KindInviteInvalid
	default:
		return KindUnknown
	}
}

// RetryPolicy implements the §4.3 backoff schedule: fixed exponential
// base·2^(attempt-1) for generically-retryable kinds, the error's own
// carried delay for flood_wait/slow_mode, and no wait (fail fast) for the
// non-retryable set.
type RetryPolicy struct {
	Base       time.Duration
	MaxRetries int
}

// DefaultRetryPolicy is base=30s, max_retries=3 per §4.3.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: 30 * time.Second, MaxRetries: 3}
}

// Decision is what the worker should do after a failed forwarding attempt.
type Decision struct {
	Retry bool
	Wait  time.Duration
}

// Next decides whether attempt (1-based, the attempt that just failed with c)
// should be retried, and if so after how long.
func (p RetryPolicy) Next(c Classified, attempt int) Decision {
	if !c.Retryable() {
		return Decision{Retry: false}
	}
	if attempt >= p.MaxRetries {
		return Decision{Retry: false}
	}
	switch c.Kind {
	case KindFloodWait, KindSlowMode:
		return Decision{Retry: true, Wait: c.RetryAfter}
	default:
		return Decision{Retry: true, Wait: p.Base * time.Duration(1<<uint(attempt-1))}
	}
}
