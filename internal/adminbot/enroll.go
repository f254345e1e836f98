package adminbot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"go.uber.org/zap"

	"telegram-forwarder/internal/domain/model"
	"telegram-forwarder/internal/infra/logger"
	"telegram-forwarder/internal/telegram/client"
)

// enrollStage tracks where one operator's in-flight enrolment conversation
// is; one enrolment runs at a time per operator chat (§4.7 (i)-(iv)).
type enrollStage int

const (
	stageAwaitingCode enrollStage = iota
	stageAwaitingPassword
)

type enrollSession struct {
	accountID string
	phone     string
	apiID     int
	apiHash   string
	stage     enrollStage

	codeCh     chan string
	passwordCh chan string
	cancel     context.CancelFunc
}

// cmdAddAccount starts the enrolment flow. Usage:
//
//	/addaccount <account_id> <api_id> <api_hash> <phone>
func (b *Bot) cmdAddAccount(_ *gotgbot.Bot, ctx *ext.Context) error {
	chatID := ctx.EffectiveUser.Id
	if !b.requireOperator(chatID) {
		return nil
	}

	b.mu.Lock()
	if _, inFlight := b.enrollments[chatID]; inFlight {
		b.mu.Unlock()
		b.reply(chatID, "An enrolment is already in progress; send /code or /password, or wait for it to finish.")
		return nil
	}
	b.mu.Unlock()

	args := strings.Fields(ctx.EffectiveMessage.Text)
	if len(args) != 5 {
		b.reply(chatID, "Usage: /addaccount <account_id> <api_id> <api_hash> <phone>")
		return nil
	}
	accountID, apiIDStr, apiHash, phone := args[1], args[2], args[3], args[4]
	if b.accountExists(accountID) {
		b.replyf(chatID, "Account %q already exists.", accountID)
		return nil
	}
	apiID, err := strconv.Atoi(apiIDStr)
	if err != nil {
		b.reply(chatID, "api_id must be numeric.")
		return nil
	}
	if accountID != apiIDStr {
		b.reply(chatID, "account_id must equal api_id.")
		return nil
	}

	sessionFile := filepath.Join(b.sessions, model.SessionFileName(phone))
	enrollCtx, cancel := context.WithCancel(context.Background())
	session := &enrollSession{
		accountID:  accountID,
		phone:      phone,
		apiID:      apiID,
		apiHash:    apiHash,
		stage:      stageAwaitingCode,
		codeCh:     make(chan string, 1),
		passwordCh: make(chan string, 1),
		cancel:     cancel,
	}

	b.mu.Lock()
	b.enrollments[chatID] = session
	b.mu.Unlock()

	c := client.New(enrollCtx, client.Options{AccountID: accountID, APIID: apiID, APIHash: apiHash, SessionFile: sessionFile})
	go b.runEnrollment(enrollCtx, chatID, c, session)

	b.reply(chatID, "Sending login code...")
	return nil
}

func (b *Bot) runEnrollment(ctx context.Context, chatID int64, c *client.Client, session *enrollSession) {
	defer session.cancel()

	err := c.Run(ctx, func(runCtx context.Context) error {
		es, err := c.BeginEnrollment(runCtx, session.phone)
		if err != nil {
			return err
		}
		b.reply(chatID, "Code sent to "+session.phone+". Reply with /code <code>.")

		code, ok := waitFor(runCtx, session.codeCh)
		if !ok {
			return runCtx.Err()
		}
		if err := es.SubmitCode(runCtx, code); err != nil {
			if !errors.Is(err, client.ErrPasswordRequired) {
				return err
			}
			b.mu.Lock()
			session.stage = stageAwaitingPassword
			b.mu.Unlock()
			b.reply(chatID, "Two-factor authentication is enabled. Reply with /password <password>.")

			password, ok := waitFor(runCtx, session.passwordCh)
			if !ok {
				return runCtx.Err()
			}
			if err := es.SubmitPassword(runCtx, password); err != nil {
				return err
			}
		}
		return nil
	})

	b.mu.Lock()
	delete(b.enrollments, chatID)
	b.mu.Unlock()

	if err != nil {
		logger.Sink(logger.SinkError).Error("adminbot: enrolment failed", zap.String("account", session.accountID), zap.Error(err))
		b.replyf(chatID, "Enrolment of %s failed: %v", session.accountID, err)
		return
	}

	now := time.Now()
	sessionFile := filepath.Join(b.sessions, model.SessionFileName(session.phone))
	if err := b.store.EnrollAccount(session.accountID, session.apiID, session.apiHash, session.phone, sessionFile, now); err != nil {
		b.replyf(chatID, "Logged in, but saving %s failed: %v", session.accountID, err)
		return
	}
	b.supervisor.TriggerReload(context.Background())
	b.replyf(chatID, "%s enrolled. Use /start_%s to begin forwarding.", session.accountID, session.accountID)
}

// cmdCode delivers an operator-submitted login code to their in-flight
// enrolment, if one is waiting for it.
func (b *Bot) cmdCode(_ *gotgbot.Bot, ctx *ext.Context) error {
	return b.deliverEnrollmentInput(ctx, stageAwaitingCode, "/code")
}

// cmdPassword delivers an operator-submitted 2FA password to their in-flight
// enrolment, if one is waiting for it.
func (b *Bot) cmdPassword(_ *gotgbot.Bot, ctx *ext.Context) error {
	return b.deliverEnrollmentInput(ctx, stageAwaitingPassword, "/password")
}

func (b *Bot) deliverEnrollmentInput(ctx *ext.Context, want enrollStage, usage string) error {
	chatID := ctx.EffectiveUser.Id
	args := strings.SplitN(ctx.EffectiveMessage.Text, " ", 2)
	if len(args) != 2 || strings.TrimSpace(args[1]) == "" {
		b.reply(chatID, fmt.Sprintf("Usage: %s <value>", usage))
		return nil
	}
	value := strings.TrimSpace(args[1])

	b.mu.Lock()
	session, ok := b.enrollments[chatID]
	b.mu.Unlock()
	if !ok {
		b.reply(chatID, "No enrolment in progress.")
		return nil
	}
	if session.stage != want {
		b.reply(chatID, "Not expecting that right now.")
		return nil
	}

	var target chan string
	if want == stageAwaitingCode {
		target = session.codeCh
	} else {
		target = session.passwordCh
	}
	select {
	case target <- value:
	default:
	}
	return nil
}

func waitFor(ctx context.Context, ch chan string) (string, bool) {
	select {
	case <-ctx.Done():
		return "", false
	case v := <-ch:
		return v, true
	}
}
