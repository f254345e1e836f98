// Package adminbot implements §4.7: a gotgbot-driven Telegram Bot API bot
// operators use to enrol accounts, toggle forwarding, edit delay/mode/expiry,
// manage target lists, and manage the operator roster. Every mutation goes
// straight through internal/store. Account-level mutations (enrolment,
// start/stop, delay, mode, expiry, deletion) then call
// supervisor.TriggerReload so the change takes effect immediately instead of
// waiting out the file-watch debounce; target-list and operator edits do
// not, and workers read the changed target list from the store at their
// next cycle.
//
// Grounded on ruslan-hut-wfsync/bot/tgbot.go's dispatcher/updater wiring
// (ext.NewDispatcher, ext.NewUpdater, StartPolling) and its
// plainResponse/requireAdmin idiom, generalised from that bot's fixed
// command set to the per-account dynamic commands SPEC_FULL.md §6a defines
// (`/start_<id>`, `/delay_<id>`, ...), matched via a single catch-all
// handlers.NewMessage(message.Text, ...) filter instead of one registration
// per account. Enrolment's three-step phone/code/password flow is grounded
// on original_source/bot_manager.py's _handle_user_authorization
// (send_code_request/sign_in(code)/sign_in(password)).
package adminbot

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/message"
	"go.uber.org/zap"

	"telegram-forwarder/internal/domain/supervisor"
	"telegram-forwarder/internal/infra/logger"
	"telegram-forwarder/internal/infra/throttle"
	"telegram-forwarder/internal/stats"
	"telegram-forwarder/internal/store"
)

// Options configures a Bot.
type Options struct {
	Token       string
	Store       *store.Store
	Supervisor  *supervisor.Supervisor
	Stats       *stats.Recorder
	SessionsDir string
	ThrottleRPS int
}

// Bot is the admin-facing Telegram Bot API front end.
type Bot struct {
	api        *gotgbot.Bot
	updater    *ext.Updater
	store      *store.Store
	supervisor *supervisor.Supervisor
	stats      *stats.Recorder
	sessions   string
	throttler  *throttle.Throttler

	mu          sync.Mutex
	enrollments map[int64]*enrollSession
}

// dynamicCommand matches one of the per-account commands SPEC_FULL.md §6a
// defines: verb_accountID, with an optional trailing argument string.
var dynamicCommand = regexp.MustCompile(`^/(start|stop|delay|mode|expiry|targets|addtarget|deltarget|deleteaccount)_([A-Za-z0-9_]+)(?:\s+(.*))?$`)

// New constructs a Bot. Call Start to begin polling.
func New(opts Options) (*Bot, error) {
	api, err := gotgbot.NewBot(opts.Token, nil)
	if err != nil {
		return nil, fmt.Errorf("adminbot: create bot: %w", err)
	}
	b := &Bot{
		api:         api,
		store:       opts.Store,
		supervisor:  opts.Supervisor,
		stats:       opts.Stats,
		sessions:    opts.SessionsDir,
		throttler:   throttle.New(opts.ThrottleRPS, throttle.WithMaxRetries(3)),
		enrollments: map[int64]*enrollSession{},
	}
	return b, nil
}

// Start wires the command dispatcher and begins long-polling. It blocks
// until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	b.throttler.Start(ctx)

	dispatcher := ext.NewDispatcher(&ext.DispatcherOpts{
		Error: func(_ *gotgbot.Bot, _ *ext.Context, err error) ext.DispatcherAction {
			logger.Sink(logger.SinkError).Error("adminbot: handling update", zap.Error(err))
			return ext.DispatcherActionNoop
		},
		MaxRoutines: ext.DefaultMaxRoutines,
	})
	b.updater = ext.NewUpdater(dispatcher, nil)

	dispatcher.AddHandler(handlers.NewCommand("start", b.cmdHelp))
	dispatcher.AddHandler(handlers.NewCommand("help", b.cmdHelp))
	dispatcher.AddHandler(handlers.NewCommand("addaccount", b.cmdAddAccount))
	dispatcher.AddHandler(handlers.NewCommand("accounts", b.cmdAccounts))
	dispatcher.AddHandler(handlers.NewCommand("code", b.cmdCode))
	dispatcher.AddHandler(handlers.NewCommand("password", b.cmdPassword))
	dispatcher.AddHandler(handlers.NewCommand("addop", b.cmdAddOperator))
	dispatcher.AddHandler(handlers.NewCommand("rmop", b.cmdRemoveOperator))
	dispatcher.AddHandler(handlers.NewCommand("adminlimit", b.cmdAdminLimit))
	dispatcher.AddHandler(handlers.NewMessage(message.Text, b.dispatchDynamic))

	if _, err := b.api.SetMyCommands([]gotgbot.BotCommand{
		{Command: "addaccount", Description: "Enrol a new account"},
		{Command: "accounts", Description: "List enrolled accounts"},
		{Command: "help", Description: "Show usage"},
	}, nil); err != nil {
		logger.Sink(logger.SinkError).Warn("adminbot: set commands", zap.Error(err))
	}

	if err := b.updater.StartPolling(b.api, &ext.PollingOpts{
		DropPendingUpdates: true,
		GetUpdatesOpts: &gotgbot.GetUpdatesOpts{
			Timeout: 9,
			RequestOpts: &gotgbot.RequestOpts{
				Timeout: 10 * time.Second,
			},
		},
	}); err != nil {
		return fmt.Errorf("adminbot: start polling: %w", err)
	}

	<-ctx.Done()
	b.Stop()
	return nil
}

// Stop halts polling and the outbound throttler.
func (b *Bot) Stop() {
	if b.updater != nil {
		b.updater.Stop()
	}
	b.throttler.Stop()
}

// dispatchDynamic matches the per-account commands and routes to the
// matching handler; any text that doesn't match a known verb is ignored.
func (b *Bot) dispatchDynamic(bot *gotgbot.Bot, ctx *ext.Context) error {
	text := ctx.EffectiveMessage.Text
	m := dynamicCommand.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	verb, accountID, arg := m[1], m[2], m[3]

	chatID := ctx.EffectiveUser.Id
	if !b.store.IsOperator(chatID) {
		return nil
	}

	switch verb {
	case "start":
		return b.setStart(chatID, accountID, true)
	case "stop":
		return b.setStart(chatID, accountID, false)
	case "delay":
		return b.setDelay(chatID, accountID, arg)
	case "mode":
		return b.setMode(chatID, accountID, arg)
	case "expiry":
		return b.setExpiry(chatID, accountID, arg)
	case "targets":
		return b.listTargets(chatID, accountID)
	case "addtarget":
		return b.addTargets(chatID, accountID, arg)
	case "deltarget":
		return b.deleteTargets(chatID, accountID, arg)
	case "deleteaccount":
		return b.deleteAccount(chatID, accountID)
	}
	return nil
}
