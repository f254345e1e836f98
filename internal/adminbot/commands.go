package adminbot

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"go.uber.org/zap"

	"telegram-forwarder/internal/domain/model"
	"telegram-forwarder/internal/infra/logger"
)

func (b *Bot) cmdHelp(_ *gotgbot.Bot, ctx *ext.Context) error {
	chatID := ctx.EffectiveUser.Id
	if !b.store.IsOperator(chatID) {
		b.reply(chatID, "This bot is operated by invitation only.")
		return nil
	}
	b.reply(chatID, strings.Join([]string{
		"/addaccount - enrol a new account",
		"/accounts - list enrolled accounts",
		"/start_<id>, /stop_<id> - toggle forwarding",
		"/delay_<id> <spec> - set delay (e.g. 30s, 5m)",
		"/mode_<id> <preserve|silent|copy> - set forward mode",
		"/expiry_<id> <unlimited|+1m|+3m|+6m|+1y> - set expiry",
		"/targets_<id>, /addtarget_<id> <url...>, /deltarget_<id> <n...>",
		"/deleteaccount_<id> - remove an account entirely",
		"/addop <id>, /rmop <id>, /adminlimit <n> - primary operator only",
	}, "\n"))
	return nil
}

func (b *Bot) cmdAccounts(_ *gotgbot.Bot, ctx *ext.Context) error {
	chatID := ctx.EffectiveUser.Id
	if !b.requireOperator(chatID) {
		return nil
	}
	accounts := b.store.Accounts()
	if len(accounts) == 0 {
		b.reply(chatID, "No accounts enrolled yet.")
		return nil
	}
	now := time.Now()
	var lines []string
	for id, acc := range accounts {
		status := "stopped"
		if acc.IsExpired(now) {
			status = "expired"
		} else if st, _, ok := b.supervisor.WorkerState(id); ok {
			status = st.String()
		} else if acc.Start {
			status = "pending"
		}
		lines = append(lines, id+": "+status)
		if summary, ok := b.stats.Summary(id); ok {
			lines = append(lines, "  today: "+strconv.Itoa(summary.Successful)+" ok, "+strconv.Itoa(summary.Failed)+" failed")
		}
	}
	b.reply(chatID, strings.Join(lines, "\n"))
	return nil
}

func (b *Bot) cmdAddOperator(_ *gotgbot.Bot, ctx *ext.Context) error {
	chatID := ctx.EffectiveUser.Id
	if !b.requirePrimary(chatID) {
		return nil
	}
	args := strings.Fields(ctx.EffectiveMessage.Text)
	if len(args) != 2 {
		b.reply(chatID, "Usage: /addop <telegram_id>")
		return nil
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		b.reply(chatID, "Invalid telegram id.")
		return nil
	}
	if err := b.store.AddSecondaryOperator(id); err != nil {
		b.replyf(chatID, "Could not add operator: %v", err)
		return nil
	}
	b.replyf(chatID, "Operator %d added.", id)
	return nil
}

func (b *Bot) cmdRemoveOperator(_ *gotgbot.Bot, ctx *ext.Context) error {
	chatID := ctx.EffectiveUser.Id
	if !b.requirePrimary(chatID) {
		return nil
	}
	args := strings.Fields(ctx.EffectiveMessage.Text)
	if len(args) != 2 {
		b.reply(chatID, "Usage: /rmop <telegram_id>")
		return nil
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		b.reply(chatID, "Invalid telegram id.")
		return nil
	}
	if err := b.store.RemoveSecondaryOperator(id); err != nil {
		b.replyf(chatID, "Could not remove operator: %v", err)
		return nil
	}
	b.replyf(chatID, "Operator %d removed.", id)
	return nil
}

func (b *Bot) cmdAdminLimit(_ *gotgbot.Bot, ctx *ext.Context) error {
	chatID := ctx.EffectiveUser.Id
	if !b.requirePrimary(chatID) {
		return nil
	}
	args := strings.Fields(ctx.EffectiveMessage.Text)
	if len(args) != 2 {
		b.reply(chatID, "Usage: /adminlimit <n>")
		return nil
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		b.reply(chatID, "Invalid number.")
		return nil
	}
	if err := b.store.SetAdminLimit(n); err != nil {
		b.replyf(chatID, "Could not set admin limit: %v", err)
		return nil
	}
	b.replyf(chatID, "Admin limit set to %d.", n)
	return nil
}

func (b *Bot) setStart(chatID int64, accountID string, start bool) error {
	if !b.requireOperator(chatID) {
		return nil
	}
	if !b.accountExists(accountID) {
		b.replyf(chatID, "Unknown account %q.", accountID)
		return nil
	}
	if err := b.store.SetStart(accountID, start, time.Now()); err != nil {
		b.replyf(chatID, "Could not update %q: %v", accountID, err)
		return nil
	}
	b.supervisor.TriggerReload(context.Background())
	verb := "stopped"
	if start {
		verb = "started"
	}
	b.replyf(chatID, "%s %s.", accountID, verb)
	return nil
}

func (b *Bot) setDelay(chatID int64, accountID, arg string) error {
	if !b.requireOperator(chatID) {
		return nil
	}
	arg = strings.TrimSpace(arg)
	if arg == "" || !b.accountExists(accountID) {
		b.reply(chatID, "Usage: /delay_<id> <spec>, e.g. /delay_acct1 30s")
		return nil
	}
	delay := model.FormatDelay(model.ParseDelay(arg))
	if err := b.store.SetDelay(accountID, delay, time.Now()); err != nil {
		b.replyf(chatID, "Could not set delay: %v", err)
		return nil
	}
	b.supervisor.TriggerReload(context.Background())
	b.replyf(chatID, "%s delay set to %s (applies at the next cycle).", accountID, delay)
	return nil
}

func (b *Bot) setMode(chatID int64, accountID, arg string) error {
	if !b.requireOperator(chatID) {
		return nil
	}
	var mode model.ForwardMode
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "preserve":
		mode = model.ModePreserveOriginal
	case "silent":
		mode = model.ModeSilent
	case "copy":
		mode = model.ModeAsCopy
	default:
		b.reply(chatID, "Usage: /mode_<id> <preserve|silent|copy>")
		return nil
	}
	if !b.accountExists(accountID) {
		b.replyf(chatID, "Unknown account %q.", accountID)
		return nil
	}
	if err := b.store.SetForwardMode(accountID, mode, time.Now()); err != nil {
		b.replyf(chatID, "Could not set mode: %v", err)
		return nil
	}
	b.supervisor.TriggerReload(context.Background())
	b.replyf(chatID, "%s forward mode set to %s.", accountID, arg)
	return nil
}

func (b *Bot) setExpiry(chatID int64, accountID, arg string) error {
	if !b.requireOperator(chatID) {
		return nil
	}
	if !b.accountExists(accountID) {
		b.replyf(chatID, "Unknown account %q.", accountID)
		return nil
	}
	now := time.Now()
	var expiry *time.Time
	switch model.ExpiryPreset(strings.TrimSpace(arg)) {
	case model.ExpiryUnlimited, model.ExpiryOneMonth, model.ExpiryThreeMonths, model.ExpirySixMonths, model.ExpiryOneYear:
		expiry = model.ResolveExpiryPreset(model.ExpiryPreset(arg), now)
	default:
		parsed, err := model.ParseExpiry(arg)
		if err != nil {
			b.reply(chatID, "Usage: /expiry_<id> <unlimited|+1m|+3m|+6m|+1y|YYYY-MM-DD-HH:MM:SS>")
			return nil
		}
		expiry = parsed
	}
	if err := b.store.SetExpiry(accountID, expiry, now); err != nil {
		b.replyf(chatID, "Could not set expiry: %v", err)
		return nil
	}
	b.supervisor.TriggerReload(context.Background())
	b.replyf(chatID, "%s expiry set to %s.", accountID, model.FormatExpiry(expiry))
	return nil
}

func (b *Bot) listTargets(chatID int64, accountID string) error {
	if !b.requireOperator(chatID) {
		return nil
	}
	if !b.accountExists(accountID) {
		b.replyf(chatID, "Unknown account %q.", accountID)
		return nil
	}
	targets := b.store.ListTargets(accountID)
	if len(targets) == 0 {
		b.replyf(chatID, "%s has no targets.", accountID)
		return nil
	}
	var lines []string
	for i, t := range targets {
		state := "active"
		if !t.Active {
			state = "inactive"
		}
		lines = append(lines, strconv.Itoa(i+1)+". "+t.URL+" ("+state+")")
	}
	b.reply(chatID, strings.Join(lines, "\n"))
	return nil
}

func (b *Bot) addTargets(chatID int64, accountID, arg string) error {
	if !b.requireOperator(chatID) {
		return nil
	}
	urls := strings.Fields(arg)
	if len(urls) == 0 || !b.accountExists(accountID) {
		b.reply(chatID, "Usage: /addtarget_<id> <url> [url...]")
		return nil
	}
	if err := b.store.AddTargets(accountID, urls, time.Now()); err != nil {
		b.replyf(chatID, "Could not add targets: %v", err)
		return nil
	}
	b.replyf(chatID, "Added %d target(s) to %s.", len(urls), accountID)
	return nil
}

func (b *Bot) deleteTargets(chatID int64, accountID, arg string) error {
	if !b.requireOperator(chatID) {
		return nil
	}
	fields := strings.Fields(arg)
	if len(fields) == 0 || !b.accountExists(accountID) {
		b.reply(chatID, "Usage: /deltarget_<id> <index> [index...]")
		return nil
	}
	indices := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			b.reply(chatID, "Indices must be numbers.")
			return nil
		}
		indices = append(indices, n)
	}
	if err := b.store.DeleteTargets(accountID, indices); err != nil {
		b.replyf(chatID, "Could not delete targets: %v", err)
		return nil
	}
	b.replyf(chatID, "Deleted %d target(s) from %s.", len(indices), accountID)
	return nil
}

func (b *Bot) deleteAccount(chatID int64, accountID string) error {
	if !b.requireOperator(chatID) {
		return nil
	}
	acc, ok := b.store.Account(accountID)
	if !ok {
		b.replyf(chatID, "Unknown account %q.", accountID)
		return nil
	}
	if err := b.store.DeleteAccount(accountID); err != nil {
		b.replyf(chatID, "Could not delete %q: %v", accountID, err)
		return nil
	}
	b.supervisor.TriggerReload(context.Background())
	b.removeSessionFile(accountID, acc.Phone, acc.SessionFile)
	b.replyf(chatID, "%s deleted.", accountID)
	return nil
}

// removeSessionFile deletes the account's on-disk MTProto session (§3, §4.7):
// store.DeleteAccount only removes the document entry and leaves the session
// file on disk by design, so the caller is responsible for it.
func (b *Bot) removeSessionFile(accountID, phone, sessionFile string) {
	if sessionFile == "" {
		sessionFile = filepath.Join(b.sessions, model.SessionFileName(phone))
	}
	if err := os.Remove(sessionFile); err != nil && !os.IsNotExist(err) {
		logger.Sink(logger.SinkError).Warn("adminbot: remove session file", zap.String("account", accountID), zap.Error(err))
	}
}
