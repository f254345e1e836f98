// Package client builds and drives one account's gotd MTProto client: session
// storage, flood-wait middleware, connection monitoring, and the two login
// paths the engine needs — interactive console auth (§6
// TELEGRAM_HEADLESS=false) and the admin bot's programmatic send-code/sign-in
// flow (§4.7 enrolment).
//
// Grounded on the teacher's internal/app/runner.go (telegram.Options shape,
// floodwait.Waiter wrapping client.Run, device config) and
// internal/app/app.go's commented ClientCore draft for the per-client
// construction shape; generalised from the teacher's single process-global
// client to one Client value per account, each with its own Waiter and
// Monitor instead of shared package state.
package client

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/td/telegram"
	tgauth "github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"

	localauth "telegram-forwarder/internal/telegram/auth"

	"telegram-forwarder/internal/infra/telegram/connection"
	"telegram-forwarder/internal/infra/telegram/session"
)

// Options configures construction of a single account's Client.
type Options struct {
	AccountID   string
	APIID       int
	APIHash     string
	SessionFile string
}

// Client wraps one account's MTProto engine together with the flood-wait
// middleware and connection monitor a worker (§4.4) needs to run unattended.
type Client struct {
	AccountID string
	Raw       *telegram.Client
	API       *tg.Client
	Monitor   *connection.Monitor

	waiter *floodwait.Waiter
}

// New constructs a Client for one account. The MTProto engine is not started
// yet — call Run to start it and Authorize/BeginEnrollment from inside the
// Run callback (or another Run callback sharing the same Raw client) to
// complete login.
func New(ctx context.Context, opts Options) *Client {
	sessionStorage := &session.FileStorage{Path: opts.SessionFile}
	waiter := floodwait.NewWaiter()

	c := &Client{AccountID: opts.AccountID, waiter: waiter}

	raw := telegram.NewClient(opts.APIID, opts.APIHash, telegram.Options{
		SessionStorage: sessionStorage,
		Middlewares:    []telegram.Middleware{waiter},
		Device: telegram.DeviceConfig{
			DeviceModel:   "telegram-forwarder",
			SystemVersion: "linux",
			AppVersion:    "1.0.0",
		},
		OnDead: func() {
			if c.Monitor != nil {
				c.Monitor.MarkDisconnected()
			}
		},
	})

	c.Raw = raw
	c.API = raw.API()
	c.Monitor = connection.New(ctx, raw, opts.AccountID)
	sessionStorage.OnStore = c.Monitor.MarkConnected
	return c
}

// Run starts the MTProto engine under the flood-wait middleware and invokes
// fn once connected, blocking until fn returns or ctx is cancelled. A single
// Run invocation is expected to span a worker's entire lifetime; enrolment
// and forwarding both run fn bodies inside the same connection.
func (c *Client) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.waiter.Run(ctx, func(ctx context.Context) error {
		return c.Raw.Run(ctx, fn)
	})
}

// AuthorizeInteractive performs terminal-driven login for the console
// enrolment fallback.
func (c *Client) AuthorizeInteractive(ctx context.Context, phone string) error {
	flow := tgauth.NewFlow(localauth.TerminalAuthenticator{PhoneNumber: phone}, tgauth.SendCodeOptions{})
	if err := c.Raw.Auth().IfNecessary(ctx, flow); err != nil {
		return fmt.Errorf("client: interactive auth: %w", err)
	}
	return nil
}

// Authorized reports whether the current session is already logged in,
// without triggering any interactive or programmatic login flow.
func (c *Client) Authorized(ctx context.Context) (bool, error) {
	status, err := c.Raw.Auth().Status(ctx)
	if err != nil {
		return false, fmt.Errorf("client: auth status: %w", err)
	}
	return status.Authorized, nil
}

// Self returns the authenticated user, confirming the session is valid.
func (c *Client) Self(ctx context.Context) (*tg.User, error) {
	return c.Raw.Self(ctx)
}

// ErrPasswordRequired is returned by EnrollmentSession.SubmitCode when the
// account has two-factor authentication enabled and a password submission is
// required before login completes.
var ErrPasswordRequired = errors.New("client: 2fa password required")

// EnrollmentSession drives the admin bot's multi-step enrolment flow (§4.7):
// send the login code, stash the phone_code_hash Telegram returns, and accept
// the operator-submitted code (and optional 2FA password) without any
// console interaction.
type EnrollmentSession struct {
	client   *Client
	phone    string
	codeHash string
}

// BeginEnrollment requests a login code for phone and returns a session
// carrying the phone_code_hash needed to complete sign-in. Must be called
// from inside an active Run callback.
func (c *Client) BeginEnrollment(ctx context.Context, phone string) (*EnrollmentSession, error) {
	sentCode, err := c.Raw.Auth().SendCode(ctx, phone, tgauth.SendCodeOptions{})
	if err != nil {
		return nil, fmt.Errorf("client: send code: %w", err)
	}
	sc, ok := sentCode.(*tg.AuthSentCode)
	if !ok {
		return nil, fmt.Errorf("client: unexpected sent-code response %T", sentCode)
	}
	return &EnrollmentSession{client: c, phone: phone, codeHash: sc.PhoneCodeHash}, nil
}

// SubmitCode completes sign-in with the operator-provided code. Returns
// ErrPasswordRequired if the account has 2FA enabled, in which case the
// admin bot should prompt for a password and call SubmitPassword.
func (s *EnrollmentSession) SubmitCode(ctx context.Context, code string) error {
	_, err := s.client.Raw.Auth().SignIn(ctx, s.phone, code, s.codeHash)
	if err == nil {
		return nil
	}
	if errors.Is(err, tgauth.ErrPasswordAuthNeeded) {
		return ErrPasswordRequired
	}
	return fmt.Errorf("client: sign in: %w", err)
}

// SubmitPassword completes a 2FA login after SubmitCode returned
// ErrPasswordRequired.
func (s *EnrollmentSession) SubmitPassword(ctx context.Context, password string) error {
	if _, err := s.client.Raw.Auth().Password(ctx, password); err != nil {
		return fmt.Errorf("client: submit 2fa password: %w", err)
	}
	return nil
}
