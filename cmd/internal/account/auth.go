package account

import (
	"context"
	"errors"
	"log/slog"

	"projecthub/cmd/identity"
	"projecthub/cmd/internal/notify"
)

// PreRegister stages an account and mails its activation link.
//
// The email must be unknown to both the cache and the store; a store that
// cannot be reached is reported as such, never treated as "absent". If the
// notifier fails the pending registration stays in place and ErrTransport is
// returned.
func (s *Service) PreRegister(ctx context.Context, email, pw string, newsletterOptIn bool) (err error) {
	const op = "account.PreRegister"
	defer func() { s.record("pre_register", err) }()

	key := identity.NormalizeEmail(email)
	if key == "" {
		return identity.OpError{Op: op, Kind: identity.ErrInvalidInput, Msg: "email is required"}
	}
	if err := s.pw.Validate(pw); err != nil {
		return invalidInput(op, err)
	}

	if s.ids.UserExists(key) {
		return identity.OpError{Op: op, Kind: identity.ErrConflict, Msg: "email already registered"}
	}
	switch stored, err := s.docs.GetUser(ctx, key); {
	case err == nil:
		s.ids.InsertUserIfAbsent(stored)
		return identity.OpError{Op: op, Kind: identity.ErrConflict, Msg: "email already registered"}
	case !errors.Is(err, identity.ErrNotFound):
		return err
	}

	tok, err := s.ids.PreRegister(key, pw, newsletterOptIn)
	if err != nil {
		return err
	}

	msg := notify.Message{
		To:      key,
		Subject: "Activate your account",
		Body:    "Click this link to activate your account: " + s.activationLink(tok),
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		s.log.WarnContext(ctx, "account.pre_register.notify.fail", slog.Any("err", err))
		return identity.OpError{Op: op, Kind: identity.ErrTransport, Msg: "activation mail not delivered"}
	}
	return nil
}

// Activate consumes an activation token and persists the new user. If the
// store write fails the local activation is undone and the token stays usable.
func (s *Service) Activate(ctx context.Context, activationToken string) (u identity.User, err error) {
	defer func() { s.record("register", err) }()

	u, rollback, err := s.ids.Register(activationToken)
	if err != nil {
		return identity.User{}, err
	}
	stored, err := s.docs.PutUser(ctx, u)
	if err != nil {
		rollback()
		s.log.WarnContext(ctx, "account.register.commit.fail", slog.Any("err", err))
		return identity.User{}, err
	}
	s.ids.InsertUser(stored)
	return stored, nil
}

// Login authenticates email/password and returns a new session token.
// Unknown accounts and wrong passwords are both ErrUnauthorized.
func (s *Service) Login(ctx context.Context, email, pw string) (tok string, err error) {
	const op = "account.Login"
	defer func() { s.record("login", err) }()

	u, err := s.loadUser(ctx, identity.NormalizeEmail(email))
	switch {
	case errors.Is(err, identity.ErrNotFound), errors.Is(err, identity.ErrInvalidInput):
		// Burn a hash so unknown accounts cost the same as known ones.
		_, _ = s.ids.Login(pw, identity.User{})
		return "", identity.OpError{Op: op, Kind: identity.ErrUnauthorized, Msg: "invalid credentials"}
	case err != nil:
		return "", err
	}
	return s.ids.Login(pw, u)
}

// Logout ends the session named by tok.
func (s *Service) Logout(_ context.Context, tok string) {
	s.ids.Logout(tok)
	s.record("logout", nil)
}

// RequestPasswordReset mails a one-time reset link. It fails with
// ErrNotFound when the account exists neither locally nor in the store.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (err error) {
	const op = "account.RequestPasswordReset"
	defer func() { s.record("reset_request", err) }()

	key := identity.NormalizeEmail(email)
	if _, err := s.loadUser(ctx, key); err != nil {
		return err
	}
	code, err := s.ids.RequestResetCode(key)
	if err != nil {
		return err
	}

	msg := notify.Message{
		To:      key,
		Subject: "Password reset",
		Body:    "Click this link to reset your password: " + s.resetLink(code),
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		s.log.WarnContext(ctx, "account.reset_request.notify.fail", slog.Any("err", err))
		return identity.OpError{Op: op, Kind: identity.ErrTransport, Msg: "reset mail not delivered"}
	}
	return nil
}

// ResetPassword sets a new password for the account behind code. The code is
// consumed only once the new credentials are committed to the store.
func (s *Service) ResetPassword(ctx context.Context, code, newPassword string) (err error) {
	const op = "account.ResetPassword"
	defer func() { s.record("reset_confirm", err) }()

	email, ok := s.ids.EmailForResetCode(code)
	if !ok {
		return identity.OpError{Op: op, Kind: identity.ErrNotFound, Msg: "unknown reset code"}
	}
	if err := s.pw.Validate(newPassword); err != nil {
		return invalidInput(op, err)
	}

	unlock := s.lockAccount(email)
	defer unlock()

	current, err := s.loadUser(ctx, email)
	if err != nil {
		return err
	}

	changed, rollback := s.ids.ChangePassword(email, newPassword, current.NewsletterOptIn)
	stored, err := s.docs.PutCredentials(ctx, changed)
	if err != nil {
		rollback()
		s.log.WarnContext(ctx, "account.reset_confirm.commit.fail", slog.Any("err", err))
		return err
	}
	s.ids.RefreshUser(stored)
	s.ids.RemoveResetCode(code)
	return nil
}
