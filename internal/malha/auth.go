package malha

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nexconsult/malha-fiscal/internal/retry"
)

var (
	// ErrLoginEntryMissing means the sign-in link never showed up. The portal
	// layout changed or the portal is down; retrying will not help.
	ErrLoginEntryMissing = errors.New("login entry point not found")

	// ErrAuthTimeout means neither the rejection banner nor the logged-in
	// indicator appeared in time
	ErrAuthTimeout = errors.New("authentication outcome not observed")
)

// Authenticate signs in to the portal with the given credentials and updates
// the session state. A rejection is reported through the returned state with
// a nil error.
func Authenticate(ctx context.Context, s *Session, login, password string) (AuthState, error) {
	opts := s.opts
	sel := opts.Selectors
	page := s.Page

	if err := page.Navigate(ctx, opts.RootURL()); err != nil {
		return s.fail(fmt.Errorf("failed to open portal: %w", err))
	}

	if err := waitVisible(ctx, page, sel.SignInLink, opts.SignInTimeout); err != nil {
		if ctx.Err() != nil {
			return s.fail(ctx.Err())
		}
		return s.fail(retry.Permanent(fmt.Errorf("%w: %v", ErrLoginEntryMissing, err)))
	}
	if err := bounded(ctx, opts.ElementTimeout, func(ctx context.Context) error {
		return page.Click(ctx, sel.SignInLink)
	}); err != nil {
		return s.fail(fmt.Errorf("failed to open login form: %w", err))
	}

	if err := waitVisible(ctx, page, sel.Username, opts.ElementTimeout); err != nil {
		return s.fail(fmt.Errorf("login form not shown: %w", err))
	}
	if err := bounded(ctx, opts.ElementTimeout, func(ctx context.Context) error {
		return page.SendKeys(ctx, sel.Username, login)
	}); err != nil {
		return s.fail(fmt.Errorf("failed to type login: %w", err))
	}
	if err := bounded(ctx, opts.ElementTimeout, func(ctx context.Context) error {
		return page.SendKeys(ctx, sel.Password, password)
	}); err != nil {
		return s.fail(fmt.Errorf("failed to type password: %w", err))
	}
	if err := bounded(ctx, opts.ElementTimeout, func(ctx context.Context) error {
		return page.Click(ctx, sel.LoginButton)
	}); err != nil {
		return s.fail(fmt.Errorf("failed to submit login: %w", err))
	}

	raceCtx, cancel := context.WithTimeout(ctx, opts.AuthTimeout)
	defer cancel()

	state := Unauthenticated
	_, err := pollUntil(raceCtx, opts.AuthPollInterval, func() (bool, error) {
		// The banner is checked first so that both signals present fails closed
		rejected, err := page.Exists(raceCtx, sel.LoginError)
		if err == nil && rejected {
			state = Rejected
			return true, nil
		}
		logged, err := page.Exists(raceCtx, sel.LoggedUser)
		if err == nil && logged {
			state = Authenticated
			return true, nil
		}
		return false, nil
	})

	switch state {
	case Rejected, Authenticated:
		s.State = state
		return state, nil
	}
	if ctx.Err() != nil {
		return s.fail(ctx.Err())
	}
	return s.fail(fmt.Errorf("%w within %s: %v", ErrAuthTimeout, opts.AuthTimeout, err))
}

func (s *Session) fail(err error) (AuthState, error) {
	s.State = Unauthenticated
	return AuthFailure, err
}

func waitVisible(ctx context.Context, page Page, selector string, timeout time.Duration) error {
	return bounded(ctx, timeout, func(ctx context.Context) error {
		return page.WaitVisible(ctx, selector)
	})
}

// bounded runs a single page action under its own timeout
func bounded(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	actionCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(actionCtx)
}
