package malha

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrReadinessTimeout is returned when the busy overlay stays on screen past
// its deadline
var ErrReadinessTimeout = errors.New("page did not become idle")

const defaultPollInterval = 250 * time.Millisecond

// WaitUntilIdle waits for the busy overlay to show up and then to go away.
// The overlay not showing up at all is fine: the action was fast enough to
// finish before the first poll.
func WaitUntilIdle(ctx context.Context, page Page, opts ReadinessOptions) error {
	interval := opts.PollInterval
	appearCtx, cancel := context.WithTimeout(ctx, opts.AppearTimeout)
	_, _ = pollUntil(appearCtx, interval, func() (bool, error) {
		return page.Visible(appearCtx, opts.Overlay)
	})
	cancel()
	if err := ctx.Err(); err != nil {
		return err
	}

	disappearCtx, cancel := context.WithTimeout(ctx, opts.DisappearTimeout)
	defer cancel()

	var lastErr error
	ok, _ := pollUntil(disappearCtx, interval, func() (bool, error) {
		visible, err := page.Visible(disappearCtx, opts.Overlay)
		if err != nil {
			// The overlay is re-rendered with the page; keep polling
			lastErr = err
			return false, nil
		}
		return !visible, nil
	})
	if ok {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if lastErr != nil {
		return fmt.Errorf("%w after %s: %v", ErrReadinessTimeout, opts.DisappearTimeout, lastErr)
	}
	return fmt.Errorf("%w after %s", ErrReadinessTimeout, opts.DisappearTimeout)
}

// pollUntil calls cond every interval until it returns true, returns an
// error or ctx is done
func pollUntil(ctx context.Context, interval time.Duration, cond func() (bool, error)) (bool, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := cond()
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}
