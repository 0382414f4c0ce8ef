package services

import (
	"context"
	"time"

	"github.com/nexconsult/malha-fiscal/internal/malha"
	"github.com/nexconsult/malha-fiscal/internal/models"
	"github.com/nexconsult/malha-fiscal/internal/retry"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// PageRunner runs jobs on pages borrowed from a browser pool. Both the
// queue workers and the command line use it.
type PageRunner struct {
	browser BrowserServiceInterface
	runner  JobRunner
	limiter *rate.Limiter
	logger  *logrus.Logger
}

// NewPageRunner creates a runner. A positive actionsPerMinute paces the
// portal actions of every page it hands out, shared across jobs.
func NewPageRunner(browser BrowserServiceInterface, runner JobRunner, actionsPerMinute int, logger *logrus.Logger) *PageRunner {
	p := &PageRunner{
		browser: browser,
		runner:  runner,
		logger:  logger,
	}
	if actionsPerMinute > 0 {
		p.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(actionsPerMinute)), 1)
	}
	return p
}

// Execute runs job until it succeeds or policy gives up. onAttempt is
// called before every attempt.
func (p *PageRunner) Execute(ctx context.Context, job models.Job, policy retry.Policy, onAttempt func(attempt int)) (*malha.Outcome, int, error) {
	var outcome *malha.Outcome
	attempts, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		if onAttempt != nil {
			onAttempt(attempt)
		}
		var err error
		outcome, err = p.RunOnce(ctx, job)
		return err
	})
	return outcome, attempts, err
}

// RunOnce runs a single attempt on a freshly acquired page
func (p *PageRunner) RunOnce(ctx context.Context, job models.Job) (*malha.Outcome, error) {
	page, err := p.browser.AcquirePage(ctx, job)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := p.browser.ReleasePage(page); err != nil {
			p.logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to release page")
		}
	}()

	var driven malha.Page = page
	if p.limiter != nil {
		driven = malha.NewPacedPage(page, p.limiter)
	}
	return p.runner.Run(ctx, driven, job)
}
