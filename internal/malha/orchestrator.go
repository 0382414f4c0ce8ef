package malha

import (
	"context"
	"errors"
	"fmt"

	"github.com/nexconsult/malha-fiscal/internal/models"
	"github.com/nexconsult/malha-fiscal/internal/retry"
	"github.com/sirupsen/logrus"
)

// Store is the artifact tree the orchestrator reads and writes
type Store interface {
	IsComplete(cell models.Cell) bool
	LoadTable(cell models.Cell) ([]models.TableRow, error)
	Documents(cell models.Cell) ([]string, error)
	SaveTable(ctx context.Context, cell models.Cell, rows []models.TableRow) error
	SaveScreenshot(ctx context.Context, cell models.Cell, png []byte) error
	SaveDocument(ctx context.Context, cell models.Cell, name string, data []byte) error
	WriteReport(ctx context.Context, account string, lines []string) error
	LockAccount(ctx context.Context, account string) (func() error, error)
}

// SummaryDocument is the name of the aggregate report PDF of a cell
const SummaryDocument = "relatorio"

// Outcome is what a job produced. Result is nil when the credentials were
// rejected.
type Outcome struct {
	JobID   string
	Account string
	State   State
	Auth    AuthState
	Result  *models.CompanyResult
	Stats   models.JobStats
	Report  []string
}

// Orchestrator runs jobs against the portal
type Orchestrator struct {
	store  Store
	opts   Options
	logger *logrus.Logger
}

// NewOrchestrator creates an orchestrator writing artifacts to store
func NewOrchestrator(store Store, opts Options, logger *logrus.Logger) *Orchestrator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Orchestrator{
		store:  store,
		opts:   opts,
		logger: logger,
	}
}

// Options returns the portal options used by the orchestrator
func (o *Orchestrator) Options() Options {
	return o.opts
}

// jobRun holds the mutable state of one job
type jobRun struct {
	o       *Orchestrator
	job     models.Job
	session *Session
	outcome *Outcome
	report  Report
	log     *logrus.Entry
}

// Run processes every cell of job on page, which it owns until Run returns.
// Cell failures are recorded in the outcome; the returned error is reserved
// for job level failures (authentication, lock, cancellation).
func (o *Orchestrator) Run(ctx context.Context, page Page, job models.Job) (*Outcome, error) {
	if err := job.Validate(); err != nil {
		return nil, retry.Permanent(err)
	}

	cells := job.Cells()
	r := &jobRun{
		o:       o,
		job:     job,
		session: NewSession(page, o.opts),
		outcome: &Outcome{
			JobID:   job.ID,
			Account: job.AccountName,
			State:   StateInit,
			Result:  models.NewCompanyResult(job.AccountName),
			Stats:   models.JobStats{CellsTotal: len(cells)},
		},
		log: o.logger.WithFields(logrus.Fields{
			"job_id":  job.ID,
			"account": job.AccountName,
		}),
	}

	unlock, err := o.store.LockAccount(ctx, job.AccountName)
	if err != nil {
		return r.outcome, err
	}
	defer func() {
		if err := unlock(); err != nil {
			r.log.WithError(err).Warn("Failed to release account lock")
		}
	}()

	r.log.WithFields(logrus.Fields{
		"cells":     len(cells),
		"start_url": job.StartURL,
	}).Info("Starting job")

	for _, cell := range cells {
		if err := ctx.Err(); err != nil {
			return r.outcome, err
		}

		if o.store.IsComplete(cell) {
			r.resume(ctx, cell)
			continue
		}

		if r.session.State != Authenticated {
			if err := r.authenticate(ctx); err != nil {
				return r.outcome, err
			}
			if r.session.State == Rejected {
				r.outcome.Result = nil
				return r.outcome, nil
			}
		}

		r.process(ctx, cell)
	}

	r.transition(StateDone)
	r.log.WithFields(logrus.Fields{
		"processed": r.outcome.Stats.CellsProcessed,
		"resumed":   r.outcome.Stats.CellsResumed,
		"failed":    r.outcome.Stats.CellsFailed,
		"documents": r.outcome.Stats.Documents,
	}).Info("Job finished")
	return r.outcome, nil
}

func (r *jobRun) transition(state State) {
	r.outcome.State = state
	r.log.WithField("state", state).Debug("State changed")
}

// authenticate signs in and brings the page to the query form
func (r *jobRun) authenticate(ctx context.Context) error {
	r.transition(StateAuthenticating)

	state, err := Authenticate(ctx, r.session, r.job.Login, r.job.Password)
	r.outcome.Auth = state
	switch {
	case err != nil:
		r.transition(StateAuthFailure)
		r.log.WithError(err).Error("Authentication failed")
		return err
	case state == Rejected:
		r.transition(StateRejected)
		r.log.Errorf("%s está com login inválido", r.job.AccountName)
		return nil
	}

	r.log.Infof("Logado em %s com sucesso.", r.job.AccountName)
	r.transition(StateAuthenticated)

	if err := r.openListing(ctx); err != nil {
		r.transition(StateAuthFailure)
		return fmt.Errorf("failed to open listing: %w", err)
	}
	r.transition(StatePendingCells)
	return nil
}

// openListing navigates to the query form and waits until it is usable
func (r *jobRun) openListing(ctx context.Context) error {
	opts := r.o.opts
	page := r.session.Page

	if err := page.Navigate(ctx, opts.ListingURL()); err != nil {
		return err
	}
	if err := WaitUntilIdle(ctx, page, opts.Readiness); err != nil {
		return err
	}
	return waitVisible(ctx, page, opts.Selectors.MeshType, opts.ElementTimeout)
}

// resume replays a cell already marked as done from its recorded table
func (r *jobRun) resume(ctx context.Context, cell models.Cell) {
	log := r.cellLog(cell)
	r.outcome.Stats.CellsResumed++

	rows, err := r.o.store.LoadTable(cell)
	if err != nil {
		log.WithError(err).Warn("Cell already captured but its table is unavailable")
		r.report.Unavailable(cell)
	} else {
		docs, err := r.o.store.Documents(cell)
		if err != nil {
			log.WithError(err).Warn("Failed to list captured documents")
		}
		log.WithField("records", len(rows)).Info("Cell already captured, skipping")
		r.outcome.Result.Append(cell, rows)
		r.report.Processed(cell, len(rows), len(docs), 0)
	}
	r.flushReport(ctx)
}

type cellResult struct {
	rows      []models.TableRow
	documents int
	failures  int
}

// process runs one cell with bounded retries
func (r *jobRun) process(ctx context.Context, cell models.Cell) {
	log := r.cellLog(cell)
	opts := r.o.opts

	var result cellResult
	attempts, err := retry.Do(ctx, retry.Policy{
		MaxAttempts: opts.MaxCellAttempts,
		Delay:       opts.RetryDelay,
		Recover: func(ctx context.Context, attempt int, err error) error {
			return r.openListing(ctx)
		},
		OnRetry: func(attempt int, err error) {
			log.WithError(err).WithField("attempt", attempt).Warn("Cell failed, recovering")
		},
	}, func(ctx context.Context, attempt int) error {
		res, err := r.extractCell(ctx, cell, log.WithField("attempt", attempt))
		if err != nil {
			return err
		}
		result = res
		return nil
	})

	if err != nil {
		r.outcome.Stats.CellsFailed++
		log.WithError(err).WithField("attempts", attempts).Error("Cell skipped after exhausting attempts")
		r.report.Failed(cell, attempts, err)
		r.flushReport(ctx)
		return
	}

	r.outcome.Stats.CellsProcessed++
	r.outcome.Stats.Documents += result.documents
	r.outcome.Stats.DocumentFailures += result.failures
	r.outcome.Result.Append(cell, result.rows)
	r.report.Processed(cell, len(result.rows), result.documents, result.failures)
	log.WithFields(logrus.Fields{
		"records":   len(result.rows),
		"documents": result.documents,
	}).Infof("%d registros encontrados", len(result.rows))
	r.flushReport(ctx)
}

// extractCell is one attempt at a cell: select, submit, read, persist, download
func (r *jobRun) extractCell(ctx context.Context, cell models.Cell, log *logrus.Entry) (cellResult, error) {
	opts := r.o.opts
	sel := opts.Selectors
	page := r.session.Page
	store := r.o.store

	r.transition(StatePreparing)
	if err := page.Select(ctx, sel.MeshType, cell.MeshType); err != nil {
		return cellResult{}, fmt.Errorf("failed to select mesh type: %w", err)
	}
	if err := page.Select(ctx, sel.Year, cell.Year); err != nil {
		return cellResult{}, fmt.Errorf("failed to select year: %w", err)
	}
	if err := WaitUntilIdle(ctx, page, opts.Readiness); err != nil {
		return cellResult{}, err
	}

	hasSubmit, err := page.Exists(ctx, sel.Submit)
	if err != nil {
		return cellResult{}, fmt.Errorf("failed to look up submit control: %w", err)
	}
	if hasSubmit {
		if err := bounded(ctx, opts.ElementTimeout, func(ctx context.Context) error {
			return page.Click(ctx, sel.Submit)
		}); err != nil {
			return cellResult{}, fmt.Errorf("failed to submit query: %w", err)
		}
		if err := WaitUntilIdle(ctx, page, opts.Readiness); err != nil {
			return cellResult{}, err
		}
		r.transition(StateFormSubmitted)
	} else {
		r.transition(StateNoFormNeeded)
	}

	missingInvoices, err := page.Exists(ctx, sel.MissingInvoices)
	if err != nil {
		return cellResult{}, fmt.Errorf("failed to classify view: %w", err)
	}
	scope := sel.Table
	if missingInvoices {
		scope = sel.MissingInvoices + " " + sel.Table
	}

	rows := []models.TableRow{}
	hasTable, err := page.Exists(ctx, scope)
	if err != nil {
		return cellResult{}, fmt.Errorf("failed to look up table: %w", err)
	}
	if hasTable {
		if rows, err = ExtractTable(ctx, page, scope); err != nil {
			return cellResult{}, err
		}
	} else {
		log.Debug("No table rendered for cell")
	}
	r.transition(StateTableRead)

	if err := store.SaveTable(ctx, cell, rows); err != nil {
		return cellResult{}, err
	}
	png, err := page.Screenshot(ctx)
	if err != nil {
		return cellResult{}, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	if err := store.SaveScreenshot(ctx, cell, png); err != nil {
		return cellResult{}, err
	}

	r.transition(StateDownloading)
	result := cellResult{rows: rows}
	switch {
	case missingInvoices:
		names := DocumentKeys(rows, opts.CompetenceHeader)
		for i, name := range names {
			control := fmt.Sprintf("%s tbody tr:nth-child(%d) %s", scope, i+1, sel.RowDownload)
			r.download(ctx, cell, name, ClickAction(page, control), &result, log)
		}
	case len(rows) > 0:
		r.download(ctx, cell, SummaryDocument, ClickAction(page, sel.ReportDownload), &result, log)
	}

	r.transition(StatePersisted)
	return result, nil
}

// download captures one document. Its failures are counted, never returned.
func (r *jobRun) download(ctx context.Context, cell models.Cell, name string, trigger Action, result *cellResult, log *logrus.Entry) {
	opts := r.o.opts
	log = log.WithField("document", name)

	dest := func(ctx context.Context, data []byte) error {
		return r.o.store.SaveDocument(ctx, cell, name, data)
	}

	attempts, err := retry.Do(ctx, retry.Policy{
		MaxAttempts: opts.MaxDocumentAttempts,
		Delay:       opts.RetryDelay,
	}, func(ctx context.Context, attempt int) error {
		log.WithField("attempt", attempt).Debug("Downloading document")
		_, err := CaptureBlobDocument(ctx, r.session.Page, trigger, dest, opts.Download)
		return err
	})
	if err != nil {
		result.failures++
		if !errors.Is(err, ErrDownloadFailure) {
			err = &DownloadError{Step: "capture", Err: err}
		}
		log.WithError(err).WithField("attempts", attempts).Warn("Document download failed")
		return
	}

	result.documents++
	log.Info("Document downloaded")
}

func (r *jobRun) flushReport(ctx context.Context) {
	r.outcome.Report = r.report.Lines()
	if err := r.o.store.WriteReport(ctx, r.job.AccountName, r.outcome.Report); err != nil {
		r.log.WithError(err).Warn("Failed to write report")
	}
}

func (r *jobRun) cellLog(cell models.Cell) *logrus.Entry {
	return r.log.WithFields(logrus.Fields{
		"year":      cell.Year,
		"mesh_type": cell.MeshLabel(),
	})
}
