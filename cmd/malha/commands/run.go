package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/nexconsult/malha-fiscal/internal/config"
	"github.com/nexconsult/malha-fiscal/internal/logger"
	"github.com/nexconsult/malha-fiscal/internal/malha"
	"github.com/nexconsult/malha-fiscal/internal/models"
	"github.com/nexconsult/malha-fiscal/internal/retry"
	"github.com/nexconsult/malha-fiscal/internal/services"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type runOptions struct {
	overrides
	output      string
	concurrency int
	headful     bool
}

var runOpts runOptions

func init() {
	runOpts.register(runCmd)
	flags := runCmd.Flags()
	flags.StringVarP(&runOpts.output, "output", "o", "-", "Where to write one JSON record per job, - for stdout")
	flags.IntVarP(&runOpts.concurrency, "concurrency", "c", 1, "Accounts processed at the same time")
	flags.BoolVar(&runOpts.headful, "headful", false, "Show the browser window")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [--input batch.json] [--output results.jsonl]",
	Short: "Extracts every company of a batch file.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(cmd.Context(), runOpts)
	},
}

// batchRun holds what a batch needs besides its jobs
type batchRun struct {
	cfg    *config.Config
	pages  *services.PageRunner
	sink   services.ResultSink
	logger *logrus.Logger
	limit  int
	failed atomic.Int32
}

func runBatch(ctx context.Context, opts runOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	opts.apply(cfg)
	if opts.headful {
		cfg.Browser.Headless = false
	}
	if opts.concurrency < 1 {
		return fmt.Errorf("--concurrency must be at least 1")
	}
	// One browser per account in flight
	cfg.Browser.MaxBrowsers = opts.concurrency
	if cfg.Browser.MinBrowsers > opts.concurrency {
		cfg.Browser.MinBrowsers = opts.concurrency
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.SetOutput(os.Stderr)

	input, err := LoadBatch(opts.input)
	if err != nil {
		return err
	}
	jobs, err := resolveJobs(input, cfg.Malha)
	if err != nil {
		return err
	}

	out, closeOut, err := openOutput(opts.output)
	if err != nil {
		return err
	}
	defer closeOut()

	store, err := services.NewArtifactStore(cfg.Storage, log)
	if err != nil {
		return err
	}

	browser, err := services.NewBrowserService(cfg.Browser, log)
	if err != nil {
		return err
	}
	defer browser.Close()

	orchestrator := malha.NewOrchestrator(store, cfg.Malha.PortalOptions(), log)

	b := &batchRun{
		cfg:    cfg,
		pages:  services.NewPageRunner(browser, orchestrator, cfg.Malha.ActionsPerMinute, log),
		sink:   services.NewJSONLinesSink(out),
		logger: log,
		limit:  opts.concurrency,
	}
	return b.run(ctx, jobs)
}

// run processes jobs with at most limit accounts in flight. Job failures
// are reported in the output and counted; only a broken sink stops the batch.
func (b *batchRun) run(ctx context.Context, jobs []models.Job) error {
	started := time.Now()
	b.logger.WithFields(logrus.Fields{
		"jobs":        len(jobs),
		"concurrency": b.limit,
		"storage":     b.cfg.Storage.Root,
	}).Info("Starting batch")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.limit)

	for _, job := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return b.runJob(gctx, job)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.logger.WithFields(logrus.Fields{
		"jobs":     len(jobs),
		"failed":   b.failed.Load(),
		"duration": time.Since(started).Round(time.Second).String(),
	}).Info("Batch finished")

	if failed := b.failed.Load(); failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", failed, len(jobs))
	}
	return nil
}

func (b *batchRun) runJob(ctx context.Context, job models.Job) error {
	log := b.logger.WithFields(logrus.Fields{
		"job_id":  job.ID,
		"account": job.AccountName,
	})

	if b.cfg.Malha.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.Malha.JobTimeout)
		defer cancel()
	}

	started := time.Now()
	record := models.JobRecord{
		ID:          job.ID,
		AccountName: job.AccountName,
		Status:      models.JobStatusRunning,
		Stats:       models.JobStats{CellsTotal: len(job.Cells())},
		CreatedAt:   started,
		StartedAt:   &started,
	}

	outcome, attempts, err := b.pages.Execute(ctx, job, retry.Policy{
		MaxAttempts: b.cfg.Malha.MaxJobAttempts,
		Delay:       b.cfg.Malha.JobRetryDelay,
		OnRetry: func(attempt int, err error) {
			log.WithError(err).WithField("attempt", attempt).Warn("Job attempt failed, retrying")
		},
	}, nil)

	finished := time.Now()
	services.ApplyOutcome(&record, outcome, attempts, err)
	record.FinishedAt = &finished

	if record.Status == models.JobStatusFailed {
		b.failed.Add(1)
		log.WithError(err).Error("Job failed")
	}

	// The sink outlives cancellation so interrupted jobs are still reported
	if err := b.sink.Push(context.WithoutCancel(ctx), record); err != nil {
		return err
	}
	return nil
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open output: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
