package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"github.com/nexconsult/malha-fiscal/internal/config"
	"github.com/nexconsult/malha-fiscal/internal/malha"
	"github.com/nexconsult/malha-fiscal/internal/models"
	"github.com/sirupsen/logrus"
)

// BrowserService manages a pool of Chrome processes. Every job gets its own
// browser context (an incognito-like profile) on a pooled process, so
// cookies never leak between accounts. Open pages are leased to the job
// that acquired them until released.
type BrowserService struct {
	config   config.BrowserConfig
	logger   *logrus.Logger
	pool     chan *ChromeBrowser
	browsers []*ChromeBrowser
	leases   map[string]models.PageLease
	mu       sync.RWMutex
	closed   bool
}

// ChromeBrowser is one Chrome process
type ChromeBrowser struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	healthy bool
	mu      sync.RWMutex
}

// NewBrowserService creates a new browser service
func NewBrowserService(config config.BrowserConfig, logger *logrus.Logger) (*BrowserService, error) {
	service := &BrowserService{
		config:   config,
		logger:   logger,
		pool:     make(chan *ChromeBrowser, config.MaxBrowsers),
		browsers: make([]*ChromeBrowser, 0, config.MaxBrowsers),
		leases:   make(map[string]models.PageLease),
	}

	// Initialize minimum browsers
	for i := 0; i < config.MinBrowsers; i++ {
		browser, err := service.createBrowser()
		if err != nil {
			logger.WithError(err).Error("Failed to create initial browser")
			continue
		}
		service.browsers = append(service.browsers, browser)
		service.pool <- browser
	}

	logger.WithField("browsers", len(service.browsers)).Info("Browser service initialized")
	return service, nil
}

// AcquirePage opens a fresh page in an isolated browser context and leases
// it to job
func (s *BrowserService) AcquirePage(ctx context.Context, job models.Job) (malha.Page, error) {
	browser, err := s.getBrowser(ctx)
	if err != nil {
		return nil, err
	}

	page, err := newChromePage(browser, s.config.StartTimeout)
	if err != nil {
		browser.markUnhealthy()
		s.releaseBrowser(browser)
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	s.mu.Lock()
	s.leases[page.id] = models.PageLease{
		PageID:     page.id,
		BrowserID:  browser.id,
		JobID:      job.ID,
		Account:    job.AccountName,
		AcquiredAt: time.Now(),
	}
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"browser_id": browser.id,
		"page_id":    page.id,
		"job_id":     job.ID,
	}).Debug("Page acquired")
	return page, nil
}

// ReleasePage closes the page and returns its browser to the pool
func (s *BrowserService) ReleasePage(p malha.Page) error {
	page, ok := p.(*ChromePage)
	if !ok {
		return fmt.Errorf("invalid page type %T", p)
	}

	page.Close()

	s.mu.Lock()
	delete(s.leases, page.id)
	s.mu.Unlock()

	s.releaseBrowser(page.browser)
	return nil
}

// getBrowser gets an available browser
func (s *BrowserService) getBrowser(ctx context.Context) (*ChromeBrowser, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, fmt.Errorf("browser service is closed")
	}
	s.mu.RUnlock()

	select {
	case browser := <-s.pool:
		if browser.IsHealthy() {
			return browser, nil
		}
		// Browser is unhealthy, replace it
		s.logger.WithField("browser_id", browser.id).Warn("Unhealthy browser detected, creating new one")
		return s.replaceBrowser(browser)

	case <-time.After(s.config.AcquireTimeout):
		// No browser available, try to create a new one if under limit
		s.mu.Lock()
		defer s.mu.Unlock()
		if len(s.browsers) < s.config.MaxBrowsers {
			browser, err := s.createBrowser()
			if err != nil {
				return nil, fmt.Errorf("failed to create browser: %w", err)
			}
			s.browsers = append(s.browsers, browser)
			return browser, nil
		}
		return nil, fmt.Errorf("no browser available and pool is at maximum capacity")

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *BrowserService) replaceBrowser(old *ChromeBrowser) (*ChromeBrowser, error) {
	old.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, b := range s.browsers {
		if b == old {
			s.browsers = append(s.browsers[:i], s.browsers[i+1:]...)
			break
		}
	}

	browser, err := s.createBrowser()
	if err != nil {
		return nil, fmt.Errorf("failed to create new browser: %w", err)
	}
	s.browsers = append(s.browsers, browser)
	return browser, nil
}

// releaseBrowser returns a browser to the pool
func (s *BrowserService) releaseBrowser(browser *ChromeBrowser) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		browser.Close()
		return
	}

	select {
	case s.pool <- browser:
	default:
		// Pool is full, close the browser
		browser.Close()
	}
}

// createBrowser starts a new Chrome process
func (s *BrowserService) createBrowser() (*ChromeBrowser, error) {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-features", "TranslateUI"),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36"),
	}

	if s.config.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if s.config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(s.config.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	ctx, ctxCancel := chromedp.NewContext(allocCtx)

	browser := &ChromeBrowser{
		id:      "browser-" + uuid.New().String()[:8],
		ctx:     ctx,
		cancel:  func() { ctxCancel(); allocCancel() },
		healthy: true,
	}

	// The first Run allocates the process and must not carry a deadline
	if err := chromedp.Run(ctx); err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	startCtx, startCancel := context.WithTimeout(ctx, s.config.StartTimeout)
	defer startCancel()

	if err := chromedp.Run(startCtx, chromedp.Navigate("about:blank")); err != nil {
		browser.Close()
		return nil, fmt.Errorf("browser health check failed: %w", err)
	}

	s.logger.WithField("browser_id", browser.id).Debug("Browser created successfully")
	return browser, nil
}

// GetStats returns browser pool statistics
func (s *BrowserService) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	healthy := 0
	for _, b := range s.browsers {
		if b.IsHealthy() {
			healthy++
		}
	}

	return map[string]interface{}{
		"total_browsers":   len(s.browsers),
		"healthy_browsers": healthy,
		"available":        len(s.pool),
		"open_pages":       len(s.leases),
		"max_browsers":     s.config.MaxBrowsers,
		"min_browsers":     s.config.MinBrowsers,
	}
}

// Leases returns the pages currently held by jobs, oldest first
func (s *BrowserService) Leases() []models.PageLease {
	s.mu.RLock()
	defer s.mu.RUnlock()

	leases := make([]models.PageLease, 0, len(s.leases))
	for _, lease := range s.leases {
		leases = append(leases, lease)
	}
	sort.Slice(leases, func(i, j int) bool {
		return leases[i].AcquiredAt.Before(leases[j].AcquiredAt)
	})
	return leases
}

// Health returns browser service health status
func (s *BrowserService) Health() map[string]interface{} {
	stats := s.GetStats()

	status := "healthy"
	if stats["healthy_browsers"].(int) == 0 {
		status = "unhealthy"
	} else if stats["healthy_browsers"].(int) < s.config.MinBrowsers {
		status = "degraded"
	}

	return map[string]interface{}{
		"status": status,
		"stats":  stats,
	}
}

// Restart restarts the browser pool. Browsers lent to running jobs are
// closed, which fails those jobs' current attempt.
func (s *BrowserService) Restart() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.browsers {
		b.Close()
	}

	for len(s.pool) > 0 {
		<-s.pool
	}

	s.browsers = s.browsers[:0]

	for i := 0; i < s.config.MinBrowsers; i++ {
		browser, err := s.createBrowser()
		if err != nil {
			s.logger.WithError(err).Error("Failed to create browser during restart")
			continue
		}
		s.browsers = append(s.browsers, browser)
		s.pool <- browser
	}

	s.logger.Info("Browser pool restarted")
	return nil
}

// Close closes all browsers and releases resources
func (s *BrowserService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for _, b := range s.browsers {
		b.Close()
	}

	for len(s.pool) > 0 {
		<-s.pool
	}

	s.logger.Info("Browser service closed")
	return nil
}

// IsHealthy reports whether the process is still usable
func (b *ChromeBrowser) IsHealthy() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.healthy && b.ctx.Err() == nil
}

func (b *ChromeBrowser) markUnhealthy() {
	b.mu.Lock()
	b.healthy = false
	b.mu.Unlock()
}

// Close terminates the Chrome process
func (b *ChromeBrowser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.healthy = false
	if b.cancel != nil {
		b.cancel()
	}
}

// newChromePage opens a tab in a new browser context and enables the
// network domain used by blob captures
func newChromePage(browser *ChromeBrowser, startTimeout time.Duration) (*ChromePage, error) {
	tabCtx, cancel := chromedp.NewContext(browser.ctx, chromedp.WithNewBrowserContext())
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, err
	}

	startCtx, startCancel := context.WithTimeout(tabCtx, startTimeout)
	defer startCancel()

	if err := chromedp.Run(startCtx, network.Enable()); err != nil {
		cancel()
		return nil, err
	}

	return &ChromePage{
		id:      "page-" + uuid.New().String()[:8],
		browser: browser,
		ctx:     tabCtx,
		cancel:  cancel,
	}, nil
}
