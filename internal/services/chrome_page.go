package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/nexconsult/malha-fiscal/internal/malha"
)

const targetCloseTimeout = 5 * time.Second

// ChromePage drives one tab through chromedp. The tab context lives as long
// as the page; each call derives a context from it that ends with the
// caller's context.
type ChromePage struct {
	id      string
	browser *ChromeBrowser
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

// scope derives a chromedp context from the tab that is cancelled when ctx
// is done and carries ctx's deadline
func (p *ChromePage) scope(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(p.ctx)
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		parentCancel := cancel
		cancel = func() { cancelDeadline(); parentCancel() }
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (p *ChromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := p.scope(ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (p *ChromePage) evaluate(ctx context.Context, expression string, res interface{}, opts ...chromedp.EvaluateOption) error {
	return p.run(ctx, chromedp.Evaluate(expression, res, opts...))
}

// Navigate loads url. A change of the fragment only is done through the
// location object since it fires no load event.
func (p *ChromePage) Navigate(ctx context.Context, url string) error {
	var current string
	if err := p.run(ctx, chromedp.Location(&current)); err != nil {
		return err
	}
	if sameDocument(current, url) {
		return p.evaluate(ctx, "window.location.href = "+strconv.Quote(url), nil)
	}
	return p.run(ctx, chromedp.Navigate(url))
}

func sameDocument(current, next string) bool {
	cur, _, curHash := strings.Cut(current, "#")
	nxt, _, nextHash := strings.Cut(next, "#")
	return curHash && nextHash && cur == nxt
}

func (p *ChromePage) WaitVisible(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (p *ChromePage) Visible(ctx context.Context, selector string) (bool, error) {
	var visible bool
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		const style = window.getComputedStyle(el);
		return style.display !== 'none' && style.visibility !== 'hidden' && el.getClientRects().length > 0;
	})()`, strconv.Quote(selector))
	err := p.evaluate(ctx, script, &visible)
	return visible, err
}

func (p *ChromePage) Exists(ctx context.Context, selector string) (bool, error) {
	var exists bool
	err := p.evaluate(ctx, fmt.Sprintf("document.querySelector(%s) !== null", strconv.Quote(selector)), &exists)
	return exists, err
}

func (p *ChromePage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

func (p *ChromePage) SendKeys(ctx context.Context, selector, text string) error {
	return p.run(ctx, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

// Select picks an option by value and fires the events the portal's
// Angular forms listen to
func (p *ChromePage) Select(ctx context.Context, selector, value string) error {
	var status string
	script := fmt.Sprintf(`((selector, value) => {
		const el = document.querySelector(selector);
		if (!el) return 'missing';
		if (!Array.from(el.options || []).some(o => o.value === value)) return 'no-option';
		el.value = value;
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return 'ok';
	})(%s, %s)`, strconv.Quote(selector), strconv.Quote(value))
	if err := p.evaluate(ctx, script, &status); err != nil {
		return err
	}
	switch status {
	case "ok":
		return nil
	case "missing":
		return fmt.Errorf("select %q not found", selector)
	default:
		return fmt.Errorf("select %q has no option %q", selector, value)
	}
}

func (p *ChromePage) OuterHTML(ctx context.Context, selector string) (string, error) {
	var html string
	err := p.run(ctx, chromedp.OuterHTML(selector, &html, chromedp.ByQuery))
	return html, err
}

func (p *ChromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	// Quality 100 keeps the capture in PNG
	err := p.run(ctx, chromedp.FullScreenshot(&buf, 100))
	return buf, err
}

// ExpectTarget watches the browser for a new tab whose URL satisfies match
func (p *ChromePage) ExpectTarget(ctx context.Context, match func(url string) bool) (<-chan malha.Target, error) {
	listenCtx, cancel := p.scope(ctx)

	var mu sync.Mutex
	var matched string
	ids := chromedp.WaitNewTarget(listenCtx, func(info *target.Info) bool {
		if !match(info.URL) {
			return false
		}
		mu.Lock()
		matched = info.URL
		mu.Unlock()
		return true
	})

	out := make(chan malha.Target, 1)
	go func() {
		defer close(out)
		defer cancel()

		select {
		case id, ok := <-ids:
			if !ok {
				return
			}
			mu.Lock()
			url := matched
			mu.Unlock()

			tabCtx, tabCancel := chromedp.NewContext(p.ctx, chromedp.WithTargetID(id))
			t := &chromeTarget{url: url, ctx: tabCtx, cancel: tabCancel}
			select {
			case out <- t:
			case <-listenCtx.Done():
				_ = t.Close()
			}
		case <-listenCtx.Done():
		}
	}()

	return out, nil
}

// FetchViaResponse fetches url from the page and returns the body of the
// response observed by the network domain
func (p *ChromePage) FetchViaResponse(ctx context.Context, url string) ([]byte, error) {
	runCtx, cancel := p.scope(ctx)
	defer cancel()

	watch := newResponseWatch(url)
	chromedp.ListenTarget(runCtx, watch.handle)

	var status int
	fetch := fmt.Sprintf("fetch(%s).then(r => r.status)", strconv.Quote(url))
	err := chromedp.Run(runCtx, chromedp.Evaluate(fetch, &status, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}

	requestID, err := watch.wait(runCtx)
	if err != nil {
		return nil, err
	}

	var body []byte
	err = chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		body, err = network.GetResponseBody(requestID).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

// Close closes the tab and its browser context
func (p *ChromePage) Close() {
	p.once.Do(p.cancel)
}

// responseWatch follows the network events of one request by URL
type responseWatch struct {
	url      string
	mu       sync.Mutex
	id       network.RequestID
	finished map[network.RequestID]bool
	failed   map[network.RequestID]string
	notify   chan struct{}
}

func newResponseWatch(url string) *responseWatch {
	return &responseWatch{
		url:      url,
		finished: make(map[network.RequestID]bool),
		failed:   make(map[network.RequestID]string),
		notify:   make(chan struct{}, 1),
	}
}

func (w *responseWatch) handle(ev interface{}) {
	w.mu.Lock()
	switch e := ev.(type) {
	case *network.EventResponseReceived:
		if e.Response != nil && e.Response.URL == w.url && w.id == "" {
			w.id = e.RequestID
		}
	case *network.EventLoadingFinished:
		w.finished[e.RequestID] = true
	case *network.EventLoadingFailed:
		w.failed[e.RequestID] = e.ErrorText
	default:
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *responseWatch) wait(ctx context.Context) (network.RequestID, error) {
	for {
		w.mu.Lock()
		id := w.id
		done := id != "" && w.finished[id]
		reason, failed := w.failed[id]
		w.mu.Unlock()

		switch {
		case id != "" && failed:
			return "", fmt.Errorf("response for %s failed: %s", w.url, reason)
		case done:
			return id, nil
		}

		select {
		case <-ctx.Done():
			if id == "" {
				return "", errors.New("no response observed for " + w.url)
			}
			return "", fmt.Errorf("response for %s did not finish loading: %w", w.url, ctx.Err())
		case <-w.notify:
		}
	}
}

// chromeTarget is a tab opened by the page, such as a blob document viewer
type chromeTarget struct {
	url    string
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	err    error
}

func (t *chromeTarget) URL() string { return t.url }

// Close attaches to the tab, closes it and detaches
func (t *chromeTarget) Close() error {
	t.once.Do(func() {
		defer t.cancel()
		ctx, cancel := context.WithTimeout(t.ctx, targetCloseTimeout)
		defer cancel()
		t.err = chromedp.Run(ctx, page.Close())
	})
	return t.err
}
