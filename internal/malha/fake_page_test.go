package malha

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// fakePage simulates the portal DOM as a set of present selectors plus
// callbacks fired by clicks
type fakePage struct {
	mu sync.Mutex

	calls     []string
	present   map[string]bool
	countdown map[string]int
	html      map[string]string
	htmlErr   func(f *fakePage, scope string) error
	onClick   map[string]func(f *fakePage)
	stuck     map[string]bool
	selected  map[string]string
	downloads map[string]string
	blobs     map[string][]byte
	expect    *fakeExpect
	targets   []*fakeTarget
}

type fakeExpect struct {
	match func(string) bool
	ch    chan Target
}

type fakeTarget struct {
	mu     sync.Mutex
	url    string
	closed int
}

func (t *fakeTarget) URL() string { return t.url }

func (t *fakeTarget) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed++
	return nil
}

func (t *fakeTarget) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func newFakePage() *fakePage {
	return &fakePage{
		present:   make(map[string]bool),
		countdown: make(map[string]int),
		html:      make(map[string]string),
		onClick:   make(map[string]func(f *fakePage)),
		stuck:     make(map[string]bool),
		selected:  make(map[string]string),
		downloads: make(map[string]string),
		blobs:     make(map[string][]byte),
	}
}

// newPortal returns a page that accepts any credentials and renders an
// empty generic table for every query
func newPortal() *fakePage {
	sel := DefaultSelectors()
	f := newFakePage()
	f.present[sel.SignInLink] = true
	f.present[sel.MeshType] = true
	f.present[sel.Year] = true
	f.present[sel.Table] = true
	f.html[sel.Table] = tableHTML([]string{"Competência", "Valor"})
	f.onClick[sel.SignInLink] = func(f *fakePage) {
		f.present[sel.Username] = true
		f.present[sel.Password] = true
	}
	f.onClick[sel.LoginButton] = func(f *fakePage) {
		f.present[sel.LoggedUser] = true
	}
	return f
}

func (f *fakePage) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakePage) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakePage) countCalls(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakePage) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("navigate %s", url)
	return nil
}

func (f *fakePage) WaitVisible(ctx context.Context, selector string) error {
	f.mu.Lock()
	f.record("wait %s", selector)
	f.mu.Unlock()
	for {
		f.mu.Lock()
		ok := f.present[selector]
		f.mu.Unlock()
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (f *fakePage) Visible(ctx context.Context, selector string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("visible %s", selector)
	if n := f.countdown[selector]; n > 0 {
		f.countdown[selector] = n - 1
		return true, nil
	}
	return f.present[selector], nil
}

func (f *fakePage) Exists(ctx context.Context, selector string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("exists %s", selector)
	_, download := f.downloads[selector]
	return f.present[selector] || download, nil
}

// Click on a stuck selector waits for ctx like a browser waiting for a node
// that never becomes clickable
func (f *fakePage) Click(ctx context.Context, selector string) error {
	f.mu.Lock()
	f.record("click %s", selector)
	if f.stuck[selector] {
		f.mu.Unlock()
		<-ctx.Done()
		return ctx.Err()
	}
	defer f.mu.Unlock()
	if fn, ok := f.onClick[selector]; ok {
		fn(f)
	}
	if url, ok := f.downloads[selector]; ok && f.expect != nil && f.expect.match(url) {
		t := &fakeTarget{url: url}
		f.targets = append(f.targets, t)
		f.expect.ch <- t
		f.expect = nil
	}
	return nil
}

func (f *fakePage) SendKeys(ctx context.Context, selector, text string) error {
	f.mu.Lock()
	f.record("type %s", selector)
	if f.stuck[selector] {
		f.mu.Unlock()
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Unlock()
	return nil
}

func (f *fakePage) Select(ctx context.Context, selector, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("select %s %s", selector, value)
	f.selected[selector] = value
	return nil
}

func (f *fakePage) OuterHTML(ctx context.Context, selector string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("html %s", selector)
	if f.htmlErr != nil {
		if err := f.htmlErr(f, selector); err != nil {
			return "", err
		}
	}
	html, ok := f.html[selector]
	if !ok {
		return "", fmt.Errorf("no element matches %q", selector)
	}
	return html, nil
}

func (f *fakePage) Screenshot(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("screenshot")
	return []byte("\x89PNG"), nil
}

func (f *fakePage) ExpectTarget(ctx context.Context, match func(url string) bool) (<-chan Target, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("expect target")
	e := &fakeExpect{match: match, ch: make(chan Target, 1)}
	f.expect = e
	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.expect == e {
			f.expect = nil
		}
		close(e.ch)
	}()
	return e.ch, nil
}

func (f *fakePage) FetchViaResponse(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("fetch %s", url)
	data, ok := f.blobs[url]
	if !ok {
		return nil, fmt.Errorf("no response for %s", url)
	}
	return data, nil
}

func (f *fakePage) openedTargets() []*fakeTarget {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeTarget(nil), f.targets...)
}

// tableHTML renders a portal table: a caption row, the header row and the body
func tableHTML(headers []string, rows ...[]string) string {
	var b strings.Builder
	b.WriteString(`<table class="table"><thead><tr><th colspan="9">Resultado</th></tr><tr>`)
	for _, h := range headers {
		b.WriteString("<th>" + h + "</th>")
	}
	b.WriteString("</tr></thead><tbody>")
	for _, row := range rows {
		b.WriteString("<tr>")
		for _, cell := range row {
			b.WriteString("<td>" + cell + "</td>")
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</tbody></table>")
	return b.String()
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Readiness.AppearTimeout = 5 * time.Millisecond
	opts.Readiness.DisappearTimeout = 200 * time.Millisecond
	opts.Readiness.PollInterval = time.Millisecond
	opts.SignInTimeout = 50 * time.Millisecond
	opts.ElementTimeout = 50 * time.Millisecond
	opts.AuthTimeout = 50 * time.Millisecond
	opts.AuthPollInterval = time.Millisecond
	opts.RetryDelay = 0
	opts.Download = DownloadOptions{
		TargetTimeout:   50 * time.Millisecond,
		ResponseTimeout: 50 * time.Millisecond,
	}
	return opts
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
