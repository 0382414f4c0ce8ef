package malha

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrDownloadFailure matches every error returned by CaptureBlobDocument
var ErrDownloadFailure = errors.New("document download failed")

// ErrControlMissing is returned by ClickAction when the control is not on the page
var ErrControlMissing = errors.New("control not found on page")

// DownloadError describes which step of a blob capture failed
type DownloadError struct {
	Step string
	Err  error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download failed at %s: %v", e.Step, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDownloadFailure) hold
func (e *DownloadError) Is(target error) bool { return target == ErrDownloadFailure }

// IsBlobURL reports whether url is an in-browser blob reference
func IsBlobURL(url string) bool {
	return strings.HasPrefix(url, "blob:")
}

// CaptureBlobDocument runs trigger, waits for the blob tab it opens, fetches
// the blob from the original page and hands the bytes to dest. The trigger
// and the tab wait share TargetTimeout. The blob tab is always closed before
// returning.
func CaptureBlobDocument(ctx context.Context, page Page, trigger Action, dest func(ctx context.Context, data []byte) error, opts DownloadOptions) ([]byte, error) {
	waitCtx, cancel := context.WithTimeout(ctx, opts.TargetTimeout)
	defer cancel()

	targets, err := page.ExpectTarget(waitCtx, IsBlobURL)
	if err != nil {
		return nil, &DownloadError{Step: "listen", Err: err}
	}

	if err := trigger(waitCtx); err != nil {
		go closeLate(targets)
		return nil, &DownloadError{Step: "trigger", Err: err}
	}

	var target Target
	select {
	case t, ok := <-targets:
		if !ok {
			return nil, &DownloadError{Step: "target", Err: fmt.Errorf("no blob tab opened within %s", opts.TargetTimeout)}
		}
		target = t
	case <-waitCtx.Done():
		go closeLate(targets)
		return nil, &DownloadError{Step: "target", Err: fmt.Errorf("no blob tab opened within %s", opts.TargetTimeout)}
	}
	defer target.Close()

	fetchCtx, cancelFetch := context.WithTimeout(ctx, opts.ResponseTimeout)
	defer cancelFetch()

	data, err := page.FetchViaResponse(fetchCtx, target.URL())
	if err != nil {
		return nil, &DownloadError{Step: "response", Err: err}
	}
	if len(data) == 0 {
		return nil, &DownloadError{Step: "response", Err: errors.New("empty document")}
	}

	if dest != nil {
		if err := dest(ctx, data); err != nil {
			return nil, &DownloadError{Step: "write", Err: err}
		}
	}
	return data, nil
}

// closeLate closes a target that shows up after the capture gave up on it
func closeLate(targets <-chan Target) {
	for t := range targets {
		_ = t.Close()
	}
}
