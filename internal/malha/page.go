// Package malha drives the SEFAZ/AL malha fiscal portal: it signs in to an
// account, walks every (year, mesh type) cell, reads the result tables and
// captures the PDFs the portal only exposes as blob URLs.
package malha

import (
	"context"
	"fmt"
)

// Page is the live browser page owned by one job. Every call blocks until
// the action completes or ctx is done.
type Page interface {
	// Navigate loads url in the page
	Navigate(ctx context.Context, url string) error

	// WaitVisible blocks until selector matches a visible element
	WaitVisible(ctx context.Context, selector string) error

	// Visible reports whether selector currently matches a visible element
	Visible(ctx context.Context, selector string) (bool, error)

	// Exists reports whether selector currently matches any element
	Exists(ctx context.Context, selector string) (bool, error)

	Click(ctx context.Context, selector string) error
	SendKeys(ctx context.Context, selector, text string) error

	// Select sets the value of a <select> element and fires its change events
	Select(ctx context.Context, selector, value string) error

	// OuterHTML returns the markup of the first element matching selector
	OuterHTML(ctx context.Context, selector string) (string, error)

	// Screenshot captures the full page as PNG
	Screenshot(ctx context.Context) ([]byte, error)

	// ExpectTarget starts watching for a new browsing target whose URL
	// satisfies match. The returned channel yields at most one Target and is
	// closed once ctx is done. It must be called before the action that opens
	// the target.
	ExpectTarget(ctx context.Context, match func(url string) bool) (<-chan Target, error)

	// FetchViaResponse fetches url from the page's own JavaScript realm and
	// returns the body of the network response observed for it.
	FetchViaResponse(ctx context.Context, url string) ([]byte, error)
}

// Target is a secondary browsing target opened by the page, such as the tab
// holding a blob document
type Target interface {
	URL() string
	Close() error
}

// Action is a UI interaction performed on the page
type Action func(ctx context.Context) error

// ClickAction returns an Action that clicks selector. A selector matching
// nothing fails with ErrControlMissing instead of waiting for the node.
func ClickAction(page Page, selector string) Action {
	return func(ctx context.Context) error {
		ok, err := page.Exists(ctx, selector)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrControlMissing, selector)
		}
		return page.Click(ctx, selector)
	}
}
