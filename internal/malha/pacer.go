package malha

import (
	"context"

	"golang.org/x/time/rate"
)

// PacedPage spaces out the actions that hit the portal. Read-only queries
// are not paced.
type PacedPage struct {
	Page
	limiter *rate.Limiter
}

// NewPacedPage wraps page so that navigation and input wait on limiter
func NewPacedPage(page Page, limiter *rate.Limiter) *PacedPage {
	return &PacedPage{Page: page, limiter: limiter}
}

func (p *PacedPage) Navigate(ctx context.Context, url string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	return p.Page.Navigate(ctx, url)
}

func (p *PacedPage) Click(ctx context.Context, selector string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	return p.Page.Click(ctx, selector)
}

func (p *PacedPage) Select(ctx context.Context, selector, value string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	return p.Page.Select(ctx, selector, value)
}

func (p *PacedPage) FetchViaResponse(ctx context.Context, url string) ([]byte, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.Page.FetchViaResponse(ctx, url)
}
