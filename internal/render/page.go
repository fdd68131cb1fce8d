// Package render drives the headless browser. A Renderer hands out
// isolated pages; each page lives in its own browser context with its own
// identity, request filtering and optional proxy.
package render

import (
	"context"
	"time"
)

// Page is a single rendered tab. Every call honours ctx cancellation.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	// Location returns the URL the tab currently shows, after redirects.
	Location(ctx context.Context) (string, error)
	// HTML snapshots the serialized document.
	HTML(ctx context.Context) (string, error)
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Count(ctx context.Context, selector string) (int, error)
	// ScrollBy scrolls the first element matching selector by px pixels.
	ScrollBy(ctx context.Context, selector string, px int) error
	// DismissConsent clicks a cookie-consent button if one is shown.
	DismissConsent(ctx context.Context) (bool, error)
	Close() error
}

// PageOptions configures a page's browser context.
type PageOptions struct {
	ProxyServer   string
	ProxyUsername string
	ProxyPassword string
	// BlockStylesheets additionally aborts CSS requests, used for
	// enrichment pages where layout does not matter.
	BlockStylesheets bool
}

// Renderer creates pages.
type Renderer interface {
	NewPage(ctx context.Context, opts PageOptions) (Page, error)
}
