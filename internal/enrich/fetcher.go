// Package enrich visits a business's own website to collect contact
// emails and social profiles.
package enrich

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/user/maps-harvester/internal/domain"
	"github.com/user/maps-harvester/internal/render"
)

const DefaultTimeout = 8 * time.Second

type Config struct {
	Timeout time.Duration
	// FollowContact opens one same-host contact page when the home page
	// shows no email.
	FollowContact bool
}

// Fetcher is best effort: whatever goes wrong, the caller gets an empty
// Enrichment and carries on.
type Fetcher struct {
	renderer render.Renderer
	cfg      Config
	mx       MXVerifier
	logger   *zap.Logger
}

// NewFetcher builds a fetcher. mx may be nil to skip mail-domain checks.
func NewFetcher(renderer render.Renderer, cfg Config, mx MXVerifier, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{renderer: renderer, cfg: cfg, mx: mx, logger: logger}
}

// Fetch loads website within the configured timeout and extracts emails and
// social handles from it.
func (f *Fetcher) Fetch(ctx context.Context, website string) domain.Enrichment {
	target := normalizeWebsite(website)
	if target == "" {
		return domain.Enrichment{}
	}
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	page, err := f.renderer.NewPage(ctx, render.PageOptions{BlockStylesheets: true})
	if err != nil {
		f.logger.Debug("enrichment page not opened", zap.String("website", target), zap.Error(err))
		return domain.Enrichment{}
	}
	defer func() {
		if err := page.Close(); err != nil {
			f.logger.Debug("enrichment page close failed", zap.Error(err))
		}
	}()

	data, err := f.load(ctx, page, target)
	if err != nil {
		f.logger.Debug("enrichment fetch failed", zap.String("website", target), zap.Error(err))
		return domain.Enrichment{}
	}

	if len(data.Emails) == 0 && f.cfg.FollowContact && data.Contact != "" {
		if sub, err := f.load(ctx, page, data.Contact); err == nil {
			data.Emails = sub.Emails
			data.Social = mergeSocial(data.Social, sub.Social)
		} else {
			f.logger.Debug("contact page fetch failed", zap.String("url", data.Contact), zap.Error(err))
		}
	}

	emails := f.verify(ctx, data.Emails)
	out := domain.Enrichment{Emails: emails, Social: data.Social}
	if len(emails) > 0 {
		out.Email = emails[0]
	}
	return out
}

func (f *Fetcher) load(ctx context.Context, page render.Page, url string) (pageData, error) {
	if err := page.Navigate(ctx, url); err != nil {
		return pageData{}, err
	}
	html, err := page.HTML(ctx)
	if err != nil {
		return pageData{}, err
	}
	loc, err := page.Location(ctx)
	if err != nil || loc == "" {
		loc = url
	}
	return parsePage(loc, html), nil
}

func (f *Fetcher) verify(ctx context.Context, emails []string) []string {
	if f.mx == nil || len(emails) == 0 {
		return emails
	}
	out := emails[:0:0]
	for _, e := range emails {
		if f.mx.HasMX(ctx, emailDomain(e)) {
			out = append(out, e)
		} else {
			f.logger.Debug("email dropped, domain has no mx", zap.String("email", e))
		}
	}
	return out
}

func mergeSocial(a, b domain.SocialHandles) domain.SocialHandles {
	pick := func(x, y string) string {
		if x != "" {
			return x
		}
		return y
	}
	return domain.SocialHandles{
		Instagram: pick(a.Instagram, b.Instagram),
		Facebook:  pick(a.Facebook, b.Facebook),
		WhatsApp:  pick(a.WhatsApp, b.WhatsApp),
		Twitter:   pick(a.Twitter, b.Twitter),
		LinkedIn:  pick(a.LinkedIn, b.LinkedIn),
		YouTube:   pick(a.YouTube, b.YouTube),
		TikTok:    pick(a.TikTok, b.TikTok),
	}
}
