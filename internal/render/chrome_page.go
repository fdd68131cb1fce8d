package render

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/user/maps-harvester/internal/domain"
)

type chromePage struct {
	browser   *Browser
	ctx       context.Context
	cancel    context.CancelFunc
	contextID cdp.BrowserContextID
	opts      PageOptions
	identity  identity
	logger    *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

func (p *chromePage) setup(ctx context.Context) error {
	run, cancel := mergeContext(p.ctx, ctx)
	defer cancel()

	return chromedp.Run(run,
		fetch.Enable().
			WithPatterns([]*fetch.RequestPattern{{URLPattern: "*", RequestStage: fetch.RequestStageRequest}}).
			WithHandleAuthRequests(p.opts.ProxyUsername != ""),
		emulation.SetUserAgentOverride(p.identity.UserAgent).WithAcceptLanguage(acceptLanguage),
		emulation.SetLocaleOverride().WithLocale(locale),
		chromedp.EmulateViewport(p.identity.Width, p.identity.Height),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
	)
}

// onEvent runs on the chromedp event loop, so replies are sent from a
// separate goroutine.
func (p *chromePage) onEvent(ev interface{}) {
	switch e := ev.(type) {
	case *fetch.EventRequestPaused:
		go p.handlePaused(e)
	case *fetch.EventAuthRequired:
		go p.handleAuth(e)
	}
}

func (p *chromePage) executor() context.Context {
	return cdp.WithExecutor(p.ctx, chromedp.FromContext(p.ctx).Target)
}

func (p *chromePage) handlePaused(e *fetch.EventRequestPaused) {
	ctx := p.executor()
	var err error
	if e.Request != nil && shouldBlock(e.ResourceType, e.Request.URL, p.opts.BlockStylesheets) {
		err = fetch.FailRequest(e.RequestID, network.ErrorReasonBlockedByClient).Do(ctx)
	} else {
		err = fetch.ContinueRequest(e.RequestID).Do(ctx)
	}
	if err != nil && p.ctx.Err() == nil {
		p.logger.Debug("request interception reply failed", zap.Error(err))
	}
}

func (p *chromePage) handleAuth(e *fetch.EventAuthRequired) {
	err := fetch.ContinueWithAuth(e.RequestID, &fetch.AuthChallengeResponse{
		Response: fetch.AuthChallengeResponseResponseProvideCredentials,
		Username: p.opts.ProxyUsername,
		Password: p.opts.ProxyPassword,
	}).Do(p.executor())
	if err != nil && p.ctx.Err() == nil {
		p.logger.Debug("proxy auth reply failed", zap.Error(err))
	}
}

func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	run, cancel := mergeContext(p.ctx, ctx)
	defer cancel()
	return chromedp.Run(run, actions...)
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return &domain.NavigationError{URL: url, Err: err}
	}
	return nil
}

func (p *chromePage) Reload(ctx context.Context) error {
	if err := p.run(ctx, chromedp.Reload()); err != nil {
		loc, _ := p.Location(ctx)
		return &domain.NavigationError{URL: loc, Err: err}
	}
	return nil
}

func (p *chromePage) Location(ctx context.Context) (string, error) {
	var loc string
	err := p.run(ctx, chromedp.Location(&loc))
	return loc, err
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *chromePage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.run(wctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (p *chromePage) Count(ctx context.Context, selector string) (int, error) {
	var n int
	err := p.run(ctx, chromedp.Evaluate(fmt.Sprintf(`document.querySelectorAll(%q).length`, selector), &n))
	return n, err
}

func (p *chromePage) ScrollBy(ctx context.Context, selector string, px int) error {
	script := fmt.Sprintf(`(() => {
  const el = document.querySelector(%q);
  if (!el) return false;
  el.scrollBy(0, %d);
  return true;
})()`, selector, px)
	var ok bool
	if err := p.run(ctx, chromedp.Evaluate(script, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("scroll target %q not found", selector)
	}
	return nil
}

func (p *chromePage) DismissConsent(ctx context.Context) (bool, error) {
	var clicked bool
	err := p.run(ctx, chromedp.Evaluate(consentScript, &clicked))
	return clicked, err
}

// Close closes the tab and disposes its browser context. Safe to call more
// than once.
func (p *chromePage) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		if err := p.browser.disposeContext(p.contextID); err != nil && p.browser.ctx.Err() == nil {
			p.closeErr = fmt.Errorf("failed to dispose browser context: %w", err)
		}
	})
	return p.closeErr
}
