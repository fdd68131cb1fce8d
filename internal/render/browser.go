package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/user/maps-harvester/pkg/logger"
)

const disposeTimeout = 5 * time.Second

var ErrBrowserClosed = errors.New("browser closed")

// Options configures the browser process.
type Options struct {
	Headless   bool
	ExecPath   string
	UserAgents []string
}

// Browser owns one long-lived headless Chrome process. Pages are opened in
// fresh browser contexts so runs never share cookies or storage.
type Browser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	cancelAlloc context.CancelFunc
	userAgents  []string
	logger      *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewBrowser launches Chrome and waits for it to accept commands.
func NewBrowser(opts Options, log *zap.Logger) (*Browser, error) {
	if log == nil {
		log = zap.NewNop()
	}
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-notifications", true),
		chromedp.Flag("lang", locale),
		chromedp.WindowSize(baseViewportWidth, baseViewportHeight),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	sugar := log.Sugar()
	ctx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	log.Info("browser started", zap.Bool("headless", opts.Headless))

	return &Browser{
		ctx:         ctx,
		cancel:      cancel,
		cancelAlloc: cancelAlloc,
		userAgents:  opts.UserAgents,
		logger:      log,
	}, nil
}

// NewPage opens a tab in a new browser context routed through
// opts.ProxyServer when one is given.
func (b *Browser) NewPage(ctx context.Context, opts PageOptions) (Page, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, ErrBrowserClosed
	}

	create := target.CreateBrowserContext().WithDisposeOnDetach(true)
	if opts.ProxyServer != "" {
		create = create.WithProxyServer(opts.ProxyServer)
	}
	execCtx, cancel := b.scope(ctx)
	id, err := create.Do(cdp.WithExecutor(execCtx, chromedp.FromContext(b.ctx).Browser))
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(b.ctx, chromedp.WithExistingBrowserContext(id))
	p := &chromePage{
		browser:   b,
		ctx:       tabCtx,
		cancel:    tabCancel,
		contextID: id,
		opts:      opts,
		identity:  newIdentity(b.userAgents),
		logger:    b.logger,
	}
	chromedp.ListenTarget(tabCtx, p.onEvent)

	if err := p.setup(ctx); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("failed to prepare page: %w", err)
	}
	b.logger.Debug("page opened",
		zap.String("proxy", opts.ProxyServer),
		zap.String("proxyUser", logger.MaskSecret(opts.ProxyUsername)),
		zap.String("userAgent", p.identity.UserAgent),
	)
	return p, nil
}

// scope derives a context from the browser that also ends with ctx.
func (b *Browser) scope(ctx context.Context) (context.Context, context.CancelFunc) {
	return mergeContext(b.ctx, ctx)
}

func (b *Browser) disposeContext(id cdp.BrowserContextID) error {
	ctx, cancel := context.WithTimeout(b.ctx, disposeTimeout)
	defer cancel()
	return target.DisposeBrowserContext(id).Do(cdp.WithExecutor(ctx, chromedp.FromContext(b.ctx).Browser))
}

// Close shuts the browser process down. Pages still open become unusable.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	err := chromedp.Cancel(b.ctx)
	b.cancel()
	b.cancelAlloc()
	b.logger.Info("browser stopped")
	return err
}

// mergeContext returns a child of base that is also cancelled when caller
// ends and inherits caller's deadline.
func mergeContext(base, caller context.Context) (context.Context, context.CancelFunc) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if d, ok := caller.Deadline(); ok {
		ctx, cancel = context.WithDeadline(base, d)
	} else {
		ctx, cancel = context.WithCancel(base)
	}
	stop := context.AfterFunc(caller, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
