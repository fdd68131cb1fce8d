package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultProbeURL     = "https://www.google.com"
	DefaultProbeTimeout = 15 * time.Second

	maxListBytes = 4 << 20
)

var DefaultSources = []string{
	"https://raw.githubusercontent.com/TheSpeedX/PROXY-List/master/http.txt",
	"https://api.proxyscrape.com/v2/?request=getproxies&protocol=http&timeout=10000&country=all&ssl=all&anonymity=all",
}

var ErrProbeFailed = errors.New("proxy probe failed")

type DiscoveryConfig struct {
	Sources      []string
	ProbeURL     string
	ProbeTimeout time.Duration
	// Concurrency bounds simultaneous probes.
	Concurrency int
}

// Discoverer pulls candidate proxies from public lists and keeps those that
// can reach the probe URL.
type Discoverer struct {
	cfg    DiscoveryConfig
	lists  *http.Client
	probe  func(ctx context.Context, e Entry) (time.Duration, error)
	logger *zap.Logger
}

func NewDiscoverer(cfg DiscoveryConfig, logger *zap.Logger) *Discoverer {
	if len(cfg.Sources) == 0 {
		cfg.Sources = DefaultSources
	}
	if cfg.ProbeURL == "" {
		cfg.ProbeURL = DefaultProbeURL
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Discoverer{cfg: cfg, lists: newChromeClient(cfg.ProbeTimeout), logger: logger}
	d.probe = d.httpProbe
	return d
}

// Discover fetches every source, probes the candidates and returns up to
// limit working entries. Source failures are logged and skipped.
func (d *Discoverer) Discover(ctx context.Context, limit int) ([]Entry, error) {
	var candidates []Entry
	seen := map[string]bool{}
	for _, src := range d.cfg.Sources {
		entries, err := d.fetchList(ctx, src)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			d.logger.Warn("proxy source failed", zap.String("source", src), zap.Error(err))
			continue
		}
		for _, e := range entries {
			if !seen[e.Address] {
				seen[e.Address] = true
				candidates = append(candidates, e)
			}
		}
	}
	d.logger.Info("proxy candidates fetched", zap.Int("count", len(candidates)))
	return d.probeAll(ctx, candidates, limit)
}

func (d *Discoverer) probeAll(parent context.Context, candidates []Entry, limit int) ([]Entry, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var (
		mu      sync.Mutex
		working []Entry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for _, c := range candidates {
		mu.Lock()
		done := limit > 0 && len(working) >= limit
		mu.Unlock()
		if done || gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if _, err := d.probe(gctx, c); err != nil {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			if limit <= 0 || len(working) < limit {
				working = append(working, c)
				if limit > 0 && len(working) == limit {
					cancel()
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := parent.Err(); err != nil {
		return working, err
	}
	d.logger.Info("proxy probe finished", zap.Int("working", len(working)), zap.Int("probed", len(candidates)))
	return working, nil
}

// Test probes a single entry and reports its latency.
func (d *Discoverer) Test(ctx context.Context, e Entry) (time.Duration, error) {
	return d.probe(ctx, e)
}

func (d *Discoverer) httpProbe(ctx context.Context, e Entry) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.ProbeTimeout)
	defer cancel()

	client := &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(e.URL()), DisableKeepAlives: true},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.ProbeURL, nil)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("%w: status %d", ErrProbeFailed, resp.StatusCode)
	}
	return time.Since(start), nil
}

func (d *Discoverer) fetchList(ctx context.Context, src string) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/plain,*/*")
	resp, err := d.lists.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListBytes))
	if err != nil {
		return nil, err
	}
	return ParseList(string(body)), nil
}

// newChromeClient presents a Chrome TLS fingerprint, forcing HTTP/1.1 so
// the stdlib transport can speak over the handshaken connection.
func newChromeClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				host = addr
			}
			spec, err := utls.UTLSIdToSpec(utls.HelloChrome_Auto)
			if err != nil {
				conn.Close()
				return nil, err
			}
			for i, ext := range spec.Extensions {
				if alpn, ok := ext.(*utls.ALPNExtension); ok {
					alpn.AlpnProtocols = []string{"http/1.1"}
					spec.Extensions[i] = alpn
					break
				}
			}
			tlsConn := utls.UClient(conn, &utls.Config{ServerName: host}, utls.HelloCustom)
			if err := tlsConn.ApplyPreset(&spec); err != nil {
				conn.Close()
				return nil, err
			}
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			return tlsConn, nil
		},
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}
