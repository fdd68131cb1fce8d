// Package proxy keeps the pool of egress proxies runs rotate through, and
// discovers new ones from public lists.
package proxy

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/user/maps-harvester/pkg/logger"
)

const DefaultMaxFailures = 3

// Entry is one proxy and its health bookkeeping.
type Entry struct {
	Address   string    `json:"address"`
	Username  string    `json:"username,omitempty"`
	Password  string    `json:"-"`
	Protocol  string    `json:"protocol"`
	Successes int       `json:"successes"`
	Failures  int       `json:"failures"`
	Disabled  bool      `json:"disabled"`
	LastUsed  time.Time `json:"lastUsed,omitempty"`
}

// Server is the credential-free proxy URL a browser is pointed at.
func (e Entry) Server() string {
	return e.Protocol + "://" + e.Address
}

// URL includes credentials, for HTTP clients.
func (e Entry) URL() *url.URL {
	u := &url.URL{Scheme: e.Protocol, Host: e.Address}
	if e.Username != "" {
		u.User = url.UserPassword(e.Username, e.Password)
	}
	return u
}

// Stat is the masked, read-only view of an entry.
type Stat struct {
	Proxy       string    `json:"proxy"`
	Successes   int       `json:"successes"`
	Failures    int       `json:"failures"`
	Disabled    bool      `json:"disabled"`
	LastUsed    time.Time `json:"lastUsed,omitempty"`
	SuccessRate string    `json:"successRate"`
}

type Config struct {
	MaxFailures  int
	RotateOnFail bool
}

// Pool rotates round-robin over healthy entries. It is safe for concurrent
// use by several runs.
type Pool struct {
	mu      sync.Mutex
	entries []*Entry
	index   int
	cfg     Config
	logger  *zap.Logger
}

func NewPool(cfg Config, log *zap.Logger, entries ...Entry) *Pool {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pool{cfg: cfg, logger: log}
	p.Add(entries...)
	return p
}

// Add appends entries not already present and returns how many were new.
func (p *Pool) Add(entries ...Entry) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	added := 0
	for _, e := range entries {
		if p.find(e.Address) != nil {
			continue
		}
		e := e
		e.Successes, e.Failures, e.Disabled = 0, 0, false
		p.entries = append(p.entries, &e)
		added++
	}
	return added
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Next returns the next healthy entry. When every entry is disabled the
// pool is re-enabled and the first entry returned. ok is false for an
// empty pool, meaning direct egress.
func (p *Pool) Next() (Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next()
}

func (p *Pool) next() (Entry, bool) {
	if len(p.entries) == 0 {
		return Entry{}, false
	}
	available := make([]*Entry, 0, len(p.entries))
	for _, e := range p.entries {
		if !e.Disabled {
			available = append(available, e)
		}
	}
	var picked *Entry
	if len(available) == 0 {
		p.logger.Warn("all proxies disabled, re-enabling pool", zap.Int("size", len(p.entries)))
		p.reset()
		picked = p.entries[0]
		p.index = 1
	} else {
		picked = available[p.index%len(available)]
		p.index++
	}
	picked.LastUsed = time.Now()
	return *picked, true
}

func (p *Pool) MarkSuccess(address string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e := p.find(address); e != nil {
		e.Successes++
		e.Failures = 0
	}
}

// MarkFailed records a failure, disabling the entry at MaxFailures. With
// RotateOnFail set it also returns the entry to switch to.
func (p *Pool) MarkFailed(address string) (Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recordFailure(address)
	if !p.cfg.RotateOnFail {
		return Entry{}, false
	}
	return p.next()
}

// RecordFailure is MarkFailed without rotation, for callers that give up
// instead of switching proxies. The round-robin position is left alone.
func (p *Pool) RecordFailure(address string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recordFailure(address)
}

func (p *Pool) recordFailure(address string) {
	e := p.find(address)
	if e == nil {
		return
	}
	e.Failures++
	if e.Failures >= p.cfg.MaxFailures && !e.Disabled {
		e.Disabled = true
		p.logger.Warn("proxy disabled", zap.String("proxy", e.Address), zap.Int("failures", e.Failures))
	}
}

// Reset re-enables every entry and clears failure counters.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
}

func (p *Pool) reset() {
	for _, e := range p.entries {
		e.Disabled = false
		e.Failures = 0
	}
}

func (p *Pool) Stats() []Stat {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Stat, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, Stat{
			Proxy:       maskedServer(*e),
			Successes:   e.Successes,
			Failures:    e.Failures,
			Disabled:    e.Disabled,
			LastUsed:    e.LastUsed,
			SuccessRate: successRate(e.Successes, e.Failures),
		})
	}
	return out
}

func (p *Pool) find(address string) *Entry {
	for _, e := range p.entries {
		if e.Address == address {
			return e
		}
	}
	return nil
}

func maskedServer(e Entry) string {
	if e.Username == "" {
		return e.Server()
	}
	return fmt.Sprintf("%s://%s:%s@%s", e.Protocol, e.Username, logger.MaskSecret(e.Password), e.Address)
}

func successRate(ok, failed int) string {
	if ok+failed == 0 {
		return "N/A"
	}
	return fmt.Sprintf("%.1f%%", float64(ok)/float64(ok+failed)*100)
}
