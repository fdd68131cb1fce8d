package enrich

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

var DefaultResolvers = []string{"8.8.8.8:53", "1.1.1.1:53"}

// MXVerifier tells whether a mail domain can receive mail.
type MXVerifier interface {
	HasMX(ctx context.Context, domain string) bool
}

// MXChecker queries resolvers directly and caches definitive answers per
// domain. When no resolver answers, the domain is given the benefit of the
// doubt.
type MXChecker struct {
	client    *dns.Client
	resolvers []string
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[string]bool
}

func NewMXChecker(resolvers []string, timeout time.Duration, logger *zap.Logger) *MXChecker {
	if len(resolvers) == 0 {
		resolvers = DefaultResolvers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MXChecker{
		client:    &dns.Client{Timeout: timeout},
		resolvers: resolvers,
		logger:    logger,
		cache:     map[string]bool{},
	}
}

func (c *MXChecker) HasMX(ctx context.Context, domain string) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return false
	}
	c.mu.Lock()
	v, ok := c.cache[domain]
	c.mu.Unlock()
	if ok {
		return v
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), dns.TypeMX)
	msg.RecursionDesired = true

	for _, server := range c.resolvers {
		resp, _, err := c.client.ExchangeContext(ctx, msg, server)
		if err != nil || resp == nil {
			c.logger.Debug("mx lookup failed", zap.String("domain", domain), zap.String("resolver", server), zap.Error(err))
			continue
		}
		has := false
		switch resp.Rcode {
		case dns.RcodeSuccess:
			for _, rr := range resp.Answer {
				if _, isMX := rr.(*dns.MX); isMX {
					has = true
					break
				}
			}
		case dns.RcodeNameError:
		default:
			continue
		}
		c.mu.Lock()
		c.cache[domain] = has
		c.mu.Unlock()
		return has
	}
	return true
}

func emailDomain(email string) string {
	i := strings.LastIndex(email, "@")
	if i < 0 {
		return ""
	}
	return email[i+1:]
}
