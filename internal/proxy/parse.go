package proxy

import (
	"bufio"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

var proxyPattern = regexp.MustCompile(`^(?:(\w+)://)?(?:([^:@/]+):(.+)@)?([^:@/]+):(\d+)/?$`)

// Parse reads "[proto://][user:pass@]host:port". The protocol defaults to
// http.
func Parse(raw string) (Entry, error) {
	raw = strings.TrimSpace(raw)
	m := proxyPattern.FindStringSubmatch(raw)
	if m == nil {
		return Entry{}, fmt.Errorf("invalid proxy %q", maskRaw(raw))
	}
	proto := strings.ToLower(m[1])
	if proto == "" {
		proto = "http"
	}
	switch proto {
	case "http", "https", "socks4", "socks5":
	default:
		return Entry{}, fmt.Errorf("unsupported proxy protocol %q", proto)
	}
	return Entry{
		Address:  net.JoinHostPort(m[4], m[5]),
		Username: m[2],
		Password: m[3],
		Protocol: proto,
	}, nil
}

// ParseList reads one proxy per line, skipping blanks, comments and
// malformed lines.
func ParseList(text string) []Entry {
	var out []Entry
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if e, err := Parse(line); err == nil {
			out = append(out, e)
		}
	}
	return out
}

// maskRaw hides the password of a raw proxy string for error messages.
func maskRaw(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		if i := strings.LastIndex(raw, "@"); i >= 0 {
			return "***@" + raw[i+1:]
		}
		return raw
	}
	return u.Redacted()
}
