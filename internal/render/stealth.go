package render

import (
	"math/rand/v2"
)

const (
	baseViewportWidth  = 1400
	baseViewportHeight = 900
	viewportJitter     = 40

	acceptLanguage = "es-MX,es;q=0.9,en;q=0.8"
	locale         = "es-MX"
)

// DefaultUserAgents is the desktop pool identities are drawn from.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_2_1) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_2_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:122.0) Gecko/20100101 Firefox/122.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14.2; rv:122.0) Gecko/20100101 Firefox/122.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36 Edg/121.0.0.0",
}

type identity struct {
	UserAgent string
	Width     int64
	Height    int64
}

func newIdentity(userAgents []string) identity {
	if len(userAgents) == 0 {
		userAgents = DefaultUserAgents
	}
	return identity{
		UserAgent: userAgents[rand.IntN(len(userAgents))],
		Width:     int64(baseViewportWidth + jitter()),
		Height:    int64(baseViewportHeight + jitter()),
	}
}

func jitter() int {
	return rand.IntN(2*viewportJitter+1) - viewportJitter
}

// stealthScript runs before any page script and hides the usual
// automation tells.
const stealthScript = `(() => {
  Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
  Object.defineProperty(navigator, 'languages', { get: () => ['es-MX', 'es', 'en'] });
  Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
  window.chrome = window.chrome || { runtime: {} };
  const query = window.navigator.permissions && window.navigator.permissions.query;
  if (query) {
    window.navigator.permissions.query = (p) =>
      p && p.name === 'notifications'
        ? Promise.resolve({ state: Notification.permission })
        : query(p);
  }
})();`

// consentScript clicks the first visible consent button it recognises.
const consentScript = `(() => {
  const selectors = [
    'button[aria-label*="Aceptar todo"]',
    'button[aria-label*="Accept all"]',
    'button[aria-label*="Aceptar"]',
    'button[aria-label*="Accept"]',
    'button[aria-label="I agree"]',
    'button[aria-label="Alles akzeptieren"]',
    'button[jsname="b3VHJd"]',
    'form[action*="consent"] button'
  ];
  for (const sel of selectors) {
    const btn = document.querySelector(sel);
    if (btn && btn.offsetParent !== null) {
      btn.click();
      return true;
    }
  }
  return false;
})()`
