package render

import (
	"strings"

	"github.com/chromedp/cdproto/network"
)

var blockedResources = map[network.ResourceType]bool{
	network.ResourceTypeImage: true,
	network.ResourceTypeMedia: true,
	network.ResourceTypeFont:  true,
}

// Substrings of tracker and ad hosts; matched anywhere in the request URL.
var trackerDomains = []string{
	"googleadservices.com",
	"googlesyndication.com",
	"doubleclick.net",
	"google-analytics.com",
	"googletagmanager.com",
	"facebook.com",
	"facebook.net",
	"fbcdn.net",
	"analytics",
	"tracking",
	"adservice",
	"pagead",
}

// shouldBlock decides whether a paused request is aborted.
func shouldBlock(resourceType network.ResourceType, url string, blockStylesheets bool) bool {
	if blockedResources[resourceType] {
		return true
	}
	if blockStylesheets && resourceType == network.ResourceTypeStylesheet {
		return true
	}
	// The top-level document is never dropped, whatever its URL.
	if resourceType == network.ResourceTypeDocument {
		return false
	}
	for _, d := range trackerDomains {
		if strings.Contains(url, d) {
			return true
		}
	}
	return false
}
