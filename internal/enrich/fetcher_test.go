package enrich

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/maps-harvester/internal/domain"
	"github.com/user/maps-harvester/internal/render/rendertest"
	"github.com/user/maps-harvester/pkg/logger"
)

const homePage = `<html><body>
<a href="mailto:Ventas@LaCeiba.mx?subject=Hola">Escríbenos</a>
<p>info@laceiba.mx · logo@2x.png · user@example.com · errors@sentry.io</p>
<a href="https://www.instagram.com/laceiba.mid/">IG</a>
<a href="https://www.facebook.com/sharer.php?u=x">share</a>
<a href="https://facebook.com/LaCeibaMerida">FB</a>
<a href="https://wa.me/5219991234567">WhatsApp</a>
<a href="https://www.tiktok.com/@laceiba">TikTok</a>
<a href="https://x.com/laceiba_mx">X</a>
</body></html>`

type mxStub map[string]bool

func (m mxStub) HasMX(_ context.Context, domain string) bool { return m[domain] }

func newTestFetcher(t *testing.T, site *rendertest.Site, mx MXVerifier) *Fetcher {
	return NewFetcher(site, Config{Timeout: time.Second, FollowContact: true}, mx, logger.NewTestLogger(t))
}

func TestFetcher_Fetch(t *testing.T) {
	site := rendertest.NewSite()
	site.Documents["https://laceiba.mx/"] = homePage

	got := newTestFetcher(t, site, nil).Fetch(context.Background(), "https://laceiba.mx/")

	assert.Equal(t, "ventas@laceiba.mx", got.Email)
	assert.Equal(t, []string{"ventas@laceiba.mx", "info@laceiba.mx"}, got.Emails)
	assert.Equal(t, "instagram.com/laceiba.mid", got.Social.Instagram)
	assert.Equal(t, "facebook.com/LaCeibaMerida", got.Social.Facebook)
	assert.Equal(t, "5219991234567", got.Social.WhatsApp)
	assert.Equal(t, "tiktok.com/@laceiba", got.Social.TikTok)
	assert.Equal(t, "x.com/laceiba_mx", got.Social.Twitter)
	assert.Empty(t, got.Social.LinkedIn)

	pages := site.Pages()
	require.Len(t, pages, 1)
	assert.True(t, pages[0].Opts.BlockStylesheets)
	assert.Zero(t, site.OpenPages())
}

func TestFetcher_FollowsContactPage(t *testing.T) {
	site := rendertest.NewSite()
	site.Documents["https://tacos.mx"] = `<a href="/contacto">Contacto</a><a href="https://other.mx/contact">x</a>
<a href="https://instagram.com/tacos_mx">ig</a>`
	site.Documents["https://tacos.mx/contacto"] = `<p>Escríbenos a hola@tacos.mx</p><a href="https://wa.me/529990001111">wa</a>`

	got := newTestFetcher(t, site, nil).Fetch(context.Background(), "tacos.mx")

	assert.Equal(t, "hola@tacos.mx", got.Email)
	assert.Equal(t, "instagram.com/tacos_mx", got.Social.Instagram)
	assert.Equal(t, "529990001111", got.Social.WhatsApp)
	assert.Equal(t, []string{"https://tacos.mx", "https://tacos.mx/contacto"}, site.Navigations())
}

func TestFetcher_DropsDomainsWithoutMX(t *testing.T) {
	site := rendertest.NewSite()
	site.Documents["https://shop.mx/"] = `<p>a@shop.mx b@deadmail.mx</p>`

	got := newTestFetcher(t, site, mxStub{"shop.mx": true}).Fetch(context.Background(), "https://shop.mx/")

	assert.Equal(t, []string{"a@shop.mx"}, got.Emails)
	assert.Equal(t, "a@shop.mx", got.Email)
}

func TestFetcher_FailuresYieldEmpty(t *testing.T) {
	t.Run("navigation fails", func(t *testing.T) {
		site := rendertest.NewSite()
		site.Failures["https://down.mx/"] = 5
		got := newTestFetcher(t, site, nil).Fetch(context.Background(), "https://down.mx/")
		assert.True(t, got.IsEmpty())
		assert.Zero(t, site.OpenPages())
	})

	t.Run("page cannot open", func(t *testing.T) {
		site := rendertest.NewSite()
		site.NewPageErr = errors.New("browser gone")
		got := newTestFetcher(t, site, nil).Fetch(context.Background(), "https://shop.mx/")
		assert.Equal(t, domain.Enrichment{}, got)
	})

	t.Run("no website", func(t *testing.T) {
		site := rendertest.NewSite()
		got := newTestFetcher(t, site, nil).Fetch(context.Background(), "  ")
		assert.True(t, got.IsEmpty())
		assert.Empty(t, site.Pages())
	})
}

func TestEmails(t *testing.T) {
	html := `contact: Info@Bar.MX, info@bar.mx; sprite@3x.webp foo@email@bar.com
averyveryveryveryveryverylonglocalpartthatkeepsgoing@averylongdomain.example.mx
build@webpack.js`
	assert.Equal(t, []string{"info@bar.mx"}, emails(html))
}

func TestSocials_WhatsAppSendLink(t *testing.T) {
	s := socials(`<a href="https://api.whatsapp.com/send?phone=529991112233">w</a> https://www.youtube.com/@barmx https://linkedin.com/company/bar-mx`)
	assert.Equal(t, "529991112233", s.WhatsApp)
	assert.Equal(t, "youtube.com/@barmx", s.YouTube)
	assert.Equal(t, "linkedin.com/company/bar-mx", s.LinkedIn)
}

func TestNormalizeWebsite(t *testing.T) {
	assert.Equal(t, "https://shop.mx", normalizeWebsite("shop.mx"))
	assert.Equal(t, "http://shop.mx/a", normalizeWebsite(" http://shop.mx/a "))
	assert.Empty(t, normalizeWebsite(""))
}
