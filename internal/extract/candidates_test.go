package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/maps-harvester/internal/domain"
)

func candidateFixture(name, url string) domain.CandidateEntry {
	return domain.CandidateEntry{Name: name, URL: url}
}

const feedHTML = `<html><body>
<a href="/maps/place/Outside+Feed/data=x">outside</a>
<div role="feed">
  <div class="Nv2PK"><a class="hfpxzc" aria-label="Café Uno" href="/maps/place/Caf%C3%A9+Uno/data=!1"></a><div class="fontHeadlineSmall">Café Uno</div></div>
  <div class="Nv2PK"><a class="hfpxzc" href="https://www.google.com/maps/place/Dos/data=!2"><span class="fontHeadlineSmall">Dos Hermanos</span></a></div>
  <div class="Nv2PK"><a class="hfpxzc" href="/maps/place/Caf%C3%A9+Uno/data=!1"></a></div>
  <div class="Nv2PK"><a class="hfpxzc" href="/maps/place/Tres+Reyes/data=!3"></a></div>
</div></body></html>`

func TestCandidates(t *testing.T) {
	got := Candidates(feedHTML, 0)
	require.Len(t, got, 3)

	assert.Equal(t, "Café Uno", got[0].Name)
	assert.Equal(t, "https://www.google.com/maps/place/Caf%C3%A9+Uno/data=!1", got[0].URL)
	assert.Equal(t, "Dos Hermanos", got[1].Name)
	assert.Equal(t, "Tres Reyes", got[2].Name, "falls back to the url name")
}

func TestCandidates_Cap(t *testing.T) {
	got := Candidates(feedHTML, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "Dos Hermanos", got[1].Name)
}

func TestCandidates_EmptyFeed(t *testing.T) {
	assert.Empty(t, Candidates(`<div role="feed"></div>`, 10))
	assert.Empty(t, Candidates(``, 10))
}

func TestPlaceURL(t *testing.T) {
	assert.True(t, PlaceURL("https://www.google.com/maps/place/Uno/@1,2,17z"))
	assert.False(t, PlaceURL("https://www.google.com/maps/search/cafe"))
}
