package main

import (
	"flag"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/maps-harvester/internal/config"
	"github.com/user/maps-harvester/pkg/logger"
)

func TestQueryFlags(t *testing.T) {
	fs := flag.NewFlagSet("scrape", flag.ContinueOnError)
	query := queryFlags(fs)
	require.NoError(t, fs.Parse([]string{"-type", "cafe", "-lat", "19.43", "-lng", "-99.13", "-radius", "2", "-no-social", "-min-rating", "4.2"}))

	q := query()
	assert.Equal(t, "cafe", q.BusinessType)
	require.NotNil(t, q.Coordinates)
	assert.Equal(t, 19.43, q.Coordinates.Lat)
	assert.True(t, q.IsCoordMode())
	assert.True(t, q.ExtractEmails)
	assert.False(t, q.ExtractSocialMedia)
	assert.Equal(t, 4.2, q.Filters.MinRating)
	assert.NoError(t, q.Normalize().Validate())
}

func TestQueryFlags_CityMode(t *testing.T) {
	fs := flag.NewFlagSet("preview", flag.ContinueOnError)
	query := queryFlags(fs)
	require.NoError(t, fs.Parse([]string{"-type", "tacos", "-city", "Puebla", "-country", "México"}))

	q := query()
	assert.Nil(t, q.Coordinates)
	assert.Equal(t, 50, q.MaxResults)
	assert.NoError(t, q.Normalize().Validate())
}

func TestCrawlerOptions(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	opts := crawlerOptions(cfg)
	assert.Equal(t, 15*time.Second, opts.Timeouts.Navigation)
	assert.Equal(t, 60*time.Second, opts.Paginator.TotalTimeout)
	assert.Equal(t, 3, opts.FeedAttempts)
	assert.Equal(t, "52", opts.CountryPrefix)
}

func TestNewProxies(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	cfg.Proxies = []string{"10.0.0.1:8080", "bad proxy", "socks5://10.0.0.2:1080"}

	pool, d := newProxies(cfg, logger.NewTestLogger(t))
	assert.Equal(t, 2, pool.Len())
	assert.NotNil(t, d)
}
