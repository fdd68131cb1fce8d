package crawler

import (
	"time"
)

// Timeouts are layered: each one must fit inside the next.
type Timeouts struct {
	Navigation time.Duration
	FeedWait   time.Duration
	Detail     time.Duration
	Candidate  time.Duration
	Run        time.Duration
}

type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

type PaginatorConfig struct {
	PollInterval     time.Duration
	StabilizeTimeout time.Duration
	MaxAttempts      int
	NoGrowthLimit    int
	TotalTimeout     time.Duration
	ScrollAmount     int
}

type FilterConfig struct {
	// CityMatch drops records whose address does not mention the queried
	// city.
	CityMatch bool
	// GeoRadius drops records farther than radius × GeoSlack from the
	// search centre.
	GeoRadius bool
	GeoSlack  float64
}

type Options struct {
	Timeouts      Timeouts
	Retry         RetryPolicy
	Paginator     PaginatorConfig
	Filters       FilterConfig
	FeedAttempts  int
	CountryPrefix string
	// PreviewMax caps pagination in preview mode.
	PreviewMax int
}

func DefaultOptions() Options {
	return Options{
		Timeouts: Timeouts{
			Navigation: 15 * time.Second,
			FeedWait:   20 * time.Second,
			Detail:     5 * time.Second,
			Candidate:  45 * time.Second,
			Run:        30 * time.Minute,
		},
		Retry: RetryPolicy{MaxRetries: 2, BaseDelay: time.Second},
		Paginator: PaginatorConfig{
			PollInterval:     100 * time.Millisecond,
			StabilizeTimeout: 2 * time.Second,
			MaxAttempts:      50,
			NoGrowthLimit:    5,
			TotalTimeout:     60 * time.Second,
			ScrollAmount:     800,
		},
		Filters:       FilterConfig{GeoSlack: 1.5},
		FeedAttempts:  3,
		CountryPrefix: "52",
		PreviewMax:    200,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Timeouts.Navigation <= 0 {
		o.Timeouts.Navigation = d.Timeouts.Navigation
	}
	if o.Timeouts.FeedWait <= 0 {
		o.Timeouts.FeedWait = d.Timeouts.FeedWait
	}
	if o.Timeouts.Detail <= 0 {
		o.Timeouts.Detail = d.Timeouts.Detail
	}
	if o.Timeouts.Candidate <= 0 {
		o.Timeouts.Candidate = d.Timeouts.Candidate
	}
	if o.Timeouts.Run <= 0 {
		o.Timeouts.Run = d.Timeouts.Run
	}
	if o.Retry.MaxRetries < 0 {
		o.Retry.MaxRetries = 0
	}
	if o.Retry.BaseDelay < 0 {
		o.Retry.BaseDelay = 0
	}
	if o.Paginator.PollInterval <= 0 {
		o.Paginator.PollInterval = d.Paginator.PollInterval
	}
	if o.Paginator.StabilizeTimeout <= 0 {
		o.Paginator.StabilizeTimeout = d.Paginator.StabilizeTimeout
	}
	if o.Paginator.MaxAttempts <= 0 {
		o.Paginator.MaxAttempts = d.Paginator.MaxAttempts
	}
	if o.Paginator.NoGrowthLimit <= 0 {
		o.Paginator.NoGrowthLimit = d.Paginator.NoGrowthLimit
	}
	if o.Paginator.TotalTimeout <= 0 {
		o.Paginator.TotalTimeout = d.Paginator.TotalTimeout
	}
	if o.Paginator.ScrollAmount <= 0 {
		o.Paginator.ScrollAmount = d.Paginator.ScrollAmount
	}
	if o.Filters.GeoSlack <= 0 {
		o.Filters.GeoSlack = d.Filters.GeoSlack
	}
	if o.FeedAttempts <= 0 {
		o.FeedAttempts = d.FeedAttempts
	}
	if o.PreviewMax <= 0 {
		o.PreviewMax = d.PreviewMax
	}
	return o
}
