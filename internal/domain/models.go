package domain

import "time"

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Filters is the predicate set a record must pass to be kept.
type Filters struct {
	MinRating       float64 `json:"minRating,omitempty"`
	MinReviews      int     `json:"minReviews,omitempty"`
	RequirePhone    bool    `json:"requirePhone,omitempty"`
	RequireWebsite  bool    `json:"requireWebsite,omitempty"`
	RequireDelivery bool    `json:"requireDelivery,omitempty"`
}

// IsZero reports whether no predicate is set.
func (f Filters) IsZero() bool {
	return f == Filters{}
}

// SearchQuery is the immutable input of one run.
type SearchQuery struct {
	BusinessType       string       `json:"businessType"`
	City               string       `json:"city,omitempty"`
	Country            string       `json:"country,omitempty"`
	Coordinates        *Coordinates `json:"coordinates,omitempty"`
	RadiusKm           float64      `json:"radius,omitempty"`
	MaxResults         int          `json:"maxResults"`
	ExtractEmails      bool         `json:"extractEmails"`
	ExtractSocialMedia bool         `json:"extractSocialMedia"`
	Filters            Filters      `json:"filters"`
}

// CandidateEntry is a feed entry not yet resolved into a record.
type CandidateEntry struct {
	Name string
	URL  string
}

// Attributes is the fixed set of boolean place attributes.
type Attributes struct {
	Delivery   bool `json:"delivery"`
	Takeout    bool `json:"takeout"`
	DineIn     bool `json:"dineIn"`
	Curbside   bool `json:"curbside"`
	Wheelchair bool `json:"wheelchair"`
	WiFi       bool `json:"wifi"`
	Parking    bool `json:"parking"`
}

// Review is one of the top reviews shown on a detail view.
type Review struct {
	Author string `json:"author,omitempty"`
	Rating int    `json:"rating,omitempty"`
	Text   string `json:"text,omitempty"`
	Date   string `json:"date,omitempty"`
}

// SocialHandles holds one handle or profile link per platform.
type SocialHandles struct {
	Instagram string `json:"instagram,omitempty"`
	Facebook  string `json:"facebook,omitempty"`
	WhatsApp  string `json:"whatsapp,omitempty"`
	Twitter   string `json:"twitter,omitempty"`
	LinkedIn  string `json:"linkedin,omitempty"`
	YouTube   string `json:"youtube,omitempty"`
	TikTok    string `json:"tiktok,omitempty"`
}

// Any reports whether at least one platform is set.
func (s SocialHandles) Any() bool {
	return s != SocialHandles{}
}

// Enrichment is what the business's own website contributed.
type Enrichment struct {
	Email  string        `json:"email,omitempty"`
	Emails []string      `json:"allEmails,omitempty"`
	Social SocialHandles `json:"socialMedia"`
}

// IsEmpty reports whether the fetch found nothing.
func (e Enrichment) IsEmpty() bool {
	return e.Email == "" && len(e.Emails) == 0 && !e.Social.Any()
}

// BusinessRecord is the unit of output.
type BusinessRecord struct {
	Position int    `json:"position"`
	PlaceID  string `json:"placeId,omitempty"`
	Name     string `json:"name"`
	Address  string `json:"address,omitempty"`

	Rating         *float64     `json:"rating,omitempty"`
	ReviewCount    *int         `json:"reviewCount,omitempty"`
	Category       string       `json:"category,omitempty"`
	Categories     []string     `json:"categories,omitempty"`
	PriceLevel     string       `json:"priceLevel,omitempty"`
	Coordinates    *Coordinates `json:"coordinates,omitempty"`
	PlusCode       string       `json:"plusCode,omitempty"`
	IsOpenNow      *bool        `json:"isOpenNow,omitempty"`
	Hours          string       `json:"hours,omitempty"`
	Phone          string       `json:"phone,omitempty"`
	Website        string       `json:"website,omitempty"`
	Attributes     Attributes   `json:"attributes"`
	Services       []string     `json:"services,omitempty"`
	TopReviews     []Review     `json:"topReviews,omitempty"`
	MainPhoto      string       `json:"mainPhoto,omitempty"`
	PhotosCount    int          `json:"photosCount,omitempty"`
	MenuURL        string       `json:"menuUrl,omitempty"`
	ReservationURL string       `json:"reservationUrl,omitempty"`
	OrderURL       string       `json:"orderUrl,omitempty"`
	Claimed        bool         `json:"claimedBusiness"`
	ProfileURL     string       `json:"profileUrl,omitempty"`

	// Nil until the enrichment fetch ran for this record.
	Enrichment *Enrichment `json:"enrichment,omitempty"`

	ScrapedAt time.Time `json:"scrapedAt"`
	Error     string    `json:"error,omitempty"`
}

// Email returns the primary enrichment email, if any.
func (r *BusinessRecord) Email() string {
	if r.Enrichment == nil {
		return ""
	}
	return r.Enrichment.Email
}

// Social returns the enrichment social handles, if any.
func (r *BusinessRecord) Social() SocialHandles {
	if r.Enrichment == nil {
		return SocialHandles{}
	}
	return r.Enrichment.Social
}

// IsFallback reports whether the record is a name-only stand-in for a
// candidate whose extraction failed.
func (r *BusinessRecord) IsFallback() bool {
	return r.Error != ""
}

// Progress is reported after every candidate.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Label   string `json:"label"`
	Percent int    `json:"percent"`
}

// RunStats summarises a finished run.
type RunStats struct {
	Total         int     `json:"total"`
	WithPhone     int     `json:"withPhone"`
	WithEmail     int     `json:"withEmail"`
	WithWebsite   int     `json:"withWebsite"`
	WithInstagram int     `json:"withInstagram"`
	WithFacebook  int     `json:"withFacebook"`
	WithWhatsApp  int     `json:"withWhatsapp"`
	WithSocials   int     `json:"withSocials"`
	AverageRating float64 `json:"averageRating"`
	Candidates    int     `json:"candidates"`
	Duplicates    int     `json:"duplicates"`
	Filtered      int     `json:"filtered"`
	Failed        int     `json:"failed"`
	NewSinceLast  int     `json:"newSinceLast,omitempty"`
}

// RunState is a step of the per-run state machine.
type RunState string

const (
	StateInit             RunState = "init"
	StateFeedLoading      RunState = "feed_loading"
	StatePaginating       RunState = "paginating"
	StatePerCandidateLoop RunState = "per_candidate_loop"
	StateFinalizing       RunState = "finalizing"
	StateDone             RunState = "done"
	StateBlockedAbort     RunState = "blocked_abort"
)

// Outcome tells a caller how a run ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeNoResults Outcome = "no_results"
	OutcomeBlocked   Outcome = "blocked"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// RunResult is what a run hands back: records, statistics and the query.
type RunResult struct {
	RunID      string           `json:"runId"`
	Query      SearchQuery      `json:"query"`
	Records    []BusinessRecord `json:"businesses"`
	Stats      RunStats         `json:"stats"`
	State      RunState         `json:"state"`
	Outcome    Outcome          `json:"outcome"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt"`
}

// Duration is the wall time of the run.
func (r *RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Preview is the cheap count-only variant of a run.
type Preview struct {
	Count       int      `json:"count"`
	SampleNames []string `json:"sampleNames"`
	Query       string   `json:"query"`
	Message     string   `json:"message,omitempty"`
}
