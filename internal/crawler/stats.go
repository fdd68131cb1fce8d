package crawler

import (
	"math"

	"github.com/user/maps-harvester/internal/domain"
)

// tally counts what happened to candidates during a run.
type tally struct {
	candidates int
	filtered   int
	failed     int
}

func computeStats(records []domain.BusinessRecord, t tally, duplicates int) domain.RunStats {
	s := domain.RunStats{
		Total:      len(records),
		Candidates: t.candidates,
		Duplicates: duplicates,
		Filtered:   t.filtered,
		Failed:     t.failed,
	}
	var ratingSum float64
	rated := 0
	for i := range records {
		r := &records[i]
		if r.Phone != "" {
			s.WithPhone++
		}
		if r.Email() != "" {
			s.WithEmail++
		}
		if r.Website != "" {
			s.WithWebsite++
		}
		social := r.Social()
		if social.Instagram != "" {
			s.WithInstagram++
		}
		if social.Facebook != "" {
			s.WithFacebook++
		}
		if social.WhatsApp != "" {
			s.WithWhatsApp++
		}
		if social.Any() {
			s.WithSocials++
		}
		if r.Rating != nil {
			ratingSum += *r.Rating
			rated++
		}
	}
	if rated > 0 {
		s.AverageRating = math.Round(ratingSum/float64(rated)*100) / 100
	}
	return s
}
