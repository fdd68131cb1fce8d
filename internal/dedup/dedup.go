// Package dedup folds records that describe the same place.
package dedup

import (
	"strings"

	"github.com/user/maps-harvester/internal/domain"
)

// emptyKey is what a record without placeId, name and address keys to. Such
// records are kept as they are.
const emptyKey = "|"

// Key is the identity of a record: its placeId when known, otherwise the
// normalized name and address.
func Key(r domain.BusinessRecord) string {
	if id := strings.TrimSpace(r.PlaceID); id != "" {
		return id
	}
	return normalize(r.Name) + "|" + normalize(r.Address)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Apply keeps the first record seen per key, renumbers positions 1..N and
// reports how many records were dropped. The input slice is left as is.
func Apply(records []domain.BusinessRecord) ([]domain.BusinessRecord, int) {
	out := make([]domain.BusinessRecord, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	dropped := 0
	for _, r := range records {
		k := Key(r)
		if k != emptyKey {
			if _, dup := seen[k]; dup {
				dropped++
				continue
			}
			seen[k] = struct{}{}
		}
		r.Position = len(out) + 1
		out = append(out, r)
	}
	return out, dropped
}
