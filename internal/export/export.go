// Package export writes run results to JSON and CSV files.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/user/maps-harvester/internal/domain"
)

const maxNamePart = 30

var unsafeChars = regexp.MustCompile(`[^a-z0-9]`)

// Artifact references one written file.
type Artifact struct {
	Format   string `json:"format"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
}

// Writer writes export files into a directory.
type Writer struct {
	dir string
	now func() time.Time
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir, now: time.Now}
}

type document struct {
	Metadata metadata                `json:"metadata"`
	Stats    domain.RunStats         `json:"stats"`
	Records  []domain.BusinessRecord `json:"businesses"`
}

type metadata struct {
	RunID        string             `json:"runId"`
	Query        domain.SearchQuery `json:"query"`
	Outcome      domain.Outcome     `json:"outcome"`
	TotalResults int                `json:"totalResults"`
	ExportedAt   time.Time          `json:"exportedAt"`
}

// Write stores res as a JSON document and a CSV sheet sharing one base name.
func (w *Writer) Write(res *domain.RunResult) ([]Artifact, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}
	now := w.now()
	base := BaseName(res.Query, now)

	js, err := w.writeJSON(base+".json", res, now)
	if err != nil {
		return nil, err
	}
	cs, err := w.writeCSV(base+".csv", res.Records)
	if err != nil {
		return []Artifact{js}, err
	}
	return []Artifact{js, cs}, nil
}

// BaseName is <type>_<place>_<timestamp>, where place is the city and
// country or the coordinates of the query.
func BaseName(q domain.SearchQuery, at time.Time) string {
	parts := []string{sanitize(q.BusinessType)}
	if q.IsCoordMode() {
		parts = append(parts, sanitize(fmt.Sprintf("%.4f_%.4f", q.Coordinates.Lat, q.Coordinates.Lng)))
	} else {
		parts = append(parts, sanitize(q.City))
		if q.Country != "" {
			parts = append(parts, sanitize(q.Country))
		}
	}
	parts = append(parts, at.UTC().Format("2006-01-02T15-04-05"))
	return strings.Join(parts, "_")
}

func sanitize(s string) string {
	s = unsafeChars.ReplaceAllString(strings.ToLower(s), "_")
	if len(s) > maxNamePart {
		s = s[:maxNamePart]
	}
	return s
}

func (w *Writer) writeJSON(name string, res *domain.RunResult, now time.Time) (Artifact, error) {
	doc := document{
		Metadata: metadata{
			RunID:        res.RunID,
			Query:        res.Query,
			Outcome:      res.Outcome,
			TotalResults: len(res.Records),
			ExportedAt:   now,
		},
		Stats:   res.Stats,
		Records: res.Records,
	}
	if doc.Records == nil {
		doc.Records = []domain.BusinessRecord{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Artifact{}, fmt.Errorf("encoding json export: %w", err)
	}
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Artifact{}, fmt.Errorf("writing json export: %w", err)
	}
	return Artifact{Format: "json", Filename: name, Path: path, Size: int64(len(data))}, nil
}

var csvHeader = []string{
	"position", "name", "rating", "reviewCount", "category", "priceLevel", "address",
	"phone", "email", "website", "instagram", "facebook", "whatsapp", "hours",
	"latitude", "longitude", "plusCode", "profileUrl", "scrapedAt",
}

func (w *Writer) writeCSV(name string, records []domain.BusinessRecord) (Artifact, error) {
	path := filepath.Join(w.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("creating csv export: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(csvHeader); err != nil {
		return Artifact{}, err
	}
	for i := range records {
		if err := cw.Write(csvRow(&records[i])); err != nil {
			return Artifact{}, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return Artifact{}, fmt.Errorf("writing csv export: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{Format: "csv", Filename: name, Path: path, Size: info.Size()}, nil
}

func csvRow(r *domain.BusinessRecord) []string {
	var rating, reviews, lat, lng string
	if r.Rating != nil {
		rating = strconv.FormatFloat(*r.Rating, 'f', 1, 64)
	}
	if r.ReviewCount != nil {
		reviews = strconv.Itoa(*r.ReviewCount)
	}
	if r.Coordinates != nil {
		lat = strconv.FormatFloat(r.Coordinates.Lat, 'f', 6, 64)
		lng = strconv.FormatFloat(r.Coordinates.Lng, 'f', 6, 64)
	}
	social := r.Social()
	return []string{
		strconv.Itoa(r.Position), r.Name, rating, reviews, r.Category, r.PriceLevel, r.Address,
		r.Phone, r.Email(), r.Website, social.Instagram, social.Facebook, social.WhatsApp, r.Hours,
		lat, lng, r.PlusCode, r.ProfileURL, r.ScrapedAt.UTC().Format(time.RFC3339),
	}
}
