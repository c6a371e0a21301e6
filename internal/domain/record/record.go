package record

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/vecmigrate/internal/domain"
)

// Record is one migratable unit: an id, its embedding and the scalar fields stored next to it.
type Record struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

// Metadata holds the scalar fields carried alongside a vector.
// The pipeline never interprets them; adapters map them onto backend columns.
type Metadata struct {
	TeamID       string    `json:"team_id"`
	DatasetID    string    `json:"dataset_id"`
	CollectionID string    `json:"collection_id"`
	CreateTime   time.Time `json:"create_time"`
}

// Check validates the vector against the expected dimension.
// dim <= 0 skips the length check.
func (r Record) Check(dim int) error {
	if len(r.Vector) == 0 {
		return fmt.Errorf("record %s: empty vector: %w", r.ID, domain.ErrInvalidVector)
	}
	for i, v := range r.Vector {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("record %s: component %d is not finite: %w", r.ID, i, domain.ErrInvalidVector)
		}
	}
	if dim > 0 && len(r.Vector) != dim {
		return fmt.Errorf("record %s: %w", r.ID, domain.NewDimMismatch(len(r.Vector), dim))
	}
	return nil
}

// ModalDimension returns the most common non-zero vector length in recs.
// Ties go to the length seen first. 0 when no record has a vector.
func ModalDimension(recs []Record) int {
	counts := make(map[int]int)
	best, bestN := 0, 0
	for _, r := range recs {
		n := len(r.Vector)
		if n == 0 {
			continue
		}
		counts[n]++
		if counts[n] > bestN {
			best, bestN = n, counts[n]
		}
	}
	return best
}

// FormatVector renders a vector in the `[a,b,c]` text form accepted by pgvector and OceanBase.
func FormatVector(v []float32) string {
	var b strings.Builder
	b.Grow(len(v)*10 + 2)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// ParseVector parses the `[a,b,c]` text form. Whitespace around components is ignored.
func ParseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("parse vector %q: %w", truncate(s, 32), domain.ErrInvalidVector)
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		return []float32{}, nil
	}

	parts := strings.Split(body, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("parse vector component %d: %w", i, domain.ErrInvalidVector)
		}
		out[i] = float32(f)
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
