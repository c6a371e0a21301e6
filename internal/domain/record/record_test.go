package record

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/kailas-cloud/vecmigrate/internal/domain"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		vec     []float32
		dim     int
		wantErr error
	}{
		{"valid", []float32{1, 2, 3}, 3, nil},
		{"dim unchecked", []float32{1, 2}, 0, nil},
		{"empty", nil, 3, domain.ErrInvalidVector},
		{"nan", []float32{1, float32(math.NaN()), 3}, 3, domain.ErrInvalidVector},
		{"inf", []float32{float32(math.Inf(1))}, 1, domain.ErrInvalidVector},
		{"short", []float32{1, 2}, 3, domain.ErrVectorDimMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Record{ID: "r1", Vector: tt.vec}.Check(tt.dim)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheck_DimMismatchDetails(t *testing.T) {
	err := Record{ID: "r1", Vector: []float32{1}}.Check(4)
	var dm *domain.DimMismatchError
	if !errors.As(err, &dm) {
		t.Fatalf("expected DimMismatchError, got %v", err)
	}
	if dm.Got != 1 || dm.Want != 4 {
		t.Errorf("got=%d want=%d", dm.Got, dm.Want)
	}
}

func TestModalDimension(t *testing.T) {
	vec := func(n int) Record { return Record{Vector: make([]float32, n)} }
	tests := []struct {
		name string
		recs []Record
		want int
	}{
		{"empty", nil, 0},
		{"no vectors", []Record{{ID: "1"}, {ID: "2"}}, 0},
		{"uniform", []Record{vec(4), vec(4)}, 4},
		{"malformed first", []Record{vec(3), vec(4), vec(4)}, 4},
		{"tie keeps first seen", []Record{vec(2), vec(4)}, 2},
		{"empty vectors ignored", []Record{{ID: "1"}, {ID: "2"}, vec(8)}, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ModalDimension(tt.recs); got != tt.want {
				t.Errorf("ModalDimension() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFormatVector(t *testing.T) {
	got := FormatVector([]float32{0.5, -1, 2.25})
	if got != "[0.5,-1,2.25]" {
		t.Errorf("FormatVector = %q", got)
	}
	if FormatVector(nil) != "[]" {
		t.Errorf("FormatVector(nil) = %q", FormatVector(nil))
	}
}

func TestParseVector(t *testing.T) {
	v, err := ParseVector(" [0.5, -1,2.25] ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []float32{0.5, -1, 2.25}
	if len(v) != len(want) {
		t.Fatalf("len = %d, want %d", len(v), len(want))
	}
	for i := range want {
		if v[i] != want[i] {
			t.Errorf("v[%d] = %v, want %v", i, v[i], want[i])
		}
	}
}

func TestParseVector_RoundTrip(t *testing.T) {
	in := []float32{0.1, 0.2, 0.30000001, -7.125e-5}
	out, err := ParseVector(FormatVector(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("component %d: %v != %v", i, out[i], in[i])
		}
	}
}

func TestParseVector_Invalid(t *testing.T) {
	for _, s := range []string{"", "1,2", "[1,x]", "[1,2"} {
		if _, err := ParseVector(s); !errors.Is(err, domain.ErrInvalidVector) {
			t.Errorf("ParseVector(%q) err = %v", s, err)
		}
	}
}

func TestScopeMatches(t *testing.T) {
	t0 := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	m := Metadata{TeamID: "t1", DatasetID: "A", CreateTime: t0}

	tests := []struct {
		name  string
		scope Scope
		want  bool
	}{
		{"zero", Scope{}, true},
		{"team", Scope{TeamID: "t1"}, true},
		{"other team", Scope{TeamID: "t2"}, false},
		{"dataset", Scope{DatasetID: "A"}, true},
		{"other dataset", Scope{DatasetID: "B"}, false},
		{"after inclusive", Scope{CreatedAfter: t0}, true},
		{"after excludes", Scope{CreatedAfter: t0.Add(time.Second)}, false},
		{"before inclusive", Scope{CreatedBefore: t0}, true},
		{"before excludes", Scope{CreatedBefore: t0.Add(-time.Second)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.scope.Matches(m); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScopeString(t *testing.T) {
	if (Scope{}).String() != "all" {
		t.Errorf("zero scope = %q", Scope{}.String())
	}
	s := Scope{TeamID: "t1", DatasetID: "A"}
	if s.String() != "team=t1,dataset=A" {
		t.Errorf("String = %q", s.String())
	}
}
