// Package validate checks how much of a migration actually landed on the target.
package validate

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/vecmigrate/internal/db"
	"github.com/kailas-cloud/vecmigrate/internal/domain/migration"
	"github.com/kailas-cloud/vecmigrate/internal/domain/record"
)

// Source is what the validator reads from the source side.
type Source interface {
	db.Counter
	db.Iterator
}

// Validator compares in-scope counts and, optionally, a sample of record contents.
type Validator struct {
	sampleSize int
}

// New creates a validator. sampleSize 0 disables the content check.
func New(sampleSize int) *Validator {
	return &Validator{sampleSize: max(sampleSize, 0)}
}

// Validate counts both sides concurrently. lookup maps a source id to the id the
// target stored it under. Problems are returned as validation errors; they never abort.
func (v *Validator) Validate(
	ctx context.Context, src Source, dst db.Counter, scope record.Scope, lookup func(string) string,
) (migration.Validation, []migration.Error) {
	var res migration.Validation
	var errs []migration.Error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := src.Count(gctx, scope)
		if err != nil {
			return fmt.Errorf("count source: %w", err)
		}
		res.CountMatch.Source = n
		return nil
	})
	g.Go(func() error {
		n, err := dst.Count(gctx, scope)
		if err != nil {
			return fmt.Errorf("count target: %w", err)
		}
		res.CountMatch.Target = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return res, append(errs, migration.NewError(migration.ErrorValidation, "", err))
	}

	res.Passed = res.CountMatch.Source == res.CountMatch.Target
	if !res.Passed {
		errs = append(errs, migration.NewError(migration.ErrorValidation, "",
			fmt.Errorf("count mismatch: source %d, target %d", res.CountMatch.Source, res.CountMatch.Target)))
	}

	fetcher, ok := dst.(db.Fetcher)
	if v.sampleSize == 0 || !ok {
		return res, errs
	}
	sample, sampleErrs := v.sample(ctx, src, fetcher, scope, lookup)
	res.Sample = &sample
	errs = append(errs, sampleErrs...)
	if sample.Mismatched > 0 || sample.Missing > 0 || len(sampleErrs) > 0 {
		res.Passed = false
	}
	return res, errs
}

// sample compares the first sampleSize in-scope source records with their target copies.
func (v *Validator) sample(
	ctx context.Context, src Source, dst db.Fetcher, scope record.Scope, lookup func(string) string,
) (migration.Sample, []migration.Error) {
	var s migration.Sample

	recs, err := src.Iterate(scope, v.sampleSize, "").Next(ctx)
	if err != nil && !errors.Is(err, io.EOF) {
		return s, []migration.Error{migration.NewError(migration.ErrorValidation, "", fmt.Errorf("sample source: %w", err))}
	}
	if len(recs) == 0 {
		return s, nil
	}

	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = lookup(r.ID)
	}
	got, err := dst.Fetch(ctx, ids)
	if err != nil {
		return s, []migration.Error{migration.NewError(migration.ErrorValidation, "", fmt.Errorf("sample target: %w", err))}
	}
	byID := make(map[string]record.Record, len(got))
	for _, r := range got {
		byID[r.ID] = r
	}

	var errs []migration.Error
	for i, r := range recs {
		s.Checked++
		t, ok := byID[ids[i]]
		if !ok {
			s.Missing++
			errs = append(errs, migration.NewError(migration.ErrorValidation, r.ID,
				fmt.Errorf("missing on target as %s", ids[i])))
			continue
		}
		if Digest(r) != Digest(t) {
			s.Mismatched++
			errs = append(errs, migration.NewError(migration.ErrorValidation, r.ID,
				fmt.Errorf("content differs on target %s", ids[i])))
		}
	}
	return s, errs
}

// Digest hashes the vector bit patterns and the tenant fields. Ids and timestamps are excluded.
func Digest(r record.Record) uint64 {
	h := xxhash.New()
	var buf [4]byte
	for _, f := range r.Vector {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(f))
		_, _ = h.Write(buf[:])
	}
	for _, s := range []string{r.Metadata.TeamID, r.Metadata.DatasetID, r.Metadata.CollectionID} {
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(s)
	}
	return h.Sum64()
}
