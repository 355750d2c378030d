// Package verify implements sampling-based sync verification between a
// source and target table.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/hyperengineering/migrant/internal/engine"
)

// Diff records one row that failed to match between source and target.
type Diff struct {
	Key    string
	Reason string // "missing_in_target" or "different"
}

// Result summarizes a verification pass.
type Result struct {
	SourceCount    int
	TargetCount    int
	CountMatches   bool
	SampledCount   int
	MatchCount     int
	MissingCount   int
	DifferentCount int
	MatchPercent   float64
	Diffs          []Diff
}

// InSync reports whether this result clears the bar for cutover:
// counts agree and the sample found nothing missing or different. A
// clean sample on a table whose counts already diverge is NOT in
// sync — the sample can't see rows it never drew.
func (r Result) InSync() bool {
	return r.CountMatches && r.MissingCount == 0 && r.DifferentCount == 0
}

// Config tunes the sample taken from the source table.
type Config[M any] struct {
	IDField    engine.Path[M]
	SampleSize int // 0 means verify every row returned by Find
	MaxDiffs   int // cap on recorded diffs, 0 means the default of 100
}

func (c Config[M]) withDefaults() Config[M] {
	if c.MaxDiffs <= 0 {
		c.MaxDiffs = 100
	}
	return c
}

// Verifier compares a source and target table for drift.
type Verifier[M any] struct {
	source engine.Table[M]
	target engine.Table[M]
	cfg    Config[M]
	idOf   func(M) (string, error)
}

// New builds a Verifier. idOf extracts a stable string key from a
// record, used to look up its counterpart in the other engine and to
// label diffs.
func New[M any](source, target engine.Table[M], cfg Config[M], idOf func(M) (string, error)) *Verifier[M] {
	return &Verifier[M]{source: source, target: target, cfg: cfg.withDefaults(), idOf: idOf}
}

// Verify samples rows from source (or, when SampleSize is set, a
// prefix of them ordered by IDField) and compares each against its
// target counterpart via a direct key lookup. Comparison is structural
// over each row's JSON encoding, so it catches field-level drift, not
// just presence/absence.
func (v *Verifier[M]) Verify(ctx context.Context) (Result, error) {
	sourceCount, err := v.source.Count(ctx, engine.Always())
	if err != nil {
		return Result{}, fmt.Errorf("verify: source count: %w", err)
	}
	targetCount, err := v.target.Count(ctx, engine.Always())
	if err != nil {
		return Result{}, fmt.Errorf("verify: target count: %w", err)
	}

	orderBy := []engine.SortPart{engine.Sort[M](v.cfg.IDField, engine.Ascending)}
	rows, err := v.source.Find(ctx, engine.Always(), orderBy, 0)
	if err != nil {
		return Result{}, fmt.Errorf("verify: source scan: %w", err)
	}
	if v.cfg.SampleSize > 0 && len(rows) > v.cfg.SampleSize {
		rows = rows[:v.cfg.SampleSize]
	}

	res := Result{
		SourceCount:  sourceCount,
		TargetCount:  targetCount,
		CountMatches: sourceCount == targetCount,
		SampledCount: len(rows),
	}
	for _, row := range rows {
		key, err := v.idOf(row)
		if err != nil {
			return Result{}, fmt.Errorf("verify: extract key: %w", err)
		}

		targetRows, err := v.target.Find(ctx, engine.Equal[M](v.cfg.IDField, key), nil, 0)
		if err != nil {
			return Result{}, fmt.Errorf("verify: target lookup for %q: %w", key, err)
		}
		if len(targetRows) == 0 {
			res.MissingCount++
			v.addDiff(&res, key, "missing_in_target")
			continue
		}

		same, err := structurallyEqual(row, targetRows[0])
		if err != nil {
			return Result{}, fmt.Errorf("verify: compare %q: %w", key, err)
		}
		if !same {
			res.DifferentCount++
			v.addDiff(&res, key, "different")
			continue
		}
		res.MatchCount++
	}

	if res.SampledCount > 0 {
		res.MatchPercent = 100 * float64(res.MatchCount) / float64(res.SampledCount)
	} else {
		res.MatchPercent = 100
	}
	return res, nil
}

func (v *Verifier[M]) addDiff(res *Result, key, reason string) {
	if len(res.Diffs) >= v.cfg.MaxDiffs {
		return
	}
	res.Diffs = append(res.Diffs, Diff{Key: key, Reason: reason})
}

// structurallyEqual compares two records by canonicalized JSON, so
// field order and map iteration order never produce false mismatches.
func structurallyEqual[M any](a, b M) (bool, error) {
	ca, err := canonicalJSON(a)
	if err != nil {
		return false, err
	}
	cb, err := canonicalJSON(b)
	if err != nil {
		return false, err
	}
	return ca == cb, nil
}

func canonicalJSON[M any](m M) (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		// Non-object records (scalars, arrays): the raw encoding is
		// already canonical.
		return string(raw), nil
	}
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]byte, 0, len(raw))
	ordered = append(ordered, '{')
	for i, k := range keys {
		if i > 0 {
			ordered = append(ordered, ',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(doc[k])
		ordered = append(ordered, kb...)
		ordered = append(ordered, ':')
		ordered = append(ordered, vb...)
	}
	ordered = append(ordered, '}')
	return string(ordered), nil
}
