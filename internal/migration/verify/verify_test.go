package verify

import (
	"context"
	"testing"

	"github.com/hyperengineering/migrant/internal/engine"
	"github.com/hyperengineering/migrant/internal/engine/memdb"
)

type account struct {
	ID      string `json:"id"`
	Balance int    `json:"balance"`
}

var idField = engine.NewPath[account]("id")

func idOf(a account) (string, error) { return a.ID, nil }

func newTable(t *testing.T) engine.Table[account] {
	t.Helper()
	db := memdb.New[account]()
	tbl, err := db.Table(context.Background(), "accounts")
	if err != nil {
		t.Fatalf("Table() error = %v", err)
	}
	return tbl
}

func TestVerify_AllMatch(t *testing.T) {
	source := newTable(t)
	target := newTable(t)
	ctx := context.Background()

	rows := []account{{ID: "1", Balance: 10}, {ID: "2", Balance: 20}}
	if _, err := source.Insert(ctx, rows); err != nil {
		t.Fatalf("source Insert() error = %v", err)
	}
	if _, err := target.Insert(ctx, rows); err != nil {
		t.Fatalf("target Insert() error = %v", err)
	}

	v := New(source, target, Config[account]{IDField: idField}, idOf)
	res, err := v.Verify(ctx)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if res.SampledCount != 2 || res.MatchCount != 2 || res.MissingCount != 0 || res.DifferentCount != 0 {
		t.Fatalf("Verify() = %+v, want all 2 matching", res)
	}
	if res.MatchPercent != 100 {
		t.Errorf("MatchPercent = %v, want 100", res.MatchPercent)
	}
	if len(res.Diffs) != 0 {
		t.Errorf("Diffs = %v, want none", res.Diffs)
	}
}

func TestVerify_MissingInTarget(t *testing.T) {
	source := newTable(t)
	target := newTable(t)
	ctx := context.Background()

	if _, err := source.Insert(ctx, []account{{ID: "1", Balance: 10}, {ID: "2", Balance: 20}}); err != nil {
		t.Fatalf("source Insert() error = %v", err)
	}
	if _, err := target.Insert(ctx, []account{{ID: "1", Balance: 10}}); err != nil {
		t.Fatalf("target Insert() error = %v", err)
	}

	v := New(source, target, Config[account]{IDField: idField}, idOf)
	res, err := v.Verify(ctx)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if res.MissingCount != 1 {
		t.Fatalf("MissingCount = %d, want 1", res.MissingCount)
	}
	if len(res.Diffs) != 1 || res.Diffs[0].Reason != "missing_in_target" || res.Diffs[0].Key != "2" {
		t.Fatalf("Diffs = %+v, want one missing_in_target for key 2", res.Diffs)
	}
	if res.MatchPercent != 50 {
		t.Errorf("MatchPercent = %v, want 50", res.MatchPercent)
	}
}

func TestVerify_DifferentRecord(t *testing.T) {
	source := newTable(t)
	target := newTable(t)
	ctx := context.Background()

	if _, err := source.Insert(ctx, []account{{ID: "1", Balance: 10}}); err != nil {
		t.Fatalf("source Insert() error = %v", err)
	}
	if _, err := target.Insert(ctx, []account{{ID: "1", Balance: 999}}); err != nil {
		t.Fatalf("target Insert() error = %v", err)
	}

	v := New(source, target, Config[account]{IDField: idField}, idOf)
	res, err := v.Verify(ctx)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if res.DifferentCount != 1 {
		t.Fatalf("DifferentCount = %d, want 1", res.DifferentCount)
	}
	if len(res.Diffs) != 1 || res.Diffs[0].Reason != "different" {
		t.Fatalf("Diffs = %+v, want one different", res.Diffs)
	}
}

func TestVerify_SampleSizeTruncates(t *testing.T) {
	source := newTable(t)
	target := newTable(t)
	ctx := context.Background()

	rows := []account{{ID: "1"}, {ID: "2"}, {ID: "3"}}
	if _, err := source.Insert(ctx, rows); err != nil {
		t.Fatalf("source Insert() error = %v", err)
	}
	if _, err := target.Insert(ctx, rows); err != nil {
		t.Fatalf("target Insert() error = %v", err)
	}

	v := New(source, target, Config[account]{IDField: idField, SampleSize: 2}, idOf)
	res, err := v.Verify(ctx)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if res.SampledCount != 2 {
		t.Fatalf("SampledCount = %d, want 2", res.SampledCount)
	}
}

func TestVerify_MaxDiffsCaps(t *testing.T) {
	source := newTable(t)
	target := newTable(t)
	ctx := context.Background()

	var rows []account
	for i := 0; i < 5; i++ {
		rows = append(rows, account{ID: string(rune('a' + i)), Balance: i})
	}
	if _, err := source.Insert(ctx, rows); err != nil {
		t.Fatalf("source Insert() error = %v", err)
	}
	// target left empty: every row is missing.

	v := New(source, target, Config[account]{IDField: idField, MaxDiffs: 2}, idOf)
	res, err := v.Verify(ctx)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if res.MissingCount != 5 {
		t.Fatalf("MissingCount = %d, want 5", res.MissingCount)
	}
	if len(res.Diffs) != 2 {
		t.Fatalf("len(Diffs) = %d, want capped at 2", len(res.Diffs))
	}
}

func TestVerify_CountMismatchIsNeverInSync(t *testing.T) {
	source := newTable(t)
	target := newTable(t)
	ctx := context.Background()

	if _, err := source.Insert(ctx, []account{{ID: "1"}, {ID: "2"}}); err != nil {
		t.Fatalf("source Insert() error = %v", err)
	}
	if _, err := target.Insert(ctx, []account{{ID: "1"}}); err != nil {
		t.Fatalf("target Insert() error = %v", err)
	}

	v := New(source, target, Config[account]{IDField: idField}, idOf)
	res, err := v.Verify(ctx)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if res.SourceCount != 2 || res.TargetCount != 1 {
		t.Fatalf("counts = (%d, %d), want (2, 1)", res.SourceCount, res.TargetCount)
	}
	if res.CountMatches {
		t.Error("CountMatches = true, want false")
	}
	if res.InSync() {
		t.Error("InSync() = true, want false on count mismatch")
	}
}

func TestVerify_CountMatchesButRecordsDifferStillOutOfSync(t *testing.T) {
	source := newTable(t)
	target := newTable(t)
	ctx := context.Background()

	if _, err := source.Insert(ctx, []account{{ID: "1"}, {ID: "2"}}); err != nil {
		t.Fatalf("source Insert() error = %v", err)
	}
	if _, err := target.Insert(ctx, []account{{ID: "1"}, {ID: "3"}}); err != nil {
		t.Fatalf("target Insert() error = %v", err)
	}

	v := New(source, target, Config[account]{IDField: idField}, idOf)
	res, err := v.Verify(ctx)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !res.CountMatches {
		t.Error("CountMatches = false, want true (both tables have 2 rows)")
	}
	if res.MissingCount != 1 {
		t.Fatalf("MissingCount = %d, want 1", res.MissingCount)
	}
	if res.InSync() {
		t.Error("InSync() = true, want false when a sampled row is missing")
	}
}

func TestVerify_FullyInSync(t *testing.T) {
	source := newTable(t)
	target := newTable(t)
	ctx := context.Background()

	rows := []account{{ID: "1", Balance: 5}, {ID: "2", Balance: 9}}
	if _, err := source.Insert(ctx, rows); err != nil {
		t.Fatalf("source Insert() error = %v", err)
	}
	if _, err := target.Insert(ctx, rows); err != nil {
		t.Fatalf("target Insert() error = %v", err)
	}

	v := New(source, target, Config[account]{IDField: idField}, idOf)
	res, err := v.Verify(ctx)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !res.InSync() {
		t.Fatalf("InSync() = false, want true: %+v", res)
	}
}

func TestVerify_EmptySourceReports100Percent(t *testing.T) {
	source := newTable(t)
	target := newTable(t)

	v := New(source, target, Config[account]{IDField: idField}, idOf)
	res, err := v.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if res.MatchPercent != 100 {
		t.Errorf("MatchPercent = %v, want 100 for an empty source", res.MatchPercent)
	}
}
