package memdb

import (
	"context"
	"testing"

	"github.com/hyperengineering/migrant/internal/engine"
)

type user struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Age  int    `json:"age"`
}

var idPath = engine.NewPath[user]("id")

func mustTable(t *testing.T, db *Database[user]) engine.Table[user] {
	t.Helper()
	tbl, err := db.Table(context.Background(), "users")
	if err != nil {
		t.Fatalf("Table() error = %v", err)
	}
	return tbl
}

func TestInsertAndFind(t *testing.T) {
	db := New[user]()
	tbl := mustTable(t, db)
	ctx := context.Background()

	if _, err := tbl.Insert(ctx, []user{{ID: "1", Name: "ada", Age: 30}, {ID: "2", Name: "bob", Age: 25}}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := tbl.Find(ctx, engine.Always(), nil, 0)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Find() returned %d rows, want 2", len(got))
	}

	got, err = tbl.Find(ctx, engine.Equal(idPath, "1"), nil, 0)
	if err != nil {
		t.Fatalf("Find(eq) error = %v", err)
	}
	if len(got) != 1 || got[0].Name != "ada" {
		t.Fatalf("Find(eq) = %+v, want [ada]", got)
	}
}

func TestUpsertOneInsertsWhenMissing(t *testing.T) {
	db := New[user]()
	tbl := mustTable(t, db)
	ctx := context.Background()

	u := user{ID: "1", Name: "ada", Age: 30}
	rep, err := tbl.UpsertOne(ctx, engine.Equal(idPath, "1"), engine.Assign(u), u)
	if err != nil {
		t.Fatalf("UpsertOne() error = %v", err)
	}
	if rep.Before != nil {
		t.Errorf("UpsertOne() Before = %+v, want nil on first insert", rep.Before)
	}
	if rep.After == nil || rep.After.Name != "ada" {
		t.Errorf("UpsertOne() After = %+v, want ada", rep.After)
	}

	count, err := tbl.Count(ctx, engine.Always())
	if err != nil || count != 1 {
		t.Fatalf("Count() = (%d, %v), want (1, nil)", count, err)
	}
}

func TestUpsertOneReplacesWhenPresent(t *testing.T) {
	db := New[user]()
	tbl := mustTable(t, db)
	ctx := context.Background()

	orig := user{ID: "1", Name: "ada", Age: 30}
	if _, err := tbl.Insert(ctx, []user{orig}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	updated := user{ID: "1", Name: "ada lovelace", Age: 31}
	rep, err := tbl.UpsertOne(ctx, engine.Equal(idPath, "1"), engine.Assign(updated), updated)
	if err != nil {
		t.Fatalf("UpsertOne() error = %v", err)
	}
	if rep.Before == nil || rep.Before.Name != "ada" {
		t.Errorf("UpsertOne() Before = %+v, want ada", rep.Before)
	}
	if rep.After == nil || rep.After.Name != "ada lovelace" {
		t.Errorf("UpsertOne() After = %+v, want ada lovelace", rep.After)
	}
}

func TestDeleteOne(t *testing.T) {
	db := New[user]()
	tbl := mustTable(t, db)
	ctx := context.Background()

	if _, err := tbl.Insert(ctx, []user{{ID: "1", Name: "ada"}, {ID: "2", Name: "bob"}}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	old, err := tbl.DeleteOne(ctx, engine.Equal(idPath, "1"), nil)
	if err != nil {
		t.Fatalf("DeleteOne() error = %v", err)
	}
	if old == nil || old.Name != "ada" {
		t.Fatalf("DeleteOne() = %+v, want ada", old)
	}

	count, _ := tbl.Count(ctx, engine.Always())
	if count != 1 {
		t.Fatalf("Count() after delete = %d, want 1", count)
	}
}

func TestGreaterThanPagesAscending(t *testing.T) {
	db := New[user]()
	tbl := mustTable(t, db)
	ctx := context.Background()

	if _, err := tbl.Insert(ctx, []user{{ID: "1"}, {ID: "2"}, {ID: "3"}}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := tbl.Find(ctx, engine.GreaterThan(idPath, "1"), []engine.SortPart{engine.Sort(idPath, engine.Ascending)}, 0)
	if err != nil {
		t.Fatalf("Find(gt) error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "2" || got[1].ID != "3" {
		t.Fatalf("Find(gt) = %+v, want [2, 3]", got)
	}
}

func TestFindSimilarUnsupported(t *testing.T) {
	db := New[user]()
	tbl := mustTable(t, db)

	if _, err := tbl.FindSimilar(context.Background(), []float32{1, 2, 3}, "embedding", 5); err != engine.ErrUnsupported {
		t.Errorf("FindSimilar() error = %v, want ErrUnsupported", err)
	}
}

func TestHealthCheck(t *testing.T) {
	db := New[user]()
	h, err := db.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	if h.Level != engine.HealthOK {
		t.Errorf("HealthCheck() level = %v, want OK", h.Level)
	}

	db.SetHealth(engine.Health{Level: engine.HealthError, Message: "down"})
	h, _ = db.HealthCheck(context.Background())
	if h.Level != engine.HealthError {
		t.Errorf("HealthCheck() after SetHealth = %v, want Error", h.Level)
	}
}
