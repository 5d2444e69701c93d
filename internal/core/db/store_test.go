package db

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/solatis/factkeeper/internal/types"
)

func testDB(t *testing.T) *sqlx.DB {
	t.Helper()
	database, err := Open("sqlite://" + filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := MigrateUp(database); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	return database
}

func testStore(t *testing.T) *RuleStore {
	t.Helper()
	database := testDB(t)
	queries, err := LoadQueries(database)
	if err != nil {
		t.Fatalf("LoadQueries() error = %v", err)
	}
	return NewRuleStore(queries)
}

func testDefinition(name string) json.RawMessage {
	return json.RawMessage(`{
		"name": "` + name + `",
		"conditions": {"field": "age", "operator": "numeric_greater_than", "value": 18},
		"event": {"type": "message"}
	}`)
}

func TestOpen_UnsupportedScheme(t *testing.T) {
	if _, err := Open("mysql://localhost/db"); err == nil {
		t.Error("Open(mysql) error = nil, want error")
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	database := testDB(t)

	// A second run must be a no-op, not a re-application.
	if err := MigrateUp(database); err != nil {
		t.Fatalf("second MigrateUp() error = %v", err)
	}

	statuses, err := MigrateStatus(database)
	if err != nil {
		t.Fatalf("MigrateStatus() error = %v", err)
	}
	if len(statuses) == 0 {
		t.Fatal("no migrations found")
	}
	for _, s := range statuses {
		if !s.Applied {
			t.Errorf("migration %s not applied", s.ID)
		}
	}
}

func TestRuleStore_CRUD(t *testing.T) {
	store := testStore(t)
	id := types.NewRuleID()

	if _, err := store.Insert(id, "adult check", testDefinition("adult check")); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := store.Get(id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "adult check" || !got.Enabled {
		t.Errorf("Get() = %+v", got)
	}
	if !json.Valid(got.Definition) {
		t.Error("stored definition is not valid JSON")
	}

	if err := store.Update(id, "adult check v2", testDefinition("adult check v2")); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, err = store.Get(id)
	if err != nil {
		t.Fatalf("Get() after update error = %v", err)
	}
	if got.Name != "adult check v2" {
		t.Errorf("Name after update = %q", got.Name)
	}
	if !got.UpdatedAt.After(got.CreatedAt) && !got.UpdatedAt.Equal(got.CreatedAt) {
		t.Errorf("UpdatedAt %v before CreatedAt %v", got.UpdatedAt, got.CreatedAt)
	}

	if err := store.Delete(id); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(id); !errors.Is(err, types.ErrRuleNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrRuleNotFound", err)
	}
}

func TestRuleStore_ListOrder(t *testing.T) {
	store := testStore(t)

	// UUIDv7 IDs sort by creation time, so List returns insertion order.
	var ids []types.RuleID
	for i := 0; i < 5; i++ {
		id := types.NewRuleID()
		ids = append(ids, id)
		if _, err := store.Insert(id, "rule", testDefinition("rule")); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	rows, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(rows) != len(ids) {
		t.Fatalf("len(rows) = %d, want %d", len(rows), len(ids))
	}
	for i, row := range rows {
		if row.RuleID != string(ids[i]) {
			t.Errorf("rows[%d].RuleID = %s, want %s", i, row.RuleID, ids[i])
		}
	}
}

func TestRuleStore_EnabledFilter(t *testing.T) {
	store := testStore(t)

	active := types.NewRuleID()
	disabled := types.NewRuleID()
	for _, id := range []types.RuleID{active, disabled} {
		if _, err := store.Insert(id, "rule", testDefinition("rule")); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}
	if err := store.SetEnabled(disabled, false); err != nil {
		t.Fatalf("SetEnabled() error = %v", err)
	}

	rows, err := store.ListEnabled()
	if err != nil {
		t.Fatalf("ListEnabled() error = %v", err)
	}
	if len(rows) != 1 || rows[0].RuleID != string(active) {
		t.Errorf("ListEnabled() = %+v, want only %s", rows, active)
	}
}

func TestRuleStore_MissingRule(t *testing.T) {
	store := testStore(t)
	id := types.NewRuleID()

	if err := store.Update(id, "x", testDefinition("x")); !errors.Is(err, types.ErrRuleNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrRuleNotFound", err)
	}
	if err := store.Delete(id); !errors.Is(err, types.ErrRuleNotFound) {
		t.Errorf("Delete(missing) error = %v, want ErrRuleNotFound", err)
	}
	if err := store.SetEnabled(id, false); !errors.Is(err, types.ErrRuleNotFound) {
		t.Errorf("SetEnabled(missing) error = %v, want ErrRuleNotFound", err)
	}
}

func TestRuleStore_RejectsInvalidJSON(t *testing.T) {
	store := testStore(t)
	if _, err := store.Insert(types.NewRuleID(), "x", json.RawMessage(`{broken`)); err == nil {
		t.Error("Insert(broken json) error = nil, want error")
	}
}
