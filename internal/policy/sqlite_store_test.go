package policy

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func tempSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "policy.db"), nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreEmpty(t *testing.T) {
	s := tempSQLiteStore(t)
	got, err := s.Load(threeActions)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty table, got %v", got)
	}
	versions, err := s.ListVersions(10)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 0 {
		t.Fatalf("expected no versions, got %d", len(versions))
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s := tempSQLiteStore(t)
	want := QTable{"default": {0.0, 0.1, 0.2}}
	if err := s.Save(threeActions, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(threeActions)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLiteStoreVersionChainAndRollback(t *testing.T) {
	s := tempSQLiteStore(t)

	if err := s.Save(threeActions, QTable{"s": {1, 0, 0}}); err != nil {
		t.Fatalf("Save v1: %v", err)
	}
	if err := s.Save(threeActions, QTable{"s": {2, 0, 0}}); err != nil {
		t.Fatalf("Save v2: %v", err)
	}

	versions, err := s.ListVersions(10)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}
	newest, oldest := versions[0], versions[1]
	if newest.ParentID != oldest.VersionID {
		t.Fatalf("expected parent %s, got %s", oldest.VersionID, newest.ParentID)
	}
	if oldest.ParentID != "" {
		t.Fatalf("expected first version without parent, got %s", oldest.ParentID)
	}
	if !newest.Active || oldest.Active {
		t.Fatal("expected newest version to be active")
	}
	if newest.StateCount != 1 {
		t.Fatalf("expected state count 1, got %d", newest.StateCount)
	}
	if diff := cmp.Diff(threeActions, newest.Actions); diff != "" {
		t.Fatalf("actions mismatch (-want +got):\n%s", diff)
	}

	if err := s.Rollback(oldest.VersionID); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	got, err := s.Load(threeActions)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got["s"][0] != 1 {
		t.Fatalf("expected rolled-back value 1, got %f", got["s"][0])
	}
}

func TestSQLiteStoreRollbackNonExistent(t *testing.T) {
	s := tempSQLiteStore(t)
	if err := s.Rollback("nonexistent-id"); err == nil {
		t.Fatal("expected error for non-existent version")
	}
}

func TestSQLiteStoreBacksPolicy(t *testing.T) {
	s := tempSQLiteStore(t)
	p := newPolicy(t, Params{Alpha: 0.1, Gamma: 0.95, Epsilon: 0}, s, 1)
	if err := p.Update("default", actCheck, 1.0, "waiting"); err != nil {
		t.Fatal(err)
	}

	restarted := newPolicy(t, Params{Alpha: 0.1, Gamma: 0.95, Epsilon: 0}, s, 2)
	if diff := cmp.Diff(p.Snapshot(), restarted.Snapshot()); diff != "" {
		t.Fatalf("restart lost learning (-before +after):\n%s", diff)
	}
}

func TestSQLiteStoreKeepVersionsPrunes(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "policy.db"), nil, WithKeepVersions(3))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	for i := 1; i <= 5; i++ {
		if err := s.Save(threeActions, QTable{"s": {float64(i), 0, 0}}); err != nil {
			t.Fatalf("Save v%d: %v", i, err)
		}
	}

	versions, err := s.ListVersions(100)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("expected 3 versions after pruning, got %d", len(versions))
	}
	if !versions[0].Active {
		t.Fatal("newest version should be active")
	}
	if versions[0].ParentID != versions[1].VersionID || versions[1].ParentID != versions[2].VersionID {
		t.Fatal("surviving versions lost their parent chain")
	}
	if versions[2].ParentID != "" {
		t.Fatalf("oldest survivor should be a root, parent %q", versions[2].ParentID)
	}

	got, err := s.Load(threeActions)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got["s"][0] != 5 {
		t.Fatalf("expected latest value 5, got %f", got["s"][0])
	}

	// a rolled-back version stays reachable until it falls out of the window
	if err := s.Rollback(versions[2].VersionID); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if err := s.Save(threeActions, QTable{"s": {9, 0, 0}}); err != nil {
		t.Fatalf("Save after rollback: %v", err)
	}
	versions, err = s.ListVersions(100)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(versions))
	}
	if !versions[0].Active || versions[0].ParentID != "" {
		t.Fatalf("new version should be active with its pruned parent detached, got %+v", versions[0])
	}
}
