package store

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/maks-bond/hike-coverage/internal/model"
)

// mockMetrics はテスト用のメトリクスコレクタ。永続化失敗の回数のみを数える。
type mockMetrics struct {
	persistenceFailures int
}

func (m *mockMetrics) RecordHikeRecorded() {}
func (m *mockMetrics) RecordSamples(int) {}
func (m *mockMetrics) RecordDecodeSkipped(int) {}
func (m *mockMetrics) RecordPersistenceFailure() { m.persistenceFailures++ }
func (m *mockMetrics) RecordRemoteOperation(string, string) {}
func (m *mockMetrics) RecordRemoteLatency(string, time.Duration) {}
func (m *mockMetrics) RecordHTTPStatus(int) {}

func newTestStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hikes.json")
	return NewFileStore(path, slog.New(slog.NewJSONHandler(io.Discard, nil)), nil), path
}

func sampleHike(id string, startedAt time.Time) model.Hike {
	h := model.NewHike(id, startedAt)
	h.Points = []model.HikePoint{
		model.NewHikePoint(37.1, -122.2, startedAt.Add(time.Minute)),
		model.NewHikePoint(37.2, -122.3, startedAt.Add(2*time.Minute)),
	}
	return h
}

func TestLoad_MissingFileReturnsEmpty(t *testing.T) {
	s, _ := newTestStore(t)

	if got := s.Load(); len(got) != 0 {
		t.Errorf("Load() returned %d hikes, want 0", len(got))
	}
}

func TestLoad_MalformedFileReturnsEmpty(t *testing.T) {
	s, path := newTestStore(t)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if got := s.Load(); len(got) != 0 {
		t.Errorf("Load() returned %d hikes, want 0", len(got))
	}
}

func TestInsertAtFront_PersistsAndReloads(t *testing.T) {
	s, path := newTestStore(t)
	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	if err := s.InsertAtFront(sampleHike("a", base)); err != nil {
		t.Fatalf("InsertAtFront(a) error: %v", err)
	}
	if err := s.InsertAtFront(sampleHike("b", base.Add(time.Hour))); err != nil {
		t.Fatalf("InsertAtFront(b) error: %v", err)
	}
	if err := s.InsertAtFront(sampleHike("c", base.Add(2*time.Hour))); err != nil {
		t.Fatalf("InsertAtFront(c) error: %v", err)
	}

	reloaded := NewFileStore(path, nil, nil).Load()
	if len(reloaded) != 3 {
		t.Fatalf("reloaded %d hikes, want 3", len(reloaded))
	}
	if reloaded[0].ID != "c" || reloaded[1].ID != "b" || reloaded[2].ID != "a" {
		t.Errorf("order = [%s %s %s], want [c b a]", reloaded[0].ID, reloaded[1].ID, reloaded[2].ID)
	}

	h := reloaded[2]
	if !h.StartedAt.Equal(base) {
		t.Errorf("StartedAt = %v, want %v", h.StartedAt, base)
	}
	if h.SchemaVersion != model.SchemaV2 {
		t.Errorf("SchemaVersion = %q, want v2", h.SchemaVersion)
	}
	if len(h.Points) != 2 || h.Points[1].Latitude != 37.2 || !h.Points[1].CapturedAt.Equal(base.Add(2*time.Minute)) {
		t.Errorf("points = %+v", h.Points)
	}
}

func TestSaveAll_LeavesNoTempFiles(t *testing.T) {
	s, path := newTestStore(t)
	if err := s.InsertAtFront(sampleHike("a", time.Now())); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "hikes.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory entries = %v, want [hikes.json]", names)
	}
}

func TestLoad_LegacyFileIsMigrated(t *testing.T) {
	s, path := newTestStore(t)
	legacy := `[
	  {"id": "C0FFEE00-0000-4000-8000-000000000001", "date": 700000000.5, "notes": "foggy",
	   "coordinates": [{"latitude": 37.1, "longitude": -122.2}, {"latitude": 37.2, "longitude": -122.3}]},
	  {"id": "C0FFEE00-0000-4000-8000-000000000002", "date": 600000000, "notes": "",
	   "coordinates": []}
	]`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	hikes := s.Load()
	if len(hikes) != 2 {
		t.Fatalf("Load() returned %d hikes, want 2", len(hikes))
	}

	first := hikes[0]
	wantDate := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC).Add(700000000*time.Second + 500*time.Millisecond)
	if !first.StartedAt.Equal(wantDate) {
		t.Errorf("StartedAt = %v, want %v", first.StartedAt, wantDate)
	}
	if first.SchemaVersion != model.SchemaV1 {
		t.Errorf("SchemaVersion = %q, want v1", first.SchemaVersion)
	}
	if first.Notes != "foggy" || len(first.Points) != 2 || first.Points[0].CapturedAt != nil {
		t.Errorf("first hike = %+v", first)
	}

	rewritten, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(rewritten, []byte(`"version": "v1"`)) {
		t.Errorf("file was not rewritten with version tags:\n%s", rewritten)
	}
}

func TestLoad_MissingOptionalFieldsDefault(t *testing.T) {
	s, path := newTestStore(t)
	if err := os.WriteFile(path, []byte(`[{"date": "2025-01-02T03:04:05Z"}]`), 0o644); err != nil {
		t.Fatal(err)
	}

	hikes := s.Load()
	if len(hikes) != 1 {
		t.Fatalf("Load() returned %d hikes, want 1", len(hikes))
	}
	h := hikes[0]
	if h.ID == "" {
		t.Error("expected a generated id")
	}
	if h.Notes != "" || len(h.Points) != 0 {
		t.Errorf("hike = %+v", h)
	}
}

func TestUpdateNotes(t *testing.T) {
	s, path := newTestStore(t)
	if err := s.InsertAtFront(sampleHike("a", time.Now())); err != nil {
		t.Fatal(err)
	}

	ok, err := s.UpdateNotes("a", "windy")
	if err != nil || !ok {
		t.Fatalf("UpdateNotes(a) = (%v, %v), want (true, nil)", ok, err)
	}

	reloaded := NewFileStore(path, nil, nil).Load()
	if reloaded[0].Notes != "windy" {
		t.Errorf("Notes = %q, want %q", reloaded[0].Notes, "windy")
	}
}

func TestUnknownID_IsNoOpWithoutWrite(t *testing.T) {
	s, path := newTestStore(t)

	if ok, err := s.UpdateNotes("missing", "x"); ok || err != nil {
		t.Errorf("UpdateNotes(missing) = (%v, %v), want (false, nil)", ok, err)
	}
	if ok, err := s.RemoveByID("missing"); ok || err != nil {
		t.Errorf("RemoveByID(missing) = (%v, %v), want (false, nil)", ok, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected no file to be written, stat err = %v", err)
	}
}

func TestRemoveByID(t *testing.T) {
	s, path := newTestStore(t)
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		if err := s.InsertAtFront(sampleHike(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatal(err)
		}
	}

	ok, err := s.RemoveByID("b")
	if err != nil || !ok {
		t.Fatalf("RemoveByID(b) = (%v, %v), want (true, nil)", ok, err)
	}

	reloaded := NewFileStore(path, nil, nil).Load()
	if len(reloaded) != 2 || reloaded[0].ID != "c" || reloaded[1].ID != "a" {
		t.Errorf("reloaded ids = %v", idsOf(reloaded))
	}
	if _, found := s.Find("b"); found {
		t.Error("Find(b) should report not found after removal")
	}
}

func TestReplace_NormalizesOrder(t *testing.T) {
	s, _ := newTestStore(t)
	base := time.Now()
	if err := s.InsertAtFront(sampleHike("local", base)); err != nil {
		t.Fatal(err)
	}

	remote := model.Collection{sampleHike("old", base.Add(-time.Hour)), sampleHike("new", base.Add(time.Hour))}
	if err := s.Replace(remote); err != nil {
		t.Fatalf("Replace error: %v", err)
	}

	got := s.Hikes()
	if len(got) != 2 || got[0].ID != "new" || got[1].ID != "old" {
		t.Errorf("ids = %v, want [new old]", idsOf(got))
	}
}

func TestSaveFailure_KeepsMemoryAndReportsPersistenceFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	mm := &mockMetrics{}
	s := NewFileStore(filepath.Join(blocker, "hikes.json"), slog.New(slog.NewJSONHandler(io.Discard, nil)), mm)

	err := s.InsertAtFront(sampleHike("a", time.Now()))
	if !errors.Is(err, model.ErrPersistenceFailure) {
		t.Fatalf("error = %v, want PERSISTENCE_FAILURE", err)
	}
	if _, ok := s.Find("a"); !ok {
		t.Error("in-memory collection should keep the hike after a failed save")
	}
	if mm.persistenceFailures != 1 {
		t.Errorf("persistenceFailures = %d, want 1", mm.persistenceFailures)
	}
}

func TestHikes_ReturnsCopy(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.InsertAtFront(sampleHike("a", time.Now())); err != nil {
		t.Fatal(err)
	}

	got := s.Hikes()
	got[0].Notes = "mutated"
	got[0].Points[0].Latitude = 0

	h, _ := s.Find("a")
	if h.Notes != "" || h.Points[0].Latitude != 37.1 {
		t.Errorf("store state was mutated through Hikes(): %+v", h)
	}
}

func TestFileDate_AcceptsBothForms(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{`0`, time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)},
		{`86400`, time.Date(2001, 1, 2, 0, 0, 0, 0, time.UTC)},
		{`"2025-06-07T08:09:10Z"`, time.Date(2025, 6, 7, 8, 9, 10, 0, time.UTC)},
	}
	for _, tt := range tests {
		var d fileDate
		if err := d.UnmarshalJSON([]byte(tt.in)); err != nil {
			t.Errorf("UnmarshalJSON(%s) error: %v", tt.in, err)
			continue
		}
		if !d.Equal(tt.want) {
			t.Errorf("UnmarshalJSON(%s) = %v, want %v", tt.in, d.Time, tt.want)
		}
	}

	var d fileDate
	if err := d.UnmarshalJSON([]byte(`"yesterday"`)); err == nil || !strings.Contains(err.Error(), "invalid date") {
		t.Errorf("expected invalid date error, got %v", err)
	}
}

func idsOf(c model.Collection) []string {
	out := make([]string, len(c))
	for i, h := range c {
		out[i] = h.ID
	}
	return out
}
