package identity

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/maks-bond/hike-coverage/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestLoad_MissingFileIsUnset(t *testing.T) {
	p := Load(filepath.Join(t.TempDir(), "settings.json"), discardLogger())

	if p.IsSet() {
		t.Errorf("IsSet() = true, want false (name %q)", p.Name())
	}
}

func TestSet_PersistsTrimmedName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	p := Load(path, discardLogger())

	if err := p.Set("  Maks  "); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if p.Name() != "Maks" {
		t.Errorf("Name() = %q, want %q", p.Name(), "Maks")
	}

	reloaded := Load(path, discardLogger())
	if reloaded.Name() != "Maks" {
		t.Errorf("reloaded Name() = %q, want %q", reloaded.Name(), "Maks")
	}
}

func TestSet_RejectsEmptyName(t *testing.T) {
	p := Load(filepath.Join(t.TempDir(), "settings.json"), discardLogger())

	err := p.Set("   ")
	if !errors.Is(err, model.ErrInvalidRequest) {
		t.Fatalf("Set(blank) error = %v, want INVALID_REQUEST", err)
	}
	if p.IsSet() {
		t.Error("identity should remain unset")
	}
}

func TestSet_OnlyOnce(t *testing.T) {
	p := Load(filepath.Join(t.TempDir(), "settings.json"), discardLogger())
	if err := p.Set("first"); err != nil {
		t.Fatal(err)
	}

	err := p.Set("second")
	if !errors.Is(err, model.ErrIdentityAlreadySet) {
		t.Fatalf("second Set error = %v, want IDENTITY_ALREADY_SET", err)
	}
	if p.Name() != "first" {
		t.Errorf("Name() = %q, want %q", p.Name(), "first")
	}
}

func TestLoad_MalformedFileIsUnset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if p := Load(path, discardLogger()); p.IsSet() {
		t.Errorf("IsSet() = true, want false")
	}
}

func TestStatic(t *testing.T) {
	p := Static(" trail-runner ")
	if p.Name() != "trail-runner" {
		t.Errorf("Name() = %q", p.Name())
	}
	if Static("").IsSet() {
		t.Error("Static(\"\") should be unset")
	}
}
