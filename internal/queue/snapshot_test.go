package queue

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ltlive/internal/domain"
)

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.yaml")
	ident := "alice_w"
	want := []domain.Presentation{
		{Presenter: domain.DisplayUser{Identifier: &ident, Name: "Alice"}, Title: "Widgets"},
		{Presenter: domain.DisplayUser{Name: "ボブ"}, Title: "受胎宣告について"},
	}

	if err := Save(path, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].Title != want[i].Title || got[i].Presenter.Name != want[i].Presenter.Name {
			t.Errorf("entry %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
	if got[0].Presenter.Identifier == nil || *got[0].Presenter.Identifier != ident {
		t.Errorf("identifier lost in round trip")
	}
	if got[1].Presenter.Icon != nil {
		t.Errorf("expected nil icon, got %v", *got[1].Presenter.Icon)
	}
}

func TestSave_UsesSnapshotFieldNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.yaml")
	Save(path, []domain.Presentation{{Presenter: domain.DisplayUser{Name: "Alice"}, Title: "T"}})

	data, _ := os.ReadFile(path)
	for _, key := range []string{"presenter:", "icon:", "identifier:", "name: Alice", "title: T"} {
		if !strings.Contains(string(data), key) {
			t.Errorf("snapshot missing %q:\n%s", key, data)
		}
	}
}

func TestSave_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snap.yaml")
	Save(path, nil)
	Save(path, []domain.Presentation{{Presenter: domain.DisplayUser{Name: "a"}, Title: "b"}})

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected only the snapshot file, got %d entries", len(entries))
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}
