package queue

import (
	"fmt"
	"os"
	"path/filepath"

	"ltlive/internal/domain"

	"gopkg.in/yaml.v3"
)

// Load reads a snapshot file. The returned error wraps os.ErrNotExist when
// the file is missing.
func Load(path string) ([]domain.Presentation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}

	var list []domain.Presentation
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	for i, p := range list {
		if p.Presenter.Name == "" {
			return nil, fmt.Errorf("parse snapshot %s: entry %d has no presenter name", path, i)
		}
	}
	return list, nil
}

// Save overwrites the snapshot at path with list. The write goes through a
// temp file in the same directory so readers never see a partial file.
func Save(path string, list []domain.Presentation) error {
	if list == nil {
		list = []domain.Presentation{}
	}
	data, err := yaml.Marshal(list)
	if err != nil {
		return fmt.Errorf("serialize snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
