package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// UpdateTwitterTokens stores rotated announce.twitter tokens in the config
// file at path. The file is edited as raw JSON so other ${VAR} references
// stay unexpanded. Token fields that are themselves ${VAR} references are
// not overwritten; their keys are returned in skipped.
func UpdateTwitterTokens(path, accessToken, refreshToken string) (skipped []string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	twitter := child(child(raw, "announce"), "twitter")
	for _, kv := range []struct{ key, value string }{
		{"accessToken", accessToken},
		{"refreshToken", refreshToken},
	} {
		if old, ok := twitter[kv.key].(string); ok && unresolved(old) {
			skipped = append(skipped, "announce.twitter."+kv.key)
			continue
		}
		twitter[kv.key] = kv.value
	}
	if len(skipped) == 2 {
		return skipped, nil
	}

	out, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return skipped, err
	}
	return skipped, writeAtomic(path, out, 0o600)
}

// child returns m[key] as an object, creating it when missing.
func child(m map[string]any, key string) map[string]any {
	if c, ok := m[key].(map[string]any); ok {
		return c
	}
	c := map[string]any{}
	m[key] = c
	return c
}

func writeAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
