package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// toTree renders cfg as the generic JSON tree the path helpers walk.
func toTree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetByPath retrieves a config value by dot-notation path (e.g. "overlay.port").
// Numeric segments index into lists ("twitter.hashtags.0").
func GetByPath(cfg *Config, path string) (any, error) {
	tree, err := toTree(cfg)
	if err != nil {
		return nil, err
	}

	var current any = tree
	for _, key := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("key not found: %s", path)
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("invalid list index %q in %s", key, path)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("cannot traverse into %T at %s", current, key)
		}
	}
	return current, nil
}

// SetByPath sets a config value by dot-notation path. Unknown keys are
// rejected. Comma separated values set list fields ("twitter.hashtags #a,#b").
func SetByPath(cfg *Config, path string, value any) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	tree, err := toTree(cfg)
	if err != nil {
		return err
	}

	parts := strings.Split(path, ".")
	parent := tree
	for _, key := range parts[:len(parts)-1] {
		child, ok := parent[key].(map[string]any)
		if !ok {
			return fmt.Errorf("key not found: %s", path)
		}
		parent = child
	}

	// Empty omitempty fields are absent from the tree. Their type is only
	// known to the struct, so a converted value falls back to the raw one.
	last := parts[len(parts)-1]
	old, present := parent[last]
	candidates := []any{parseValue(value), value}
	switch old.(type) {
	case string:
		candidates = []any{value}
	case []any:
		candidates = []any{parseList(value)}
	case nil:
		if present {
			candidates = []any{parseList(value)}
		}
	}

	var lastErr error
	for _, v := range candidates {
		parent[last] = v
		updated, err := decodeStrict(tree)
		if err == nil {
			*cfg = *updated
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("set %s: %w", path, lastErr)
}

func decodeStrict(tree map[string]any) (*Config, error) {
	data, err := json.Marshal(tree)
	if err != nil {
		return nil, err
	}
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// parseValue converts CLI strings to bools and numbers where they parse.
func parseValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return b
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func parseList(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	items := []any{}
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// Sanitize returns a copy of the config with secrets masked. Values that are
// still ${VAR} references are left readable.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var copy Config
	if err := json.Unmarshal(data, &copy); err != nil {
		return cfg
	}

	for _, secret := range []*string{
		&copy.Discord.Token,
		&copy.Twitter.BearerToken,
		&copy.YouTube.APIKey,
		&copy.Announce.Twitter.ClientSecret,
		&copy.Announce.Twitter.AccessToken,
		&copy.Announce.Twitter.RefreshToken,
		&copy.Announce.Telegram.Token,
		&copy.Announce.Slack.BotToken,
		&copy.OBS.Password,
	} {
		if *secret != "" && !unresolved(*secret) {
			*secret = maskString(*secret)
		}
	}

	return &copy
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every leaf path with its current value.
func ListPaths(cfg *Config) map[string]any {
	tree, err := toTree(cfg)
	if err != nil {
		return nil
	}
	result := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(path, child)
				continue
			}
			result[path] = v
		}
	}
	walk("", tree)
	return result
}
