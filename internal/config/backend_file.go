package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// fileBackend keeps config keys in a JSON file grouped by section, so
// "provider.depth" is stored as {"provider": {"depth": 30}}. Flat dotted
// keys at the top level are accepted on read and rewritten as sections on
// the next save.
type fileBackend struct {
	path   string
	values map[string]json.RawMessage
}

func newPlatformBackend() ConfigBackend {
	return newFileBackend(configFilePath())
}

func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, values: make(map[string]json.RawMessage)}
	if err := b.load(); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] config file %s: %v. Using default values.\n", path, err)
	}
	return b
}

// configFilePath honours RANKWATCH_CONFIG before the XDG location.
func configFilePath() string {
	if p := os.Getenv("RANKWATCH_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "rankwatch", "config.json")
}

func (b *fileBackend) load() error {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return err
	}
	for name, raw := range top {
		if !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
			b.values[name] = raw
			continue
		}
		var section map[string]json.RawMessage
		if err := json.Unmarshal(raw, &section); err != nil {
			return fmt.Errorf("section %s: %w", name, err)
		}
		for k, v := range section {
			b.values[name+"."+k] = v
		}
	}
	return nil
}

// save rewrites the file through a temp file in the same directory so a
// crash never leaves a truncated config behind.
func (b *fileBackend) save() error {
	sections := make(map[string]map[string]json.RawMessage)
	for key, v := range b.values {
		section, name, ok := strings.Cut(key, ".")
		if !ok {
			section, name = "", key
		}
		if sections[section] == nil {
			sections[section] = make(map[string]json.RawMessage)
		}
		sections[section][name] = v
	}
	out := make(map[string]any, len(sections))
	for section, kv := range sections {
		if section == "" {
			for name, v := range kv {
				out[name] = v
			}
			continue
		}
		out[section] = kv
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("creating temp config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), b.path)
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	raw, ok := b.values[key]
	if !ok {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return string(bytes.TrimSpace(raw)), true, nil
	}
	return s, true, nil
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	raw, ok := b.values[key]
	if !ok {
		return 0, false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		i, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		return i, true, nil
	}
	var i int
	if err := json.Unmarshal(raw, &i); err != nil {
		return 0, true, fmt.Errorf("value %s for %s is not a valid integer", bytes.TrimSpace(raw), key)
	}
	return i, true, nil
}

func (b *fileBackend) SetString(key, val string) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return err
	}
	b.values[key] = raw
	return b.save()
}

func (b *fileBackend) SetInt(key string, val int) error {
	b.values[key] = json.RawMessage(strconv.Itoa(val))
	return b.save()
}

func (b *fileBackend) Delete(key string) error {
	if _, ok := b.values[key]; !ok {
		return nil
	}
	delete(b.values, key)
	return b.save()
}
