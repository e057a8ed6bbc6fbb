// Package store reads and writes the controller's on-disk caches under
// ~/.klyqa: the AES key table and the per-product device configs. The
// engine itself only ever sees the in-memory maps.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	json "github.com/goccy/go-json"
	"github.com/gofrs/flock"
)

// DirName is the data directory under the user's home.
const DirName = ".klyqa"

const (
	aesFile     = "aes.json"
	configsFile = "device.configs.json"
)

// Dir resolves (and creates) the data directory. Without a resolvable home
// it falls back to the directory of the running binary.
func Dir() (string, error) {
	base, err := os.UserHomeDir()
	if err != nil {
		base = filepath.Dir(os.Args[0])
	}
	dir := filepath.Join(base, DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("store: creating %s: %w", dir, err)
	}
	return dir, nil
}

func readJSON(name string, v any) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	path := filepath.Join(dir, name)
	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return fmt.Errorf("store: locking %s: %w", path, err)
	}
	defer lock.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// writeJSON writes through a temp file and rename, holding the file lock
// so concurrent controller processes don't interleave.
func writeJSON(name string, v any) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	path := filepath.Join(dir, name)
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("store: locking %s: %w", path, err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+name+"*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadAESKeys reads the cached key table: unit-id to 32 hex characters.
func LoadAESKeys() (map[string]string, error) {
	keys := map[string]string{}
	if err := readJSON(aesFile, &keys); err != nil {
		if os.IsNotExist(err) {
			slog.Warn("No cache from json file available", "file", aesFile)
			return keys, nil
		}
		return nil, err
	}
	return keys, nil
}

// SaveAESKeys writes the key table cache.
func SaveAESKeys(keys map[string]string) error {
	return writeJSON(aesFile, keys)
}

// LoadDeviceConfigs reads the cached per-product config documents.
func LoadDeviceConfigs() (map[string]json.RawMessage, error) {
	configs := map[string]json.RawMessage{}
	if err := readJSON(configsFile, &configs); err != nil {
		if os.IsNotExist(err) {
			slog.Warn("No cache from json file available", "file", configsFile)
			return configs, nil
		}
		return nil, err
	}
	return configs, nil
}

// SaveDeviceConfigs writes the config cache.
func SaveDeviceConfigs(configs map[string]json.RawMessage) error {
	return writeJSON(configsFile, configs)
}

// WatchDeviceConfigs invokes reload whenever the config cache changes on
// disk, until the context ends. The initial state is not reported; load it
// first.
func WatchDeviceConfigs(ctx context.Context, reload func()) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != configsFile {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					slog.Debug("Device config cache changed", "event", ev.Op.String())
					reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Device config cache watcher error", "err", err)
			}
		}
	}()
	return nil
}
