package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// fileDocument is the on-disk layout. Values must be JSON.
type fileDocument struct {
	Origin string                     `json:"origin"`
	Values map[string]json.RawMessage `json:"values"`
}

// File keeps every key in one JSON document. Writes replace the document
// atomically; changes by other writers are picked up with fsnotify.
type File struct {
	mu     sync.Mutex
	path   string
	origin string
	log    *zap.Logger
}

// OpenFile opens the document at path, creating its directory if needed.
func OpenFile(path string, logger *zap.Logger) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &File{path: path, origin: newOrigin(), log: logger.Named("store.file")}, nil
}

// Origin identifies the handle's writes.
func (f *File) Origin() string { return f.origin }

func (f *File) read() (fileDocument, error) {
	doc := fileDocument{Values: map[string]json.RawMessage{}}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("failed to decode %s: %w", f.path, err)
	}
	if doc.Values == nil {
		doc.Values = map[string]json.RawMessage{}
	}
	return doc, nil
}

func (f *File) write(doc fileDocument) error {
	doc.Origin = f.origin
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".freeform-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", f.path, err)
	}
	return nil
}

func (f *File) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return nil, err
	}
	v, ok := doc.Values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return []byte(v), nil
}

func (f *File) Set(_ context.Context, entries ...Entry) error {
	for _, e := range entries {
		if !json.Valid(e.Value) {
			return fmt.Errorf("store: value for %q is not valid JSON", e.Key)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return err
	}
	for _, e := range entries {
		doc.Values[e.Key] = append(json.RawMessage(nil), e.Value...)
	}
	return f.write(doc)
}

func (f *File) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return err
	}
	if _, ok := doc.Values[key]; !ok {
		return nil
	}
	delete(doc.Values, key)
	return f.write(doc)
}

func (f *File) Close() error { return nil }

// Watch reports keys whose values differ after another writer replaced the
// document. The directory is watched because every write swaps the file.
func (f *File) Watch(ctx context.Context) (<-chan Change, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(f.path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(f.path), err)
	}

	f.mu.Lock()
	last, err := f.read()
	f.mu.Unlock()
	if err != nil {
		w.Close()
		return nil, err
	}

	ch := make(chan Change, watchBuffer)
	go func() {
		defer close(ch)
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				f.log.Warn("watcher error", zap.Error(err))
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(f.path) || !ev.Has(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) {
					continue
				}
				f.mu.Lock()
				cur, err := f.read()
				f.mu.Unlock()
				if err != nil {
					f.log.Warn("failed to reload document", zap.Error(err))
					continue
				}
				changed := diffValues(last.Values, cur.Values)
				last = cur
				if cur.Origin == f.origin {
					continue
				}
				for _, key := range changed {
					select {
					case ch <- Change{Key: key, Origin: cur.Origin}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return ch, nil
}

func diffValues(before, after map[string]json.RawMessage) []string {
	var keys []string
	for k, v := range after {
		if old, ok := before[k]; !ok || string(old) != string(v) {
			keys = append(keys, k)
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			keys = append(keys, k)
		}
	}
	return keys
}
