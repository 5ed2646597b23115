// internal/capability/keysource.go
package capability

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FileKey reads the signing key from a file and reloads it when the file
// changes, so keys can be rotated without restarting the service.
type FileKey struct {
	path    string
	log     *zap.Logger
	watcher *fsnotify.Watcher

	mu  sync.RWMutex
	key []byte
}

func NewFileKey(path string, log *zap.Logger) (*FileKey, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading signing key: %w", err)
	}
	key = bytes.TrimSpace(key)
	if len(key) == 0 {
		return nil, fmt.Errorf("signing key file is empty: %s", path)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating key watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching signing key: %w", err)
	}

	fk := &FileKey{
		path:    path,
		log:     log,
		watcher: watcher,
		key:     key,
	}
	go fk.watch()
	return fk, nil
}

func (f *FileKey) Key() []byte {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.key
}

func (f *FileKey) Close() error {
	return f.watcher.Close()
}

func (f *FileKey) watch() {
	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			f.reload()
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.log.Warn("key watcher error", zap.Error(err))
		}
	}
}

func (f *FileKey) reload() {
	key, err := os.ReadFile(f.path)
	if err != nil {
		f.log.Warn("reloading signing key failed", zap.Error(err))
		return
	}
	key = bytes.TrimSpace(key)
	if len(key) == 0 {
		f.log.Warn("ignoring empty signing key file", zap.String("path", f.path))
		return
	}

	f.mu.Lock()
	changed := !bytes.Equal(f.key, key)
	f.key = key
	f.mu.Unlock()

	if changed {
		f.log.Info("signing key rotated", zap.String("path", f.path))
	}
}
