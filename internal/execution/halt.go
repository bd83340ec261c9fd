package execution

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// HaltFlag stops new orders. Operators raise it in-process or by creating the
// halt file; removing the file clears it.
type HaltFlag struct {
	path   string
	logger Logger

	mu     sync.RWMutex
	halted bool
	reason string
}

// NewHaltFlag returns a flag bound to path. An existing file starts the flag halted.
func NewHaltFlag(path string, logger Logger) *HaltFlag {
	h := &HaltFlag{path: path, logger: logger}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			h.Halt(readReason(path))
		}
	}
	return h
}

func (h *HaltFlag) Halt(reason string) {
	if reason == "" {
		reason = "halted by operator"
	}
	h.mu.Lock()
	changed := !h.halted
	h.halted = true
	h.reason = reason
	h.mu.Unlock()
	if changed {
		h.logger.LogWarning("Halt", "trading halted: %s", reason)
	}
}

func (h *HaltFlag) Clear() {
	h.mu.Lock()
	changed := h.halted
	h.halted = false
	h.reason = ""
	h.mu.Unlock()
	if changed {
		h.logger.Info("Trading halt cleared")
	}
}

// IsHalted returns the flag and the reason it was raised
func (h *HaltFlag) IsHalted() (bool, string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.halted, h.reason
}

// Watch follows the halt file until ctx is done. The parent directory is
// watched so the file may be created after the engine starts.
func (h *HaltFlag) Watch(ctx context.Context) error {
	if h.path == "" {
		<-ctx.Done()
		return nil
	}

	dir := filepath.Dir(h.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return err
	}

	target := filepath.Clean(h.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			switch {
			case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
				h.Halt(readReason(h.path))
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				h.Clear()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			h.logger.LogWarning("Halt", "halt file watcher error: %v", err)
		}
	}
}

func readReason(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
