package tuning

import (
	"context"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Holder publishes the current tuning to readers without locking. Timeouts
// and limits picked up mid-flight apply from the next message or sweep.
type Holder struct {
	cur atomic.Pointer[Tuning]
}

func NewHolder(t Tuning) *Holder {
	h := &Holder{}
	h.cur.Store(&t)
	return h
}

func (h *Holder) Current() Tuning { return *h.cur.Load() }

func (h *Holder) Store(t Tuning) { h.cur.Store(&t) }

// Watch reloads path into h whenever the file changes, until ctx ends.
// Editors replace files rather than writing in place, so the watch is on the
// parent directory and filtered by name.
func Watch(ctx context.Context, path string, h *Holder, log zerolog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return err
	}

	go func() {
		defer w.Close()
		want := filepath.Clean(path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != want {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				t, err := Load(path)
				if err != nil {
					log.Warn().Err(err).Str("path", path).Msg("tuning reload failed; keeping previous")
					continue
				}
				h.Store(t)
				log.Info().Str("path", path).Msg("tuning reloaded")
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("tuning watcher error")
			}
		}
	}()
	return nil
}
