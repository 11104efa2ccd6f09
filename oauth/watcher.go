package oauth

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch observes the token file for rotation from outside the process (a
// mounted secret swap, the seal-token tool, another instance's refresh) and
// invokes onChange once events settle. Remove and rename events re-add the
// path so atomic replaces keep being observed. The watcher stops when ctx is
// canceled.
func Watch(ctx context.Context, path string, onChange func(), log *slog.Logger) error {
	if log == nil {
		log = slog.Default().With(slog.String("component", "oauth"))
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					if err := w.Add(ev.Name); err != nil {
						log.Warn("token watch re-add", slog.String("path", ev.Name), slog.Any("err", err))
					}
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
					debounce.Reset(250 * time.Millisecond)
				}
			case <-debounce.C:
				onChange()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("token watch error", slog.Any("err", err))
			}
		}
	}()
	return nil
}
