package world

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch starts an fsnotify watcher over the library directory tree. When a
// blueprint file changes its cached parse is dropped, so the next load of
// that program reads the new text; onChange (if non-nil) is told the
// program name. Already-loaded objects are not touched. The watcher stops
// when ctx is done.
func (w *World) Watch(ctx context.Context, onChange func(program string)) error {
	if w.libDir == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	err = filepath.WalkDir(w.libDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(p)
		}
		return nil
	})
	if err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Create != 0 && isDir(event.Name) {
					if err := watcher.Add(event.Name); err != nil {
						log.Printf("world: watch %s: %v", event.Name, err)
					}
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if !strings.HasSuffix(event.Name, w.suffix) {
					continue
				}
				rel, err := filepath.Rel(w.libDir, event.Name)
				if err != nil {
					continue
				}
				prog := w.programOf(filepath.ToSlash(rel))
				w.forget(prog)
				log.Printf("world: blueprint changed: %s", prog)
				if onChange != nil {
					onChange(prog)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("world: watcher error: %v", err)
			}
		}
	}()

	log.Printf("world: watching library %s", w.libDir)
	return nil
}

func isDir(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}
