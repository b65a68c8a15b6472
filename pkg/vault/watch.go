package vault

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// addWatchRecursive attaches watcher to root and every directory beneath
// it, so a later mkdir under a watched tree is itself watched before any
// file lands in it.
func addWatchRecursive(watcher *fsnotify.Watcher, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return nil
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() {
			return nil
		}
		if err := watcher.Add(path); err != nil {
			log.Printf("[Watcher] failed to watch %s: %v", path, err)
			return nil
		}
		return nil
	})
}

// Watch observes source recursively and runs a full Backup, labeled
// labelPrefix-auto-<unix>, debounce after the last coalesced write/create/
// rename event. It runs until ctx is cancelled. Every snapshot it produces
// is a normal Backup call, so nothing distinguishes a watch-triggered
// snapshot from a manually triggered one on disk.
func (s *Store) Watch(ctx context.Context, source, labelPrefix string, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("vault: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := addWatchRecursive(watcher, source); err != nil {
		return fmt.Errorf("vault: watch %s: %w", source, err)
	}
	log.Printf("[Watcher] watching %s for changes (debounce %s)", source, debounce)

	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := addWatchRecursive(watcher, event.Name); err != nil {
					log.Printf("[Watcher] skipping recursive watch for %s: %v", event.Name, err)
				}
				continue
			}

			if timer == nil {
				timer = time.AfterFunc(debounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[Watcher] error: %v", err)

		case <-fire:
			label := fmt.Sprintf("%s-auto-%d", labelPrefix, time.Now().Unix())
			if _, err := s.Backup(source, label); err != nil {
				log.Printf("[Watcher] auto-backup failed: %v", err)
			}
		}
	}
}
