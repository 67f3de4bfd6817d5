/*
Copyright 2026 The FiskAI Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// settleDelay coalesces the burst of filesystem events an editor or
// configmap sync emits for a single logical change into one reload.
const settleDelay = 200 * time.Millisecond

// Watch monitors the overlay file at path and invokes onChange with the
// freshly merged Config (environment base plus overlay) each time the file
// is written, created, or replaced. The watch is on the file's directory,
// so delete-and-recreate update patterns keep working. Blocks until ctx is
// canceled; a missing file is not an error, it simply produces no reloads
// until something creates it.
func Watch(ctx context.Context, path string, log *logrus.Logger, onChange func(Config)) error {
	if log == nil {
		log = logrus.New()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	target := filepath.Clean(path)
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(settleDelay)
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(werr).Warn("config: watcher error")
		case <-pending:
			pending = nil
			onChange(overlayFile(envConfig(), path))
			log.WithField("path", path).Info("config: overlay reloaded")
		}
	}
}
