// Package inbox watches a drop folder for document JSON files and
// imports them through the lifecycle coordinator. Other tools can hand
// documents to a running daemon by writing a file into the folder; an
// imported file moves to the processed/ subdirectory, a rejected one is
// renamed with a .rejected suffix so it is not retried.
package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/tidebook/tidebook/internal/domain"
	"github.com/tidebook/tidebook/internal/lifecycle"
)

// Importer owns the fsnotify watch on the inbox directory.
type Importer struct {
	dir       string
	lifecycle *lifecycle.Coordinator
	log       zerolog.Logger
}

// New builds an importer over dir, creating the directory and its
// processed/ subdirectory if needed.
func New(dir string, lc *lifecycle.Coordinator, log zerolog.Logger) (*Importer, error) {
	if err := os.MkdirAll(filepath.Join(dir, "processed"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create inbox directory: %w", err)
	}
	return &Importer{
		dir:       dir,
		lifecycle: lc,
		log:       log.With().Str("component", "inbox").Logger(),
	}, nil
}

// Run imports files already present in the directory, then processes
// filesystem events until the context is cancelled.
func (im *Importer) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(im.dir); err != nil {
		return fmt.Errorf("failed to watch inbox directory %s: %w", im.dir, err)
	}

	// Files dropped before the watch started.
	if err := im.sweep(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !im.importable(event) {
				continue
			}
			im.importFile(ctx, event.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			im.log.Warn().Err(err).Msg("watcher error")
		}
	}
}

// importable filters for freshly written .json files.
func (im *Importer) importable(event fsnotify.Event) bool {
	if !strings.HasSuffix(event.Name, ".json") {
		return false
	}
	return event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write)
}

// sweep imports every .json file currently in the directory.
func (im *Importer) sweep(ctx context.Context) error {
	entries, err := os.ReadDir(im.dir)
	if err != nil {
		return fmt.Errorf("failed to read inbox directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		im.importFile(ctx, filepath.Join(im.dir, entry.Name()))
	}
	return nil
}

// importFile parses and creates one document. The file moves to
// processed/ on success and is parked on rejection; either way it will
// not be imported twice.
func (im *Importer) importFile(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		// The file may have been consumed by an earlier event for the
		// same write.
		if !os.IsNotExist(err) {
			im.log.Warn().Err(err).Str("file", path).Msg("failed to read dropped file")
		}
		return
	}

	var d domain.Document
	if err := json.Unmarshal(data, &d); err != nil {
		im.reject(path, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	created, err := im.lifecycle.CreateDocument(ctx, &d)
	if err != nil {
		im.reject(path, err)
		return
	}

	done := filepath.Join(im.dir, "processed", filepath.Base(path))
	if err := os.Rename(path, done); err != nil {
		im.log.Warn().Err(err).Str("file", path).Msg("failed to archive imported file")
	}
	im.log.Info().
		Str("file", filepath.Base(path)).
		Str("document", created.ID).
		Str("number", created.Number).
		Msg("document imported")
}

func (im *Importer) reject(path string, cause error) {
	im.log.Error().Err(cause).Str("file", path).Msg("document rejected")
	if err := os.Rename(path, path+".rejected"); err != nil {
		im.log.Warn().Err(err).Str("file", path).Msg("failed to park rejected file")
	}
}
