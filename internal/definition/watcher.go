package definition

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/pitabwire/catalogboard/model"
)

// DefaultDebounce is how long the watcher waits for file events to settle.
const DefaultDebounce = 250 * time.Millisecond

// InvalidError reports definitions that failed validation.
type InvalidError struct {
	Errors []VError
}

func (e *InvalidError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, ve := range e.Errors {
		msgs = append(msgs, ve.Error())
	}
	return fmt.Sprintf("%d definition errors: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// LoadAndValidate loads every board under directories and validates them as
// one set.
func LoadAndValidate(directories []string) ([]model.BoardDefinition, error) {
	defs, err := NewLoader().LoadAll(directories)
	if err != nil {
		return nil, err
	}
	if verrs := NewValidator().Validate(defs); len(verrs) > 0 {
		return nil, &InvalidError{Errors: verrs}
	}
	return defs, nil
}

// ReloadRecorder receives reload metrics.
type ReloadRecorder interface {
	RecordDefinitionReload(status string)
	SetDefinitionsLoaded(count float64)
}

// Watcher reloads a Registry when files under its directories change. A
// reload that fails to load or validate leaves the registry untouched.
type Watcher struct {
	directories []string
	registry    *Registry
	debounce    time.Duration
	logger      *zap.Logger
	metrics     ReloadRecorder

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher creates a watcher feeding registry. A zero debounce selects
// DefaultDebounce; metrics may be nil.
func NewWatcher(directories []string, registry *Registry, debounce time.Duration, logger *zap.Logger, metrics ReloadRecorder) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		directories: directories,
		registry:    registry,
		debounce:    debounce,
		logger:      logger,
		metrics:     metrics,
	}
}

// Reload loads and validates every directory and swaps the registry on
// success.
func (w *Watcher) Reload() error {
	defs, err := LoadAndValidate(w.directories)
	if err != nil {
		w.record("failure")
		return err
	}
	w.registry.Replace(defs)
	w.record("success")
	if w.metrics != nil {
		w.metrics.SetDefinitionsLoaded(float64(len(defs)))
	}
	w.logger.Info("definitions reloaded",
		zap.Int("boards", len(defs)),
		zap.String("checksum", w.registry.Checksum()),
	)
	return nil
}

func (w *Watcher) record(status string) {
	if w.metrics != nil {
		w.metrics.RecordDefinitionReload(status)
	}
}

// Run watches the directories until ctx is done. Nested directories created
// after Run starts are watched as well.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	for _, dir := range w.directories {
		if err := addTree(fw, dir); err != nil {
			return err
		}
	}
	defer w.stopTimer()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if err := addTree(fw, event.Name); err != nil {
					w.logger.Debug("watch new path", zap.String("path", event.Name), zap.Error(err))
				}
			}
			if relevant(event) {
				w.schedule()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("definition watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if err := w.Reload(); err != nil {
			w.logger.Warn("definition reload rejected, keeping current boards", zap.Error(err))
		}
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

func relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	return relevantPath(event.Name)
}

// relevantPath accepts definition files and extensionless paths, which may
// be directories.
func relevantPath(path string) bool {
	return isDefinitionFile(path) || filepath.Ext(path) == ""
}

// addTree watches root and every directory below it. Non-directories are
// ignored.
func addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}
