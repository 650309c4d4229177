package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/deepnoodle-ai/autopilot"
	"github.com/deepnoodle-ai/autopilot/slogger"
	"github.com/fsnotify/fsnotify"
)

// DefinitionPattern matches the definition files of a directory tree.
const DefinitionPattern = "**/*.{yaml,yml,json}"

// DefinitionDir is an autopilot.DefinitionStore backed by a directory of
// definition files. Files are read when the directory is opened and again on Reload. Upsert
// writes {id}.yaml into the root of the directory.
type DefinitionDir struct {
	dir    string
	logger slogger.Logger
	now    func() time.Time

	mu          sync.RWMutex
	definitions map[string]*autopilot.Definition
	paths       map[string]string
}

var _ autopilot.DefinitionStore = (*DefinitionDir)(nil)

// DefinitionDirOptions configures a DefinitionDir.
type DefinitionDirOptions struct {
	Logger slogger.Logger
}

// OpenDefinitionDir loads every definition found under dir.
func OpenDefinitionDir(dir string, opts DefinitionDirOptions) (*DefinitionDir, error) {
	dir, err := prepareDir(dir)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slogger.DefaultLogger
	}
	d := &DefinitionDir{dir: dir, logger: opts.Logger, now: time.Now}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Dir returns the root directory.
func (d *DefinitionDir) Dir() string {
	return d.dir
}

// Reload rereads the directory. Files that fail to parse or validate are
// reported together and leave the previously loaded set in place.
func (d *DefinitionDir) Reload() error {
	matches, err := doublestar.Glob(os.DirFS(d.dir), DefinitionPattern)
	if err != nil {
		return fmt.Errorf("filestore: glob definitions: %w", err)
	}
	sort.Strings(matches)
	definitions := map[string]*autopilot.Definition{}
	paths := map[string]string{}
	var errs []error
	for _, match := range matches {
		path := filepath.Join(d.dir, filepath.FromSlash(match))
		def, err := readDefinition(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", match, err))
			continue
		}
		if other, exists := paths[def.ID]; exists {
			errs = append(errs, fmt.Errorf("%s: definition %q is also defined in %s", match, def.ID, other))
			continue
		}
		if def.Version == 0 {
			def.Version = 1
		}
		definitions[def.ID] = def
		paths[def.ID] = path
	}
	if len(errs) > 0 {
		return fmt.Errorf("filestore: load definitions: %w", errors.Join(errs...))
	}
	d.mu.Lock()
	d.definitions = definitions
	d.paths = paths
	d.mu.Unlock()
	return nil
}

func readDefinition(path string) (*autopilot.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	def, err := autopilot.ParseDefinitionFile(path, data)
	if err != nil {
		return nil, err
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

func (d *DefinitionDir) Get(ctx context.Context, id string) (*autopilot.Definition, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	def, ok := d.definitions[id]
	if !ok {
		return nil, fmt.Errorf("filestore: definition %s: %w", id, autopilot.ErrNotFound)
	}
	return def.Clone(), nil
}

func (d *DefinitionDir) List(ctx context.Context) ([]*autopilot.Definition, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	defs := make([]*autopilot.Definition, 0, len(d.definitions))
	for _, def := range d.definitions {
		defs = append(defs, def.Clone())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs, nil
}

// Upsert merges def onto the loaded definition and writes the result back to
// the file it came from, or to {id}.yaml for new definitions.
func (d *DefinitionDir) Upsert(ctx context.Context, def *autopilot.Definition) (*autopilot.Definition, error) {
	if !idPattern.MatchString(def.ID) {
		return nil, fmt.Errorf("%w: id %q must contain only letters, digits, _ and -", autopilot.ErrInvalidDefinition, def.ID)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	existing := d.definitions[def.ID]
	merged := autopilot.MergeDefinition(existing, def)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	merged.Version = 1
	if existing != nil {
		merged.Version = existing.Version + 1
	}
	merged.UpdatedAt = d.now().UTC()

	path, ok := d.paths[merged.ID]
	if !ok {
		path = filepath.Join(d.dir, merged.ID+".yaml")
	}
	var data []byte
	var err error
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = marshalJSON(merged)
	} else {
		data, err = autopilot.MarshalDefinitionYAML(merged)
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: encode definition %s: %w", merged.ID, err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return nil, fmt.Errorf("filestore: write definition %s: %w", merged.ID, err)
	}
	d.definitions[merged.ID] = merged
	d.paths[merged.ID] = path
	return merged.Clone(), nil
}

// Watch reloads the directory whenever a definition file changes, calling
// onReload with the result of each reload. Bursts of events are coalesced.
// It blocks until ctx is done.
func (d *DefinitionDir) Watch(ctx context.Context, onReload func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("filestore: create watcher: %w", err)
	}
	defer watcher.Close()
	if err := addWatchDirs(watcher, d.dir); err != nil {
		return err
	}

	const debounce = 200 * time.Millisecond
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addWatchDirs(watcher, event.Name); err != nil {
						d.logger.Warn("failed to watch directory", "dir", event.Name, "error", err)
					}
				}
			}
			if !d.isDefinitionFile(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				timer.Reset(debounce)
			}
		case <-timer.C:
			err := d.Reload()
			if err != nil {
				d.logger.Warn("definition reload failed", "dir", d.dir, "error", err)
			} else {
				d.logger.Info("definitions reloaded", "dir", d.dir)
			}
			if onReload != nil {
				onReload(err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.logger.Error("definition watcher error", "error", err)
		}
	}
}

func (d *DefinitionDir) isDefinitionFile(path string) bool {
	rel, err := filepath.Rel(d.dir, path)
	if err != nil {
		return false
	}
	matched, _ := doublestar.Match(DefinitionPattern, filepath.ToSlash(rel))
	return matched
}

func addWatchDirs(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if entry.IsDir() {
			if err := watcher.Add(path); err != nil {
				return fmt.Errorf("filestore: watch %s: %w", path, err)
			}
		}
		return nil
	})
}

func marshalJSON(def *autopilot.Definition) ([]byte, error) {
	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
