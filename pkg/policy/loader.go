package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ReloadDelay is the quiet period after the last file change before a
// watched set of policies is reloaded.
var ReloadDelay = 500 * time.Millisecond

// Loader reads policies from .rego and .json files.
//
// A .rego file becomes a policy named after the file. Leading comments form
// its description, and a "# severity: <level>" comment sets its severity
// (warning by default). A .json file holds a Policy document.
type Loader struct {
	logger  zerolog.Logger
	cache   map[string]*Policy
	mu      sync.RWMutex
	watcher *fsnotify.Watcher
}

// NewLoader creates a loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy_loader").Logger(),
		cache:  make(map[string]*Policy),
	}
}

// LoadFromPaths loads the policies of files and directories.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var all []Policy
	for _, path := range paths {
		policies, err := l.loadFromPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		all = append(all, policies...)
	}

	l.logger.Debug().
		Int("total", len(all)).
		Int("sources", len(paths)).
		Msg("Policies loaded from paths")
	return all, nil
}

func (l *Loader) loadFromPath(ctx context.Context, path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}
	if info.IsDir() {
		return l.loadFromDirectory(ctx, path)
	}
	policy, err := l.loadFromFile(path)
	if err != nil {
		return nil, err
	}
	return []Policy{*policy}, nil
}

// loadFromDirectory loads every policy file below dirPath. Unreadable files
// are logged and skipped.
func (l *Loader) loadFromDirectory(ctx context.Context, dirPath string) ([]Policy, error) {
	var policies []Policy
	err := filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !isPolicyFile(path) {
			return nil
		}

		policy, err := l.loadFromFile(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to load policy file")
			return nil
		}
		policies = append(policies, *policy)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	return policies, nil
}

func isPolicyFile(path string) bool {
	return strings.HasSuffix(path, ".rego") || strings.HasSuffix(path, ".json")
}

func (l *Loader) loadFromFile(filePath string) (*Policy, error) {
	l.mu.RLock()
	if cached, exists := l.cache[filePath]; exists {
		l.mu.RUnlock()
		return cached, nil
	}
	l.mu.RUnlock()

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var policy *Policy
	switch {
	case strings.HasSuffix(filePath, ".rego"):
		policy = parseRegoFile(filePath, data)
	case strings.HasSuffix(filePath, ".json"):
		policy, err = parseJSONFile(data)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported file type: %s", filePath)
	}

	l.mu.Lock()
	l.cache[filePath] = policy
	l.mu.Unlock()

	l.logger.Debug().
		Str("path", filePath).
		Str("policy", policy.Name).
		Msg("Policy loaded from file")
	return policy, nil
}

func parseRegoFile(filePath string, data []byte) *Policy {
	name := strings.TrimSuffix(filepath.Base(filePath), ".rego")
	description, severity := parseHeader(string(data))
	return &Policy{
		Name:        name,
		Description: description,
		Rego:        string(data),
		Severity:    severity,
		Enabled:     true,
		Metadata:    map[string]interface{}{"source": filePath},
	}
}

func parseJSONFile(data []byte) (*Policy, error) {
	var policy Policy
	if err := json.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse JSON policy: %w", err)
	}
	if policy.Name == "" {
		return nil, fmt.Errorf("JSON policy has no name")
	}
	if policy.Severity == "" {
		policy.Severity = SeverityWarning
	}
	return &policy, nil
}

// parseHeader reads the leading comment block of a Rego file.
func parseHeader(content string) (string, Severity) {
	var description strings.Builder
	severity := SeverityWarning

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if trimmed != "" {
				break
			}
			continue
		}
		comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		if rest, ok := strings.CutPrefix(comment, "severity:"); ok {
			severity = Severity(strings.TrimSpace(rest))
			continue
		}
		if comment == "" {
			continue
		}
		if description.Len() > 0 {
			description.WriteString(" ")
		}
		description.WriteString(comment)
	}
	return description.String(), severity
}

// Watch reloads the policies of paths when files change below them and
// hands them to reloadFn. It returns once the watcher is set up; watching
// stops with ctx.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	l.watcher = watcher

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to stat path for watching")
			continue
		}
		if info.IsDir() {
			err = l.watchDirectory(path)
		} else {
			err = watcher.Add(path)
		}
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch path")
		}
	}

	go l.processEvents(ctx, watcher, paths, reloadFn)

	l.logger.Info().Int("paths", len(paths)).Msg("Started watching policy paths")
	return nil
}

func (l *Loader) watchDirectory(dirPath string) error {
	return filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return l.watcher.Add(path)
		}
		return nil
	})
}

func (l *Loader) processEvents(ctx context.Context, watcher *fsnotify.Watcher, paths []string, reloadFn func([]Policy) error) {
	var reloadTimer *time.Timer
	defer func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 || !isPolicyFile(event.Name) {
				continue
			}
			l.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Policy file changed")

			l.mu.Lock()
			delete(l.cache, event.Name)
			l.mu.Unlock()

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(ReloadDelay, func() {
				if err := l.triggerReload(ctx, paths, reloadFn); err != nil {
					l.logger.Error().Err(err).Msg("Failed to reload policies")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (l *Loader) triggerReload(ctx context.Context, paths []string, reloadFn func([]Policy) error) error {
	policies, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to reload policies: %w", err)
	}
	if err := reloadFn(policies); err != nil {
		return fmt.Errorf("failed to apply reloaded policies: %w", err)
	}
	l.logger.Info().Int("count", len(policies)).Msg("Policies reloaded")
	return nil
}

// ClearCache forgets the parsed files.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[string]*Policy)
}
