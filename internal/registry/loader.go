package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/funcd-io/funcd/internal/bus"
	"github.com/funcd-io/funcd/internal/cache"
	"github.com/funcd-io/funcd/internal/domain"
	"github.com/funcd-io/funcd/internal/handler"
)

// Dispatcher invokes functions through the execution harness. The executor
// package implements this; the loader uses it to bind event listeners and to
// bootstrap pending run-once functions after each rescan.
type Dispatcher interface {
	DispatchEvent(ctx context.Context, fn *domain.Function, event string, data any)
	RunOnce(ctx context.Context, fn *domain.Function)
}

// ChannelBinder ensures LISTEN channels and table notify triggers exist for
// database triggers. Implemented by the postgres bridge; nil when the
// runtime runs without a database.
type ChannelBinder interface {
	Listen(ctx context.Context, channel string) error
	InstallTableTrigger(ctx context.Context, table, channel string) error
}

// Loader scans the functions directory and rebuilds the registry.
type Loader struct {
	dir      string
	registry *Registry
	bus      *bus.Bus
	factory  handler.Factory

	// manifests caches parsed metadata keyed by path, size and mtime so a
	// rescan only re-parses files that actually changed.
	manifests *cache.Cache[string, *handler.Manifest]

	bridge     ChannelBinder
	dispatcher Dispatcher
}

// NewLoader creates a loader over dir. bridge may be nil (no database).
func NewLoader(dir string, reg *Registry, b *bus.Bus, factory handler.Factory, bridge ChannelBinder) *Loader {
	return &Loader{
		dir:      dir,
		registry: reg,
		bus:      b,
		factory:  factory,
		manifests: cache.New[string, *handler.Manifest](cache.Options{
			TTL:        time.Hour,
			MaxEntries: 1000,
		}),
		bridge: bridge,
	}
}

// SetDispatcher wires the execution harness. Must be called before the
// first Rescan; split from the constructor because the executor itself is
// built on top of the registry.
func (l *Loader) SetDispatcher(d Dispatcher) { l.dispatcher = d }

// Rescan enumerates handler files, loads each, and swaps the freshly built
// map into the registry. Event listeners are rebuilt wholesale, database
// triggers are (re-)bound, and pending run-once functions are bootstrapped.
// A file that fails to load is skipped and does not affect the others.
// Returns the number of registered functions.
func (l *Loader) Rescan(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0, fmt.Errorf("loader: read %s: %w", l.dir, err)
	}

	funcs := make(map[string]*domain.Function)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".ts") {
			continue
		}
		// Hidden files and editor temp files are not handlers.
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || strings.HasSuffix(name, ".d.ts") {
			continue
		}

		fn, err := l.LoadOne(filepath.Join(l.dir, name))
		if err != nil {
			slog.Warn("loader: skipping handler file", "file", name, "error", err)
			continue
		}
		funcs[fn.Name] = fn
	}

	l.registry.Swap(funcs)
	l.rebindEvents(funcs)
	l.bindDatabaseTriggers(ctx, funcs)

	slog.Info("loader: registry rebuilt", "functions", len(funcs))

	l.bootstrapRunOnce(ctx, funcs)
	return len(funcs), nil
}

// LoadOne loads a single handler file: extracts the exported metadata,
// reads the sibling <name>.env.json if present, and builds the invoker.
// HasCompleted is restored from the process-wide completed set.
func (l *Loader) LoadOne(path string) (*domain.Function, error) {
	manifest, err := l.loadManifest(path)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSuffix(filepath.Base(path), ".ts")
	fn := &domain.Function{
		Name:        name,
		Description: manifest.Description,
		Triggers:    manifest.Triggers,
		SourcePath:  path,
		EnvVars:     l.readEnvFile(name),
		RunOnce:     manifest.RunOnce,
		Invoker:     l.factory(path),
	}
	fn.SetCompleted(l.registry.IsCompleted(name))
	return fn, nil
}

// loadManifest parses the handler metadata, consulting the manifest cache
// first. The key includes size and mtime, so any on-disk change misses.
func (l *Loader) loadManifest(path string) (*handler.Manifest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("loader: stat handler: %w", err)
	}
	key := fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())
	if m, ok := l.manifests.Get(key); ok {
		return m, nil
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loader: read handler: %w", err)
	}
	m, err := handler.ParseManifest(src)
	if err != nil {
		return nil, err
	}
	l.manifests.Set(key, m)
	return m, nil
}

// readEnvFile loads <name>.env.json beside the handler. Absence is not an
// error; invalid JSON leaves the env empty.
func (l *Loader) readEnvFile(name string) map[string]string {
	path := filepath.Join(l.dir, name+".env.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("loader: env file unreadable", "file", path, "error", err)
		}
		return map[string]string{}
	}
	var env map[string]string
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("loader: env file is not a JSON string map, ignoring", "file", path, "error", err)
		return map[string]string{}
	}
	if env == nil {
		env = map[string]string{}
	}
	return env
}

// rebindEvents rebuilds the event bus listener table from the new function
// set. Replacing the whole table drops prior listeners first, so repeated
// reloads never multiply deliveries.
func (l *Loader) rebindEvents(funcs map[string]*domain.Function) {
	table := make(map[string][]bus.Listener)
	for _, fn := range funcs {
		for _, t := range fn.TriggersOf(domain.TriggerEvent) {
			if t.Event == "" {
				continue
			}
			f := fn
			table[t.Event] = append(table[t.Event], func(ctx context.Context, event string, data any) {
				l.dispatcher.DispatchEvent(ctx, f, event, data)
			})
		}
	}
	l.bus.ResetAll(table)
}

// bindDatabaseTriggers ensures LISTEN channels and table notify triggers for
// every database trigger. Both steps are best-effort: a missing table is
// logged and re-attempted on the next rescan.
func (l *Loader) bindDatabaseTriggers(ctx context.Context, funcs map[string]*domain.Function) {
	if l.bridge == nil {
		return
	}
	for _, fn := range funcs {
		for _, t := range fn.TriggersOf(domain.TriggerDatabase) {
			channel := t.NotifyChannel()
			if channel == "" {
				slog.Warn("loader: database trigger without table or channel", "function", fn.Name)
				continue
			}
			if err := l.bridge.Listen(ctx, channel); err != nil {
				slog.Error("loader: LISTEN failed", "function", fn.Name, "channel", channel, "error", err)
				continue
			}
			if t.Table != "" {
				if err := l.bridge.InstallTableTrigger(ctx, t.Table, channel); err != nil {
					slog.Warn("loader: notify trigger install deferred", "function", fn.Name, "table", t.Table, "error", err)
				}
			}
		}
	}
}

// bootstrapRunOnce invokes run-once functions that have not yet recorded a
// successful completion. Failures leave the function eligible for the next
// rescan.
func (l *Loader) bootstrapRunOnce(ctx context.Context, funcs map[string]*domain.Function) {
	for _, fn := range funcs {
		if !fn.RunOnce || fn.Completed() || l.registry.IsCompleted(fn.Name) {
			continue
		}
		l.dispatcher.RunOnce(ctx, fn)
	}
}

// Deploy writes a handler file (and optional env map) into the functions
// directory and rescans. The control plane supplies name and code verbatim.
func (l *Loader) Deploy(ctx context.Context, name, code string, env map[string]string) error {
	path := filepath.Join(l.dir, name+".ts")
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		return fmt.Errorf("loader: write handler: %w", err)
	}
	if env != nil {
		data, err := json.MarshalIndent(env, "", "  ")
		if err != nil {
			return fmt.Errorf("loader: encode env: %w", err)
		}
		if err := os.WriteFile(filepath.Join(l.dir, name+".env.json"), data, 0o644); err != nil {
			return fmt.Errorf("loader: write env: %w", err)
		}
	}
	_, err := l.Rescan(ctx)
	return err
}

// Undeploy deletes the handler and env files (missing files are fine) and
// rescans.
func (l *Loader) Undeploy(ctx context.Context, name string) error {
	for _, path := range []string{
		filepath.Join(l.dir, name+".ts"),
		filepath.Join(l.dir, name+".env.json"),
	} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("loader: remove %s: %w", path, err)
		}
	}
	_, err := l.Rescan(ctx)
	return err
}

// Dir returns the functions directory the loader scans.
func (l *Loader) Dir() string { return l.dir }
