package internal

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	pkgconfig "github.com/starford/quill/pkg/config"
)

// watchConfig reloads the notes section whenever file changes. Other
// sections need a restart; changes to them are logged and ignored.
func (c *core) watchConfig(ctx context.Context, file string, current *Config) error {
	active := *current
	return pkgconfig.Watch(ctx, file, 0, c.logger, func() {
		next := NewDefaultConfig()
		if err := pkgconfig.Load(file, next); err != nil {
			c.logger.Warn("config: reload failed", slog.String("error", err.Error()))
			return
		}
		if next.App != active.App || next.SQLite != active.SQLite || next.Auth != active.Auth {
			c.logger.Warn("config: only the notes section is reloaded; restart to apply other changes")
		}
		if reflect.DeepEqual(next.Notes, active.Notes) {
			return
		}
		if err := c.reconfigure(ctx, next.Notes); err != nil {
			c.logger.Warn("config: reload failed", slog.String("error", err.Error()))
			return
		}
		active.Notes = next.Notes
	})
}

// reconfigure points the index at a new notes configuration. The old watch
// session is stopped inside Reconfigure, before the store swap and reload.
func (c *core) reconfigure(ctx context.Context, cfg NotesConfig) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	engine := cfg.Engine()
	if store != nil {
		engine.Dir = store.Root()
	}
	if err := c.notes.Reconfigure(engine); err != nil {
		return fmt.Errorf("reconfigure notes: %w", err)
	}
	c.svc.SetStore(store)

	c.logger.Info("config: notes reloaded", slog.String("notes_path", cfg.Path))
	c.load(ctx)
	c.listen(ctx)
	return nil
}
