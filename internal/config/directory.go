package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 100 * time.Millisecond

// Directory is the live set of personas and lines. It is safe for
// concurrent use and can be swapped wholesale on reload.
type Directory struct {
	mu          sync.RWMutex
	personas    map[string]Persona
	lines       map[string]Line
	defaults    DefaultsConfig
	countryCode string
}

func NewDirectory(cfg *Config) *Directory {
	d := &Directory{}
	d.Replace(cfg)
	return d
}

// Replace swaps in the personas, lines and defaults of cfg.
func (d *Directory) Replace(cfg *Config) {
	personas := make(map[string]Persona, len(cfg.Personas))
	for k, v := range cfg.Personas {
		personas[k] = v
	}
	lines := make(map[string]Line, len(cfg.Lines))
	for k, v := range cfg.Lines {
		lines[k] = v
	}

	d.mu.Lock()
	d.personas = personas
	d.lines = lines
	d.defaults = cfg.Defaults
	d.countryCode = cfg.Dialing.CountryCode
	d.mu.Unlock()
}

func (d *Directory) Persona(key string) (Persona, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.personas[key]
	return p, ok
}

func (d *Directory) Line(key string) (Line, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	l, ok := d.lines[key]
	return l, ok
}

func (d *Directory) Defaults() DefaultsConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.defaults
}

func (d *Directory) CountryCode() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.countryCode
}

func (d *Directory) PersonaKeys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return sortedKeys(d.personas)
}

func (d *Directory) LineKeys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return sortedKeys(d.lines)
}

// PersonaByAssistant finds the persona hosted on an assistant id.
func (d *Directory) PersonaByAssistant(assistantID string) (string, Persona, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, key := range sortedKeys(d.personas) {
		if p := d.personas[key]; p.AssistantID == assistantID {
			return key, p, true
		}
	}
	return "", Persona{}, false
}

// LineByID finds the line for a platform phone number id.
func (d *Directory) LineByID(phoneNumberID string) (string, Line, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, key := range sortedKeys(d.lines) {
		if l := d.lines[key]; l.PhoneNumberID == phoneNumberID {
			return key, l, true
		}
	}
	return "", Line{}, false
}

// PersonaLabel resolves an assistant id to its display label.
func (d *Directory) PersonaLabel(assistantID string) (string, bool) {
	_, p, ok := d.PersonaByAssistant(assistantID)
	if !ok {
		return "", false
	}
	return p.DisplayLabel(), true
}

// Watch reloads path into d whenever the file changes, until ctx is done.
// A file that fails to load is logged and the previous directory is kept.
// The parent directory is watched so editors that replace the file by
// rename are picked up.
func Watch(ctx context.Context, path string, d *Directory, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer watcher.Close()

		debounce := time.NewTimer(reloadDebounce)
		if !debounce.Stop() {
			<-debounce.C
		}
		defer debounce.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				debounce.Reset(reloadDebounce)
			case <-debounce.C:
				cfg, err := Load(abs)
				if err != nil {
					logger.Warn("config reload failed, keeping previous", "path", abs, "err", err)
					continue
				}
				d.Replace(cfg)
				logger.Info("config reloaded", "path", abs, "personas", len(cfg.Personas), "lines", len(cfg.Lines))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "err", err)
			}
		}
	}()
	return nil
}
