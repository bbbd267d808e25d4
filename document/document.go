// SPDX-License-Identifier: ice License 1.0

package document

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
)

func (f TransformerFunc) Transform(ctx context.Context, url, originalURL string, html []byte) ([]byte, error) {
	return f(ctx, url, originalURL, html)
}

// New watches the template's directory (editors tend to replace files rather than write them)
// and applies transformers in order on every Render.
func New(cfg *Config, transformers ...Transformer) (*Template, error) {
	name := cfg.Template
	if name == "" {
		name = defaultTemplate
	}
	path, err := filepath.Abs(filepath.Join(cfg.Root, name))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve template %v", name)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create template watcher")
	}
	if err = watcher.Add(filepath.Dir(path)); err != nil {
		return nil, errors.Wrapf(errors.CombineErrors(err, watcher.Close()), "failed to watch %v", filepath.Dir(path))
	}
	t := &Template{watcher: watcher, path: path, transformers: transformers}
	t.watching.Add(1)
	go t.watch()

	return t, nil
}

func (t *Template) Path() string {
	return t.path
}

// OnChange registers fn to be called after the template changed on disk.
func (t *Template) OnChange(fn func(path string)) {
	t.listenersMx.Lock()
	t.listeners = append(t.listeners, fn)
	t.listenersMx.Unlock()
}

func (t *Template) Render(ctx context.Context, url, originalURL string) ([]byte, error) {
	html, err := t.load()
	if err != nil {
		return nil, err
	}
	for _, transformer := range t.transformers {
		if html, err = transformer.Transform(ctx, url, originalURL, html); err != nil {
			return nil, errors.Wrapf(err, "failed to transform %v for %v", t.path, originalURL)
		}
	}

	return html, nil
}

func (t *Template) Close() error {
	err := t.watcher.Close()
	t.watching.Wait()

	return errors.Wrap(err, "failed to close template watcher")
}

func (t *Template) load() ([]byte, error) {
	t.mx.RLock()
	cached, generation := t.cached, t.generation
	t.mx.RUnlock()
	if cached == nil {
		content, err := os.ReadFile(t.path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read template %v", t.path)
		}
		t.mx.Lock()
		if t.generation == generation {
			t.cached = content
		}
		t.mx.Unlock()
		cached = content
	}

	return append(make([]byte, 0, len(cached)), cached...), nil
}

func (t *Template) watch() {
	defer t.watching.Done()
	for {
		select {
		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != t.path || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) {
				continue
			}
			t.invalidate()
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("ERROR:%v", errors.Wrapf(err, "template watcher failed for %v", t.path))
		}
	}
}

func (t *Template) invalidate() {
	t.mx.Lock()
	t.cached = nil
	t.generation++
	t.mx.Unlock()
	t.listenersMx.Lock()
	listeners := append(make([]func(string), 0, len(t.listeners)), t.listeners...)
	t.listenersMx.Unlock()
	for _, fn := range listeners {
		fn(t.path)
	}
}
