// SPDX-License-Identifier: ice License 1.0

// Package document serves the root html document: read from disk once, kept until the file
// changes, and passed through transformers before every response.
package document

import (
	"context"
	"sync"

	"github.com/fsnotify/fsnotify"
)

type (
	Config struct {
		Root     string `yaml:"root"`
		Template string `yaml:"template"`
		HMRPath  string `yaml:"hmrPath"`
	}
	Transformer interface {
		Transform(ctx context.Context, url, originalURL string, html []byte) ([]byte, error)
	}
	TransformerFunc func(ctx context.Context, url, originalURL string, html []byte) ([]byte, error)
	Template        struct {
		watcher      *fsnotify.Watcher
		path         string
		transformers []Transformer
		listeners    []func(path string)
		cached       []byte
		generation   uint64
		watching     sync.WaitGroup
		mx           sync.RWMutex
		listenersMx  sync.Mutex
	}
)

const (
	defaultTemplate = "index.html"
	defaultHMRPath  = "/__hmr"
)
