// SPDX-License-Identifier: ice License 1.0

// Package bridge makes an in-process sandbox reachable through a gin engine: plain requests are
// forwarded to the sandbox (falling through when it declines) and WebSocket upgrades are
// completed on the raw connection, dispatched as one synthetic request, and relayed to the
// abstract WebSocket the sandbox answers with.
package bridge

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	stdlibtime "time"

	"github.com/cockroachdb/errors"
	"github.com/rcrowley/go-metrics"

	"github.com/ice-blockchain/devbridge/bridge/internal/adapters"
	"github.com/ice-blockchain/devbridge/headers"
	"github.com/ice-blockchain/devbridge/sandbox"
)

type (
	Config struct {
		SyntheticBaseURL url.URL             `yaml:"syntheticBaseURL"`
		HMRPath          string              `yaml:"hmrPath"`
		DocumentPath     string              `yaml:"documentPath"`
		PendingMessages  int                 `yaml:"pendingMessages"`
		HandshakeTimeout stdlibtime.Duration `yaml:"handshakeTimeout"`
		ReadTimeout      stdlibtime.Duration `yaml:"readTimeout"`
		WriteTimeout     stdlibtime.Duration `yaml:"writeTimeout"`
		SPAFallback      bool                `yaml:"spaFallback"`
	}
	// Document renders the root document for the document path.
	Document interface {
		Render(ctx context.Context, url, originalURL string) ([]byte, error)
	}
	Bridge struct {
		dispatcher  sandbox.Dispatcher
		document    Document
		handshaker  *adapters.Handshaker
		metrics     metrics.Registry
		cfg         *Config
		live        map[*connection]struct{}
		connections sync.WaitGroup
		liveMx      sync.Mutex
		closing     bool
	}
)

var ErrConfiguration = errors.New("bridge misconfigured")

const (
	DefaultHMRPath          = "/__hmr"
	DefaultDocumentPath     = "/index.html"
	DefaultSyntheticBaseURL = "http://base.url"
	defaultPendingMessages  = 64
	originalURLKey          = "originalURL"
	responseChunkSize       = 32 * 1024
	closeGoingAway          = 1001
	closeAbnormal           = 1006
	closeInternalError      = 1011
)

const (
	metricUpgradesIntercepted = "bridge.upgrades.intercepted"
	metricUpgradesAccepted    = "bridge.upgrades.accepted"
	metricUpgradesRejected    = "bridge.upgrades.rejected"
	metricUpgradesFailed      = "bridge.upgrades.failed"
	metricConnectionsLive     = "bridge.connections.live"
	metricRawToSandbox        = "bridge.messages.raw-to-sandbox"
	metricSandboxToRaw        = "bridge.messages.sandbox-to-raw"
	metricFetchAnswered       = "bridge.fetch.answered"
	metricFetchDeclined       = "bridge.fetch.declined"
	metricFetchFailed         = "bridge.fetch.failed"
	metricDispatchUpgradeMs   = "bridge.dispatch.upgrade-ms"
	metricDispatchFetchMs     = "bridge.dispatch.fetch-ms"
)

const (
	stateIntercepted connState = iota
	stateHandshakeCompleted
	stateDispatchPending
	stateBridged
	stateRejected
	stateClosed
)

type (
	connState  uint32
	connection struct {
		raw     adapters.WS
		target  *url.URL
		pending chan sandbox.Message
		stop    chan struct{}
		readErr error
		method  string
		id      string
		headers headers.Headers
		state   atomic.Uint32
	}
	relay struct {
		raw          adapters.WS
		socket       sandbox.Socket
		inbound      <-chan sandbox.Message
		readErr      func() error
		rawToSandbox metrics.Counter
		sandboxToRaw metrics.Counter
		rawOnce      sync.Once
		socketOnce   sync.Once
	}
)
