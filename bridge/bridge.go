// SPDX-License-Identifier: ice License 1.0

package bridge

import (
	"context"
	"log"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-multierror"
	"github.com/rcrowley/go-metrics"

	"github.com/ice-blockchain/devbridge/bridge/internal/adapters"
	"github.com/ice-blockchain/devbridge/sandbox"
)

// New installs the bridge as the leading middlewares of engine. The engine is the listener the
// bridge is attached to; without it (or without a dispatcher) there is nothing to set up.
// document may be nil: the document path then answers 404 and html navigations reach the
// sandbox under the URL the browser asked for.
func New(engine *gin.Engine, dispatcher sandbox.Dispatcher, document Document, cfg *Config) (*Bridge, error) {
	if engine == nil {
		return nil, errors.Mark(errors.New("http listener (gin engine) is required"), ErrConfiguration)
	}
	if dispatcher == nil {
		return nil, errors.Mark(errors.New("sandbox dispatcher is required"), ErrConfiguration)
	}
	cfg = withDefaults(cfg)
	if cfg.SyntheticBaseURL.Scheme == "" || cfg.SyntheticBaseURL.Host == "" {
		return nil, errors.Mark(errors.Errorf("synthetic base url %q must be absolute", cfg.SyntheticBaseURL.String()), ErrConfiguration)
	}
	b := &Bridge{
		dispatcher: dispatcher,
		document:   document,
		handshaker: adapters.NewHandshaker(cfg.HandshakeTimeout, cfg.ReadTimeout, cfg.WriteTimeout),
		metrics:    metrics.NewRegistry(),
		cfg:        cfg,
		live:       make(map[*connection]struct{}),
	}
	engine.Use(b.intercept, b.htmlFallback, b.serveDocument, b.forward)

	return b, nil
}

func withDefaults(cfg *Config) *Config {
	c := new(Config)
	if cfg != nil {
		*c = *cfg
	}
	if c.HMRPath == "" {
		c.HMRPath = DefaultHMRPath
	}
	if c.DocumentPath == "" {
		c.DocumentPath = DefaultDocumentPath
	}
	if c.PendingMessages <= 0 {
		c.PendingMessages = defaultPendingMessages
	}
	if c.SyntheticBaseURL.Host == "" && c.SyntheticBaseURL.Scheme == "" {
		c.SyntheticBaseURL.Scheme, c.SyntheticBaseURL.Host = "http", "base.url"
	}

	return c
}

func (b *Bridge) Config() Config {
	return *b.cfg
}

func (b *Bridge) Metrics() metrics.Registry {
	return b.metrics
}

// Close tears down every live upgraded connection and waits for their relays to finish, or for
// ctx to be done, whichever comes first.
func (b *Bridge) Close(ctx context.Context) error {
	b.liveMx.Lock()
	b.closing = true
	conns := make([]*connection, 0, len(b.live))
	for conn := range b.live {
		conns = append(conns, conn)
	}
	b.liveMx.Unlock()
	var mErr *multierror.Error
	for _, conn := range conns {
		mErr = multierror.Append(mErr, conn.raw.CloseWithStatus(closeGoingAway, "server shutting down"))
	}
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		b.connections.Wait()
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		mErr = multierror.Append(mErr, errors.Wrapf(ctx.Err(), "%v upgraded connection(s) still pending", b.liveConnections()))
	}
	if err := mErr.ErrorOrNil(); err != nil {
		log.Printf("ERROR:%v", errors.Wrap(err, "failed to close some bridged connections"))

		return err
	}

	return nil
}

func (b *Bridge) liveConnections() int {
	b.liveMx.Lock()
	defer b.liveMx.Unlock()

	return len(b.live)
}

func (b *Bridge) track(conn *connection) bool {
	b.liveMx.Lock()
	if b.closing {
		b.liveMx.Unlock()

		return false
	}
	b.live[conn] = struct{}{}
	b.connections.Add(1)
	b.liveMx.Unlock()
	metrics.GetOrRegisterCounter(metricConnectionsLive, b.metrics).Inc(1)

	return true
}

func (b *Bridge) untrack(conn *connection) {
	b.liveMx.Lock()
	delete(b.live, conn)
	b.liveMx.Unlock()
	metrics.GetOrRegisterCounter(metricConnectionsLive, b.metrics).Dec(1)
	b.connections.Done()
}

func (b *Bridge) count(name string) {
	metrics.GetOrRegisterCounter(name, b.metrics).Inc(1)
}

func (b *Bridge) histogram(name string) metrics.Histogram {
	return metrics.GetOrRegisterHistogram(name, b.metrics, metrics.NewExpDecaySample(1028, 0.015)) //nolint:mnd // Defaults.
}
