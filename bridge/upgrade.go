// SPDX-License-Identifier: ice License 1.0

package bridge

import (
	"bytes"
	"context"
	"log"
	"net/http"
	"net/url"
	"strings"
	stdlibtime "time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/gobwas/httphead"
	"github.com/gobwas/ws"
	"github.com/google/uuid"

	"github.com/ice-blockchain/devbridge/headers"
	"github.com/ice-blockchain/devbridge/sandbox"
)

// intercept owns every websocket upgrade except the reserved hmr channel: it completes the
// handshake itself and never lets the request reach the rest of the chain.
func (b *Bridge) intercept(c *gin.Context) {
	if !isWebsocketUpgrade(c.Request) {
		return
	}
	target := b.cfg.SyntheticBaseURL.ResolveReference(&url.URL{
		Path:     c.Request.URL.Path,
		RawPath:  c.Request.URL.RawPath,
		RawQuery: c.Request.URL.RawQuery,
	})
	if target.Path == b.cfg.HMRPath {
		return
	}
	c.Abort()
	b.count(metricUpgradesIntercepted)
	conn := &connection{
		id:      uuid.NewString(),
		method:  c.Request.Method,
		target:  target,
		headers: headers.Normalize(headers.FromHTTP(c.Request.Header)),
		pending: make(chan sandbox.Message, b.cfg.PendingMessages),
		stop:    make(chan struct{}),
	}
	raw, err := b.handshaker.Complete(c.Writer, c.Request)
	if err != nil {
		b.count(metricUpgradesFailed)
		conn.transition(stateClosed)
		log.Printf("WARN: %v", err)

		return
	}
	conn.raw = raw
	conn.transition(stateHandshakeCompleted)
	b.serve(c.Request.Context(), conn)
}

func (b *Bridge) serve(ctx context.Context, conn *connection) {
	defer conn.transition(stateClosed)
	if !b.track(conn) {
		_ = conn.raw.CloseWithStatus(closeGoingAway, "server shutting down") //nolint:errcheck // Best effort.

		return
	}
	defer b.untrack(conn)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer cancel()
		conn.read()
	}()
	conn.transition(stateDispatchPending)
	resp, err := b.dispatchUpgrade(ctx, conn)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close() //nolint:errcheck // Upgrade responses carry no meaningful body.
	}
	if err != nil || resp == nil || resp.WebSocket == nil {
		b.reject(conn, err)
	} else if conn.transition(stateBridged) {
		b.count(metricUpgradesAccepted)
		if rErr := b.newRelay(conn, resp.WebSocket).run(); rErr != nil {
			log.Printf("ERROR:%v", errors.Wrapf(rErr, "relay for %v %v(%v) failed", conn.method, conn.target, conn.id))
		}
	}
	close(conn.stop)
	<-readerDone
}

func (b *Bridge) dispatchUpgrade(ctx context.Context, conn *connection) (*sandbox.Response, error) {
	req, err := newSyntheticRequest(ctx, conn.method, conn.target.String(), conn.headers)
	if err != nil {
		return nil, err
	}
	start := stdlibtime.Now()
	defer func() {
		b.histogram(metricDispatchUpgradeMs).Update(stdlibtime.Since(start).Milliseconds())
	}()

	return b.dispatcher.DispatchUpgrade(ctx, req) //nolint:wrapcheck // Marked by the sandbox.
}

// reject tears the raw socket down without a close frame. Declines and dispatches cancelled by
// a departed client are expected outcomes and stay quiet.
func (b *Bridge) reject(conn *connection, err error) {
	conn.transition(stateRejected)
	if err == nil || errors.Is(err, context.Canceled) {
		b.count(metricUpgradesRejected)
	} else {
		b.count(metricUpgradesFailed)
		log.Printf("ERROR:%v", errors.Wrapf(err, "upgrade dispatch for %v %v(%v) failed", conn.method, conn.target, conn.id))
	}
	if err = conn.raw.Destroy(); err != nil {
		log.Printf("ERROR:%v", errors.Wrapf(err, "failed to destroy rejected connection %v", conn.id))
	}
}

// read pumps raw frames into pending until the raw side ends or the connection is stopped.
// Frames read before the sandbox answers wait in pending; rejection drops them.
func (c *connection) read() {
	defer close(c.pending)
	for {
		typ, data, err := c.raw.ReadMessage()
		if err != nil {
			c.readErr = err

			return
		}
		msg := sandbox.Message{Type: sandbox.MessageText, Data: data}
		if ws.OpCode(typ) == ws.OpBinary { //nolint:gosec // Opcodes are 4 bit.
			msg.Type = sandbox.MessageBinary
		}
		select {
		case c.pending <- msg:
		case <-c.stop:
			return
		}
	}
}

func (c *connection) current() connState {
	return connState(c.state.Load())
}

func (c *connection) transition(to connState) bool {
	for {
		from := c.current()
		if !from.allows(to) {
			return false
		}
		if c.state.CompareAndSwap(uint32(from), uint32(to)) {
			return true
		}
	}
}

func (s connState) allows(to connState) bool {
	switch s {
	case stateIntercepted:
		return to == stateHandshakeCompleted || to == stateClosed
	case stateHandshakeCompleted:
		return to == stateDispatchPending || to == stateClosed
	case stateDispatchPending:
		return to == stateBridged || to == stateRejected || to == stateClosed
	case stateBridged, stateRejected:
		return to == stateClosed
	default:
		return false
	}
}

func (s connState) String() string {
	switch s {
	case stateIntercepted:
		return "intercepted"
	case stateHandshakeCompleted:
		return "handshake-completed"
	case stateDispatchPending:
		return "dispatch-pending"
	case stateBridged:
		return "bridged"
	case stateRejected:
		return "rejected"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func newSyntheticRequest(ctx context.Context, method, rawURL string, hdr headers.Headers) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, http.NoBody)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build synthetic request for %v %v", method, rawURL)
	}
	req.Header = hdr.HTTPHeader()

	return req, nil
}

func isWebsocketUpgrade(req *http.Request) bool {
	if !strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
		return false
	}
	for _, value := range req.Header.Values("Connection") {
		upgrade := false
		httphead.ScanTokens([]byte(value), func(token []byte) bool {
			upgrade = bytes.EqualFold(token, []byte("upgrade"))

			return !upgrade
		})
		if upgrade {
			return true
		}
	}

	return false
}
