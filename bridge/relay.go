// SPDX-License-Identifier: ice License 1.0

package bridge

import (
	"io"
	"log"
	"net"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/hashicorp/go-multierror"
	"github.com/rcrowley/go-metrics"

	"github.com/ice-blockchain/devbridge/sandbox"
)

func (b *Bridge) newRelay(conn *connection, socket sandbox.Socket) *relay {
	return &relay{
		raw:     conn.raw,
		socket:  socket,
		inbound: conn.pending,
		readErr: func() error {
			return conn.readErr
		},
		rawToSandbox: metrics.GetOrRegisterCounter(metricRawToSandbox, b.metrics),
		sandboxToRaw: metrics.GetOrRegisterCounter(metricSandboxToRaw, b.metrics),
	}
}

// run pumps both directions until both sides are closed. Whichever side closes first, the
// other one is closed exactly once with the first side's close code.
func (r *relay) run() error {
	if err := r.socket.Accept(); err != nil {
		return multierror.Append(
			errors.Wrap(err, "failed to accept sandbox websocket"),
			r.closeSocket(closeInternalError, ""),
			r.closeRaw(closeInternalError, "sandbox websocket unavailable"),
			r.drainInbound(),
		).ErrorOrNil()
	}
	errs := make([]error, 2) //nolint:mnd // One per direction.
	var wg sync.WaitGroup
	wg.Add(len(errs))
	go func() {
		defer wg.Done()
		errs[0] = r.toSandbox()
	}()
	go func() {
		defer wg.Done()
		errs[1] = r.toRaw()
	}()
	wg.Wait()

	return multierror.Append(nil, errs...).ErrorOrNil()
}

// toSandbox keeps consuming inbound even after the sandbox went away, so the raw reader is
// never left blocked; it ends only when the raw side does.
func (r *relay) toSandbox() error {
	var sendErr error
	for msg := range r.inbound {
		if sendErr != nil {
			continue
		}
		if sendErr = r.socket.Send(msg); sendErr != nil {
			if !errors.Is(sendErr, sandbox.ErrClosed) {
				sendErr = multierror.Append(
					errors.Wrap(sendErr, "failed to relay message to sandbox"),
					r.closeSocket(closeInternalError, ""),
					r.closeRaw(closeInternalError, ""),
				).ErrorOrNil()
			}

			continue
		}
		r.rawToSandbox.Inc(1)
	}
	code, reason := rawCloseStatus(r.readErr())
	closeErr := r.closeSocket(code, reason)
	if errors.Is(sendErr, sandbox.ErrClosed) {
		sendErr = nil
	}

	return multierror.Append(sendErr, closeErr).ErrorOrNil()
}

func (r *relay) toRaw() error {
	messages, done := r.socket.Messages(), r.socket.Done()
	for {
		select {
		case msg := <-messages:
			if err := r.write(msg); err != nil {
				log.Printf("WARN: %v", err)

				return multierror.Append(r.closeSocket(closeAbnormal, ""), r.closeRaw(closeAbnormal, "")).ErrorOrNil()
			}
		case <-done:
			r.socketOnce.Do(func() {})
			if err := r.drain(messages); err != nil {
				log.Printf("WARN: %v", err)

				return r.closeRaw(closeAbnormal, "")
			}

			return r.closeRaw(r.socket.CloseStatus())
		}
	}
}

func (r *relay) drain(messages <-chan sandbox.Message) error {
	for {
		select {
		case msg := <-messages:
			if err := r.write(msg); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (r *relay) drainInbound() error {
	for range r.inbound { //nolint:revive // Discarding.
	}

	return nil
}

func (r *relay) write(msg sandbox.Message) error {
	op := ws.OpText
	if msg.Type == sandbox.MessageBinary {
		op = ws.OpBinary
	}
	if err := r.raw.WriteMessage(int(op), msg.Data); err != nil {
		return errors.Wrap(err, "failed to relay message to raw websocket")
	}
	r.sandboxToRaw.Inc(1)

	return nil
}

func (r *relay) closeSocket(code int, reason string) (err error) {
	r.socketOnce.Do(func() {
		err = errors.Wrap(r.socket.Close(code, reason), "failed to close sandbox websocket")
	})

	return err
}

func (r *relay) closeRaw(code int, reason string) (err error) {
	r.rawOnce.Do(func() {
		err = errors.Wrap(r.raw.CloseWithStatus(code, reason), "failed to close raw websocket")
	})

	return err
}

func rawCloseStatus(err error) (code int, reason string) {
	closed := new(wsutil.ClosedError)
	if errors.As(err, closed) {
		switch closed.Code { //nolint:exhaustive // Only the unexpected ones are logged.
		case ws.StatusNormalClosure, ws.StatusGoingAway, ws.StatusAbnormalClosure, ws.StatusNoStatusRcvd:
		default:
			log.Printf("WARN: unexpected close code %v: %v", closed.Code, closed.Reason)
		}

		return int(closed.Code), closed.Reason
	}
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
		log.Printf("WARN: raw websocket read ended: %v", err)
	}

	return closeAbnormal, ""
}
