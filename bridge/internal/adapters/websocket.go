// SPDX-License-Identifier: ice License 1.0

package adapters

import (
	"bufio"
	"io"
	"net"
	"net/http"
	stdlibtime "time"

	"github.com/cockroachdb/errors"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

func NewHandshaker(handshakeTimeout, readTimeout, writeTimeout stdlibtime.Duration) *Handshaker {
	return &Handshaker{
		upgrader: ws.HTTPUpgrader{
			Timeout:  handshakeTimeout,
			Protocol: func(string) bool { return true },
		},
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// Complete performs the handshake directly on the request's connection. The returned adapter
// also owns whatever bytes the server already buffered past the request headers.
func (h *Handshaker) Complete(writer http.ResponseWriter, req *http.Request) (*WebsocketAdapter, error) {
	conn, rw, _, err := h.upgrader.Upgrade(req, writer)
	if err != nil {
		if conn != nil {
			_ = conn.Close() //nolint:errcheck // Already failing.
		}

		return nil, errors.Wrapf(err, "websocket handshake failed for %v", req.URL)
	}
	var reader *bufio.Reader
	if rw != nil {
		reader = rw.Reader
	}

	return NewWebSocketAdapter(conn, reader, h.readTimeout, h.writeTimeout), nil
}

func NewWebSocketAdapter(conn net.Conn, reader *bufio.Reader, readTimeout, writeTimeout stdlibtime.Duration) *WebsocketAdapter {
	if reader == nil {
		reader = bufio.NewReader(conn)
	}
	w := &WebsocketAdapter{
		conn:         conn,
		reader:       reader,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
	w.control = wsutil.ControlFrameHandler(&lockedWriter{w: w}, ws.StateServerSide)

	return w
}

// ReadMessage returns the next text or binary message. Pings are answered and a close frame
// is echoed before a wsutil.ClosedError is returned.
func (w *WebsocketAdapter) ReadMessage() (messageType int, data []byte, err error) {
	rd := wsutil.Reader{
		Source:         w.reader,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: w.control,
	}
	for {
		if w.readTimeout > 0 {
			_ = w.conn.SetReadDeadline(stdlibtime.Now().Add(w.readTimeout)) //nolint:errcheck // .
		}
		hdr, err := rd.NextFrame()
		if err != nil {
			return 0, nil, err //nolint:wrapcheck // Callers inspect close errors.
		}
		if hdr.OpCode.IsControl() {
			if err = w.control(hdr, &rd); err != nil {
				if hdr.OpCode == ws.OpClose {
					w.closeMx.Lock()
					w.closeSent = true
					w.closeMx.Unlock()
				}

				return 0, nil, err //nolint:wrapcheck // Callers inspect close errors.
			}

			continue
		}
		if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
			if err = rd.Discard(); err != nil {
				return 0, nil, errors.Wrap(err, "failed to discard frame")
			}

			continue
		}
		data, err = io.ReadAll(&rd)

		return int(hdr.OpCode), data, errors.Wrap(err, "failed to read message")
	}
}

// WriteMessage is a no-op once a close frame was exchanged or the socket is closed.
func (w *WebsocketAdapter) WriteMessage(messageType int, data []byte) error {
	w.closeMx.Lock()
	closing := w.closed || w.closeSent
	w.closeMx.Unlock()
	if closing {
		return nil
	}
	w.writeMx.Lock()
	defer w.writeMx.Unlock()
	w.setWriteDeadline()

	return errors.Wrap(wsutil.WriteServerMessage(w.conn, ws.OpCode(messageType), data), "failed to write websocket message")
}

// CloseWithStatus sends a close frame (unless one was already exchanged) and closes the socket.
// The close frame is best effort: the peer may already be gone. Reserved codes that must not
// appear on the wire are sent as a normal closure.
func (w *WebsocketAdapter) CloseWithStatus(code int, reason string) error {
	w.closeMx.Lock()
	if w.closed {
		w.closeMx.Unlock()

		return nil
	}
	sendFrame := !w.closeSent
	w.closeSent = true
	w.closeMx.Unlock()
	if sendFrame {
		status := ws.StatusCode(code) //nolint:gosec // Close codes are 16 bit.
		if status.Empty() || status.IsProtocolReserved() {
			status = ws.StatusNormalClosure
		}
		w.writeMx.Lock()
		w.setWriteDeadline()
		_ = ws.WriteFrame(w.conn, ws.NewCloseFrame(ws.NewCloseFrameBody(status, reason))) //nolint:errcheck // Best effort.
		w.writeMx.Unlock()
	}

	return w.Close()
}

// Destroy drops the connection without any close handshake.
func (w *WebsocketAdapter) Destroy() error {
	return w.Close()
}

func (w *WebsocketAdapter) Close() error {
	w.closeMx.Lock()
	if w.closed {
		w.closeMx.Unlock()

		return nil
	}
	w.closed = true
	w.closeMx.Unlock()
	if err := w.conn.Close(); err != nil && !isConnClosedErr(err) {
		return errors.Wrap(err, "failed to close websocket conn")
	}

	return nil
}

func (w *WebsocketAdapter) Closed() bool {
	w.closeMx.Lock()
	closed := w.closed
	w.closeMx.Unlock()

	return closed
}

func (w *WebsocketAdapter) RemoteAddr() net.Addr {
	return w.conn.RemoteAddr()
}

func (w *WebsocketAdapter) setWriteDeadline() {
	if w.writeTimeout > 0 {
		_ = w.conn.SetWriteDeadline(stdlibtime.Now().Add(w.writeTimeout)) //nolint:errcheck // .
	}
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.w.writeMx.Lock()
	defer l.w.writeMx.Unlock()
	l.w.setWriteDeadline()

	return l.w.conn.Write(p) //nolint:wrapcheck // Proxy.
}

func isConnClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe)
}
