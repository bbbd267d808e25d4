// SPDX-License-Identifier: ice License 1.0

package fixture

import (
	"context"
	"io"
	"net/http"
	stdlibtime "time"

	"github.com/cockroachdb/errors"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

func NewWebsocketClient(ctx context.Context, url string, header http.Header) (Client, error) {
	dialer := ws.Dialer{Timeout: defaultTimeout}
	if header != nil {
		dialer.Header = ws.HandshakeHeaderHTTP(header)
	}
	conn, br, _, err := dialer.Dial(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %v", url)
	}
	client := &wsocketClient{
		conn:          conn,
		source:        conn,
		inputMessages: make(chan Message, receivedQueueSize),
		writeTimeout:  defaultTimeout,
	}
	if br != nil {
		client.source = br
	}
	client.control = wsutil.ControlFrameHandler(client, ws.StateClientSide)
	go client.read()

	return client, nil
}

func (c *wsocketClient) Received() <-chan Message {
	return c.inputMessages
}

// Err is nil while the connection is being read.
func (c *wsocketClient) Err() error {
	c.errMx.RLock()
	defer c.errMx.RUnlock()

	return c.readErr
}

func (c *wsocketClient) fail(err error) {
	c.errMx.Lock()
	c.readErr = err
	c.errMx.Unlock()
}

func (c *wsocketClient) read() {
	defer close(c.inputMessages)
	rd := wsutil.Reader{
		Source:         c.source,
		State:          ws.StateClientSide,
		CheckUTF8:      true,
		OnIntermediate: c.handleControl,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			c.fail(err)

			return
		}
		if hdr.OpCode.IsControl() {
			if err = c.handleControl(hdr, &rd); err != nil {
				c.fail(err)

				return
			}

			continue
		}
		data, err := io.ReadAll(&rd)
		if err != nil {
			c.fail(err)

			return
		}
		c.inputMessages <- Message{OpCode: hdr.OpCode, Data: data}
	}
}

func (c *wsocketClient) handleControl(hdr ws.Header, r io.Reader) error {
	switch hdr.OpCode { //nolint:exhaustive // Everything else goes to the default handler.
	case ws.OpPong:
		payload, err := io.ReadAll(r)
		if err != nil {
			return errors.Wrap(err, "failed to read pong")
		}
		c.inputMessages <- Message{OpCode: ws.OpPong, Data: payload}

		return nil
	case ws.OpClose:
		c.closeMx.Lock()
		answered := c.closeSent
		c.closeSent = true
		c.closeMx.Unlock()
		payload, err := io.ReadAll(r)
		if err != nil {
			return errors.Wrap(err, "failed to read close frame")
		}
		code, reason := ws.StatusNoStatusRcvd, ""
		if len(payload) > 0 {
			code, reason = ws.ParseCloseFrameData(payload)
		}
		if !answered {
			var body []byte
			if code != ws.StatusNoStatusRcvd {
				body = ws.NewCloseFrameBody(code, "")
			}
			c.writeMx.Lock()
			c.setWriteDeadline()
			_ = ws.WriteFrame(c.conn, ws.MaskFrame(ws.NewCloseFrame(body))) //nolint:errcheck // The server may be gone already.
			c.writeMx.Unlock()
		}

		return wsutil.ClosedError{Code: code, Reason: reason}
	}

	return c.control(hdr, r)
}

func (c *wsocketClient) WriteMessage(messageType int, data []byte) error {
	c.writeMx.Lock()
	defer c.writeMx.Unlock()
	c.setWriteDeadline()

	return errors.Wrap(wsutil.WriteClientMessage(c.conn, ws.OpCode(messageType), data), "failed to write message")
}

func (c *wsocketClient) Ping(payload []byte) error {
	c.writeMx.Lock()
	defer c.writeMx.Unlock()
	c.setWriteDeadline()

	return errors.Wrap(ws.WriteFrame(c.conn, ws.MaskFrame(ws.NewPingFrame(payload))), "failed to write ping")
}

// CloseWithStatus starts the closing handshake; the connection itself is closed by Close.
func (c *wsocketClient) CloseWithStatus(code int, reason string) error {
	c.closeMx.Lock()
	c.closeSent = true
	c.closeMx.Unlock()
	c.writeMx.Lock()
	defer c.writeMx.Unlock()
	c.setWriteDeadline()
	frame := ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusCode(code), reason)) //nolint:gosec // Close codes are 16 bit.

	return errors.Wrap(ws.WriteFrame(c.conn, ws.MaskFrame(frame)), "failed to write close frame")
}

func (c *wsocketClient) Close() error {
	c.closeMx.Lock()
	defer c.closeMx.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	return errors.Wrap(c.conn.Close(), "failed to close conn")
}

// Write lets the default control handler answer pings and close frames under the write lock.
func (c *wsocketClient) Write(p []byte) (int, error) {
	c.writeMx.Lock()
	defer c.writeMx.Unlock()
	c.setWriteDeadline()

	return c.conn.Write(p) //nolint:wrapcheck // Proxy.
}

func (c *wsocketClient) setWriteDeadline() {
	_ = c.conn.SetWriteDeadline(stdlibtime.Now().Add(c.writeTimeout)) //nolint:errcheck // .
}
