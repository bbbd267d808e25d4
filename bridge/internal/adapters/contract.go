// SPDX-License-Identifier: ice License 1.0

package adapters

import (
	"bufio"
	"io"
	"net"
	"sync"
	stdlibtime "time"

	"github.com/gobwas/ws"
)

type (
	WSReader interface {
		ReadMessage() (messageType int, p []byte, err error)
		io.Closer
	}
	WSWriter interface {
		WriteMessage(messageType int, data []byte) error
		io.Closer
	}
	WS interface {
		WSWriter
		WSReader
		CloseWithStatus(code int, reason string) error
		Destroy() error
	}
	// Handshaker completes upgrades on hijacked connections; it does not route.
	Handshaker struct {
		upgrader     ws.HTTPUpgrader
		readTimeout  stdlibtime.Duration
		writeTimeout stdlibtime.Duration
	}

	WebsocketAdapter struct {
		conn         net.Conn
		reader       *bufio.Reader
		control      func(ws.Header, io.Reader) error
		writeMx      sync.Mutex
		closeMx      sync.Mutex
		closed       bool
		closeSent    bool
		writeTimeout stdlibtime.Duration
		readTimeout  stdlibtime.Duration
	}
)

type (
	lockedWriter struct {
		w *WebsocketAdapter
	}
)
