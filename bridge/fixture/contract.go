// SPDX-License-Identifier: ice License 1.0

// Package fixture provides a raw websocket client for exercising the bridge end to end.
package fixture

import (
	"io"
	"net"
	"sync"
	stdlibtime "time"

	"github.com/gobwas/ws"
)

type (
	Client interface {
		Received
		WriteMessage(messageType int, data []byte) error
		Ping(payload []byte) error
		CloseWithStatus(code int, reason string) error
		Close() error
	}
	Received interface {
		// Received is closed once the server side is gone; Err tells why and is safe to call any time.
		Received() <-chan Message
		Err() error
	}
	Message struct {
		Data   []byte
		OpCode ws.OpCode
	}
)

const (
	defaultTimeout    = 10 * stdlibtime.Second
	receivedQueueSize = 1024
)

type (
	wsocketClient struct {
		conn          net.Conn
		source        io.Reader
		control       func(ws.Header, io.Reader) error
		inputMessages chan Message
		readErr       error
		errMx         sync.RWMutex
		writeMx       sync.Mutex
		closeMx       sync.Mutex
		closed        bool
		closeSent     bool
		writeTimeout  stdlibtime.Duration
	}
)
