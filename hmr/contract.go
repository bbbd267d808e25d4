// SPDX-License-Identifier: ice License 1.0

// Package hmr owns the reserved live-reload channel: browsers connect to it and are told to
// reload whenever the served document changes.
package hmr

import (
	"io"
	"net"
	"sync"
	stdlibtime "time"

	"github.com/gobwas/ws"
)

type (
	//easyjson:json
	Payload struct {
		Type string `json:"type"`
		Path string `json:"path,omitempty"`
	}
	Hub struct {
		clients  map[*client]struct{}
		upgrader ws.HTTPUpgrader
		wg       sync.WaitGroup
		mx       sync.Mutex
		closed   bool
	}
)

const (
	TypeConnected  = "connected"
	TypeFullReload = "full-reload"
	writeTimeout   = 5 * stdlibtime.Second
)

type (
	client struct {
		conn    net.Conn
		reader  io.Reader
		writeMx sync.Mutex
	}
	stream struct {
		io.Reader
		io.Writer
	}
)
