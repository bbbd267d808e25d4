// SPDX-License-Identifier: ice License 1.0

// Package sandbox is the isolated request-dispatch runtime the bridge forwards traffic to.
// Its only surface is Request/Response shaped: a worker receives an *http.Request and answers
// with a Response that may carry an abstract WebSocket endpoint instead of a raw socket.
package sandbox

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/syndtr/goleveldb/leveldb"
)

type (
	// Dispatcher is the sole call surface into the sandbox.
	Dispatcher interface {
		// DispatchFetch returns handled == false when the sandbox declines the request;
		// the caller is the one that continues with the next handler.
		DispatchFetch(ctx context.Context, req *http.Request) (resp *Response, handled bool, err error)
		// DispatchUpgrade answers an upgrade intent. A response without WebSocket is a rejection.
		DispatchUpgrade(ctx context.Context, req *http.Request) (*Response, error)
	}
	Worker interface {
		// Fetch returns a nil response when the request is not the worker's to answer.
		Fetch(ctx context.Context, req *http.Request, env *Env) (*Response, error)
	}
	WorkerFunc func(ctx context.Context, req *http.Request, env *Env) (*Response, error)

	// Socket is an abstract WebSocket endpoint, not backed by a network connection.
	Socket interface {
		// Accept must be called before the endpoint sends anything.
		Accept() error
		Send(msg Message) error
		Messages() <-chan Message
		// Done is closed once, when either end of the pair closes.
		Done() <-chan struct{}
		// Close is idempotent.
		Close(code int, reason string) error
		// CloseStatus reports the code and reason of the first Close; it waits for Done.
		CloseStatus() (code int, reason string)
	}
	MessageType int
	Message     struct {
		Data []byte
		Type MessageType
	}
	Response struct {
		Header     http.Header
		Body       io.ReadCloser
		WebSocket  Socket
		StatusCode int
	}
	Env struct {
		Vars         map[string]string
		kv           map[string]*KV
		socketBuffer int
	}
	KV struct {
		db   *leveldb.DB
		name string
	}
	WebSocket struct {
		peer     *WebSocket
		pair     *pairState
		inbox    chan Message
		accepted atomic.Bool
	}
	Config struct {
		Vars         map[string]string `yaml:"vars"`
		KVPath       string            `yaml:"kvPath"`
		KVNamespaces []string          `yaml:"kvNamespaces"`
		SocketBuffer int               `yaml:"socketBuffer"`
	}
	Runtime struct {
		worker Worker
		env    *Env
	}
)

const (
	MessageText MessageType = iota + 1
	MessageBinary
)

const (
	CloseNormal          = 1000
	CloseNoStatus        = 1005
	defaultSocketBuffer  = 16
	StatusSwitchProtocol = http.StatusSwitchingProtocols
)

var (
	ErrDispatch    = errors.New("sandbox dispatch failed")
	ErrNotAccepted = errors.New("websocket not accepted")
	ErrClosed      = errors.New("websocket closed")
)

type (
	pairState struct {
		done   chan struct{}
		reason string
		once   sync.Once
		code   int
	}
)
