// SPDX-License-Identifier: ice License 1.0

package hmr

import (
	"log"
	"net"
	"sync"
	stdlibtime "time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/hashicorp/go-multierror"
	"github.com/mailru/easyjson"
)

func New() *Hub {
	return &Hub{
		clients:  make(map[*client]struct{}),
		upgrader: ws.HTTPUpgrader{Timeout: writeTimeout},
	}
}

// Handle upgrades the request and keeps the connection registered until the browser leaves.
func (h *Hub) Handle(c *gin.Context) {
	conn, rw, _, err := h.upgrader.Upgrade(c.Request, c.Writer)
	if err != nil {
		if conn != nil {
			_ = conn.Close() //nolint:errcheck // Already failing.
		}
		log.Printf("ERROR:%v", errors.Wrap(err, "hmr upgrade failed"))
		c.Abort()

		return
	}
	c.Abort()
	cl := &client{conn: conn, reader: conn}
	if rw != nil {
		cl.reader = rw.Reader
	}
	if !h.register(cl) {
		_ = cl.close() //nolint:errcheck // Hub is closed anyway.

		return
	}
	defer h.wg.Done()
	if err = cl.send(Payload{Type: TypeConnected}); err != nil {
		log.Printf("WARN: %v", err)
	}
	for {
		if _, _, err = wsutil.ReadClientData(stream{Reader: cl.reader, Writer: cl}); err != nil {
			break
		}
	}
	h.unregister(cl)
	if err = cl.close(); err != nil {
		log.Printf("ERROR:%v", err)
	}
}

// Reload asks every connected browser to reload the whole page.
func (h *Hub) Reload(path string) error {
	return h.Broadcast(Payload{Type: TypeFullReload, Path: path})
}

func (h *Hub) Broadcast(payload Payload) error {
	h.mx.Lock()
	clients := make([]*client, 0, len(h.clients))
	for cl := range h.clients {
		clients = append(clients, cl)
	}
	h.mx.Unlock()
	var (
		mErr   *multierror.Error
		mErrMx sync.Mutex
		wg     sync.WaitGroup
	)
	wg.Add(len(clients))
	for _, cl := range clients {
		go func() {
			defer wg.Done()
			if err := cl.send(payload); err != nil {
				mErrMx.Lock()
				mErr = multierror.Append(mErr, err)
				mErrMx.Unlock()
			}
		}()
	}
	wg.Wait()

	return mErr.ErrorOrNil()
}

func (h *Hub) Clients() int {
	h.mx.Lock()
	defer h.mx.Unlock()

	return len(h.clients)
}

// Close says goodbye to every browser and waits for their handlers to return.
func (h *Hub) Close() error {
	h.mx.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for cl := range h.clients {
		clients = append(clients, cl)
	}
	h.mx.Unlock()
	var mErr *multierror.Error
	for _, cl := range clients {
		mErr = multierror.Append(mErr, cl.goAway())
	}
	h.wg.Wait()

	return mErr.ErrorOrNil()
}

func (h *Hub) register(cl *client) bool {
	h.mx.Lock()
	defer h.mx.Unlock()
	if h.closed {
		return false
	}
	h.clients[cl] = struct{}{}
	h.wg.Add(1)

	return true
}

func (h *Hub) unregister(cl *client) {
	h.mx.Lock()
	delete(h.clients, cl)
	h.mx.Unlock()
}

func (cl *client) send(payload Payload) error {
	data, err := easyjson.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %#v", payload)
	}
	cl.writeMx.Lock()
	defer cl.writeMx.Unlock()
	_ = cl.conn.SetWriteDeadline(stdlibtime.Now().Add(writeTimeout)) //nolint:errcheck // .

	return errors.Wrap(wsutil.WriteServerMessage(cl.conn, ws.OpText, data), "failed to write hmr payload")
}

func (cl *client) goAway() error {
	cl.writeMx.Lock()
	_ = cl.conn.SetWriteDeadline(stdlibtime.Now().Add(writeTimeout)) //nolint:errcheck // .
	_ = ws.WriteFrame(cl.conn, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusGoingAway, ""))) //nolint:errcheck // Best effort.
	cl.writeMx.Unlock()

	return cl.close()
}

func (cl *client) close() error {
	if err := cl.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return errors.Wrap(err, "failed to close hmr conn")
	}

	return nil
}

// Write serializes control frame answers with broadcasts.
func (cl *client) Write(p []byte) (int, error) {
	cl.writeMx.Lock()
	defer cl.writeMx.Unlock()

	return cl.conn.Write(p) //nolint:wrapcheck // Proxy.
}
