// SPDX-License-Identifier: ice License 1.0

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"

	"github.com/ice-blockchain/devbridge/sandbox"
)

type (
	// demoWorker answers /room/:id upgrades and the /api/counter endpoint, declining the rest.
	demoWorker struct {
		rooms map[string]*room
		mx    sync.Mutex
	}
	room struct {
		members map[*sandbox.WebSocket]struct{}
		id      string
		mx      sync.Mutex
	}
)

const (
	roomPrefix       = "/room/"
	counterPath      = "/api/counter"
	counterNamespace = "COUNTER"
	counterKey       = "counter"
	maxCounterBody   = 1 << 16
)

func newDemoWorker() *demoWorker {
	return &demoWorker{rooms: make(map[string]*room)}
}

func (w *demoWorker) Fetch(ctx context.Context, req *http.Request, env *sandbox.Env) (*sandbox.Response, error) {
	switch {
	case strings.HasPrefix(req.URL.Path, roomPrefix) && len(req.URL.Path) > len(roomPrefix):
		if !strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
			return sandbox.TextResponse(http.StatusUpgradeRequired, "expected websocket upgrade"), nil
		}

		return w.join(env, strings.TrimPrefix(req.URL.Path, roomPrefix))
	case req.URL.Path == counterPath:
		return counter(ctx, req, env)
	default:
		return nil, nil //nolint:nilnil // Declined.
	}
}

func (w *demoWorker) join(env *sandbox.Env, id string) (*sandbox.Response, error) {
	client, server := env.NewWebSocketPair()
	if err := server.Accept(); err != nil {
		return nil, errors.Wrapf(err, "failed to accept websocket for room %v", id)
	}
	w.mx.Lock()
	r, found := w.rooms[id]
	if !found {
		r = &room{id: id, members: make(map[*sandbox.WebSocket]struct{})}
		w.rooms[id] = r
	}
	r.mx.Lock()
	r.members[server] = struct{}{}
	r.mx.Unlock()
	w.mx.Unlock()
	go w.serve(r, server)

	return sandbox.UpgradeResponse(client), nil
}

func (w *demoWorker) serve(r *room, member *sandbox.WebSocket) {
	defer w.leave(r, member)
	for {
		select {
		case msg := <-member.Messages():
			r.handle(member, msg)
		case <-member.Done():
			return
		}
	}
}

func (w *demoWorker) leave(r *room, member *sandbox.WebSocket) {
	w.mx.Lock()
	defer w.mx.Unlock()
	r.mx.Lock()
	delete(r.members, member)
	empty := len(r.members) == 0
	r.mx.Unlock()
	if empty {
		delete(w.rooms, r.id)
	}
}

// handle answers "ping" with "pong" and {"type":"count"} with the room size; anything else is
// broadcast to the other members.
func (r *room) handle(sender *sandbox.WebSocket, msg sandbox.Message) {
	if msg.Type == sandbox.MessageText {
		switch {
		case string(msg.Data) == "ping":
			_ = sender.SendText("pong") //nolint:errcheck // Sender may be gone.

			return
		case gjson.ValidBytes(msg.Data) && gjson.GetBytes(msg.Data, "type").String() == "count":
			_ = sender.SendText(fmt.Sprintf(`{"type":"count","room":%q,"members":%v}`, r.id, r.size())) //nolint:errcheck // .

			return
		}
	}
	for _, member := range r.others(sender) {
		_ = member.Send(msg) //nolint:errcheck // Member may be gone.
	}
}

func (r *room) size() int {
	r.mx.Lock()
	defer r.mx.Unlock()

	return len(r.members)
}

func (r *room) others(sender *sandbox.WebSocket) []*sandbox.WebSocket {
	r.mx.Lock()
	defer r.mx.Unlock()
	members := make([]*sandbox.WebSocket, 0, len(r.members))
	for member := range r.members {
		if member != sender {
			members = append(members, member)
		}
	}

	return members
}

// counter reads the value on GET and adds `by` (default 1) from the json body on POST.
func counter(_ context.Context, req *http.Request, env *sandbox.Env) (*sandbox.Response, error) {
	kv, bound := env.KV(counterNamespace)
	if !bound {
		return sandbox.TextResponse(http.StatusServiceUnavailable, "kv namespace "+counterNamespace+" is not bound"), nil
	}
	var (
		value []byte
		err   error
	)
	switch req.Method {
	case http.MethodGet:
		if value, _, err = kv.Get(counterKey); err != nil {
			return nil, errors.Wrap(err, "failed to read counter")
		}
	case http.MethodPost:
		body, rErr := io.ReadAll(io.LimitReader(req.Body, maxCounterBody))
		if rErr != nil {
			return nil, errors.Wrap(rErr, "failed to read counter request")
		}
		by := int64(1)
		if gjson.ValidBytes(body) {
			if delta := gjson.GetBytes(body, "by"); delta.Exists() {
				by = delta.Int()
			}
		}
		value, err = kv.Update(counterKey, func(old []byte, _ bool) ([]byte, error) {
			current, pErr := parseCounter(old)
			if pErr != nil {
				return nil, pErr
			}

			return []byte(strconv.FormatInt(current+by, 10)), nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to update counter")
		}
	default:
		return sandbox.TextResponse(http.StatusMethodNotAllowed, "use GET or POST"), nil
	}
	current, err := parseCounter(value)
	if err != nil {
		return nil, err
	}

	return sandbox.NewResponse(http.StatusOK, "application/json", []byte(fmt.Sprintf(`{"value":%v}`, current))), nil
}

func parseCounter(raw []byte) (int64, error) {
	if len(raw) == 0 {
		return 0, nil
	}
	value, err := strconv.ParseInt(string(raw), 10, 64)

	return value, errors.Wrapf(err, "corrupted counter %q", raw)
}
