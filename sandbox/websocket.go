// SPDX-License-Identifier: ice License 1.0

package sandbox

// NewWebSocketPair returns two linked endpoints: the worker keeps server and returns client
// in its Response. Whatever one end sends is received by the other; closing either closes both.
func NewWebSocketPair(buffer int) (client, server *WebSocket) {
	if buffer <= 0 {
		buffer = defaultSocketBuffer
	}
	pair := &pairState{done: make(chan struct{})}
	client = &WebSocket{pair: pair, inbox: make(chan Message, buffer)}
	server = &WebSocket{pair: pair, inbox: make(chan Message, buffer)}
	client.peer, server.peer = server, client

	return client, server
}

func (w *WebSocket) Accept() error {
	if w.Closed() {
		return ErrClosed
	}
	w.accepted.Store(true)

	return nil
}

func (w *WebSocket) Send(msg Message) error {
	if !w.accepted.Load() {
		return ErrNotAccepted
	}
	if w.Closed() {
		return ErrClosed
	}
	select {
	case w.peer.inbox <- msg:
		return nil
	case <-w.pair.done:
		return ErrClosed
	}
}

func (w *WebSocket) SendText(text string) error {
	return w.Send(Message{Type: MessageText, Data: []byte(text)})
}

func (w *WebSocket) Messages() <-chan Message {
	return w.inbox
}

func (w *WebSocket) Done() <-chan struct{} {
	return w.pair.done
}

func (w *WebSocket) Close(code int, reason string) error {
	w.pair.once.Do(func() {
		if code == 0 {
			code = CloseNoStatus
		}
		w.pair.code, w.pair.reason = code, reason
		close(w.pair.done)
	})

	return nil
}

func (w *WebSocket) Closed() bool {
	select {
	case <-w.pair.done:
		return true
	default:
		return false
	}
}

// CloseStatus blocks until the pair is closed.
func (w *WebSocket) CloseStatus() (code int, reason string) {
	<-w.pair.done

	return w.pair.code, w.pair.reason
}
