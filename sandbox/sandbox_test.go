// SPDX-License-Identifier: ice License 1.0

package sandbox

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	stdlibtime "time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDeadline = 5 * stdlibtime.Second

func TestWebSocketPair(t *testing.T) {
	t.Parallel()
	client, server := NewWebSocketPair(4)
	require.ErrorIs(t, server.SendText("early"), ErrNotAccepted)
	require.NoError(t, server.Accept())
	require.NoError(t, client.Accept())

	require.NoError(t, server.SendText("hello"))
	require.NoError(t, client.Send(Message{Type: MessageBinary, Data: []byte{1, 2, 3}}))
	select {
	case msg := <-client.Messages():
		assert.Equal(t, Message{Type: MessageText, Data: []byte("hello")}, msg)
	case <-stdlibtime.After(testDeadline):
		t.Fatal("client did not receive message")
	}
	select {
	case msg := <-server.Messages():
		assert.Equal(t, Message{Type: MessageBinary, Data: []byte{1, 2, 3}}, msg)
	case <-stdlibtime.After(testDeadline):
		t.Fatal("server did not receive message")
	}

	require.NoError(t, client.Close(4000, "bye"))
	require.NoError(t, client.Close(CloseNormal, "again"))
	require.NoError(t, server.Close(CloseNormal, "and again"))
	<-server.Done()
	code, reason := server.CloseStatus()
	assert.Equal(t, 4000, code)
	assert.Equal(t, "bye", reason)
	require.ErrorIs(t, server.SendText("late"), ErrClosed)
	require.ErrorIs(t, client.Accept(), ErrClosed)
}

func TestWebSocketPairSendUnblocksOnClose(t *testing.T) {
	t.Parallel()
	client, server := NewWebSocketPair(1)
	require.NoError(t, server.Accept())
	require.NoError(t, server.SendText("fills buffer"))
	errCh := make(chan error, 1)
	go func() { errCh <- server.SendText("blocks") }()
	require.NoError(t, client.Close(0, ""))
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrClosed)
	case <-stdlibtime.After(testDeadline):
		t.Fatal("send stayed blocked after close")
	}
	code, _ := client.CloseStatus()
	assert.Equal(t, CloseNoStatus, code)
}

func TestRuntimeDispatch(t *testing.T) {
	t.Parallel()
	rt, err := New(WorkerFunc(func(_ context.Context, req *http.Request, env *Env) (*Response, error) {
		switch req.URL.Path {
		case "/hello":
			return TextResponse(http.StatusOK, "hello "+env.Vars["NAME"]), nil
		case "/broken":
			return nil, errors.New("boom")
		case "/panic":
			panic("unexpected")
		case "/ws":
			client, server := env.NewWebSocketPair()
			if err := server.Accept(); err != nil {
				return nil, err
			}

			return UpgradeResponse(client), nil
		default:
			return nil, nil
		}
	}), &Config{Vars: map[string]string{"NAME": "sandbox"}, SocketBuffer: 3})
	require.NoError(t, err)
	defer func() { require.NoError(t, rt.Close()) }()
	ctx := context.Background()

	resp, handled, err := rt.DispatchFetch(ctx, httptest.NewRequest(http.MethodGet, "http://base.url/hello", nil))
	require.NoError(t, err)
	require.True(t, handled)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello sandbox", string(body))

	resp, handled, err = rt.DispatchFetch(ctx, httptest.NewRequest(http.MethodGet, "http://base.url/elsewhere", nil))
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Nil(t, resp)

	_, _, err = rt.DispatchFetch(ctx, httptest.NewRequest(http.MethodGet, "http://base.url/broken", nil))
	require.True(t, errors.Is(err, ErrDispatch))
	_, err = rt.DispatchUpgrade(ctx, httptest.NewRequest(http.MethodGet, "http://base.url/panic", nil))
	require.True(t, errors.Is(err, ErrDispatch))

	resp, err = rt.DispatchUpgrade(ctx, httptest.NewRequest(http.MethodGet, "http://base.url/ws", nil))
	require.NoError(t, err)
	require.NotNil(t, resp.WebSocket)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	client, ok := resp.WebSocket.(*WebSocket)
	require.True(t, ok)
	assert.Equal(t, 3, cap(client.inbox))
	assert.Equal(t, 3, cap(client.peer.inbox))
	require.NoError(t, resp.WebSocket.Close(CloseNormal, ""))

	resp, err = rt.DispatchUpgrade(ctx, httptest.NewRequest(http.MethodGet, "http://base.url/elsewhere", nil))
	require.NoError(t, err)
	assert.Nil(t, resp.WebSocket)
}

func TestEnvSocketBufferDefaults(t *testing.T) {
	t.Parallel()
	rt, err := New(WorkerFunc(func(context.Context, *http.Request, *Env) (*Response, error) {
		return nil, nil //nolint:nilnil // Never called.
	}), nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, rt.Close()) }()

	client, server := rt.Env().NewWebSocketPair()
	assert.Equal(t, defaultSocketBuffer, cap(client.inbox))
	assert.Equal(t, defaultSocketBuffer, cap(server.inbox))
	assert.Same(t, server, client.peer)
}

func TestKV(t *testing.T) {
	t.Parallel()
	rt, err := New(WorkerFunc(func(context.Context, *http.Request, *Env) (*Response, error) { return nil, nil }), &Config{KVNamespaces: []string{"CACHE"}})
	require.NoError(t, err)
	defer func() { require.NoError(t, rt.Close()) }()
	_, ok := rt.Env().KV("MISSING")
	require.False(t, ok)
	kv, ok := rt.Env().KV("CACHE")
	require.True(t, ok)

	_, found, err := kv.Get("a")
	require.NoError(t, err)
	require.False(t, found)
	require.NoError(t, kv.Put("room/1", []byte("x")))
	require.NoError(t, kv.Put("room/2", []byte("y")))
	require.NoError(t, kv.Put("user/1", []byte("z")))
	value, found, err := kv.Get("room/2")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("y"), value)
	keys, err := kv.List("room/")
	require.NoError(t, err)
	assert.Equal(t, []string{"room/1", "room/2"}, keys)
	require.NoError(t, kv.Delete("room/1"))
	keys, err = kv.List("room/")
	require.NoError(t, err)
	assert.Equal(t, []string{"room/2"}, keys)

	const workers = 20
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, uErr := kv.Update("counter", func(old []byte, found bool) ([]byte, error) {
				n := 0
				if found {
					n, _ = strconv.Atoi(string(old)) //nolint:errcheck // Always written by us.
				}

				return []byte(strconv.Itoa(n + 1)), nil
			})
			assert.NoError(t, uErr)
		}()
	}
	wg.Wait()
	value, _, err = kv.Get("counter")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(workers), string(value))
}
