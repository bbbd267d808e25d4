// SPDX-License-Identifier: ice License 1.0

package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	stdlibtime "time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/goleak"

	"github.com/ice-blockchain/devbridge/sandbox"
)

const testDeadline = 5 * stdlibtime.Second

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestRuntime(t *testing.T, namespaces ...string) *sandbox.Runtime {
	t.Helper()
	runtime, err := sandbox.New(newDemoWorker(), &sandbox.Config{KVNamespaces: namespaces})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, runtime.Close()) })

	return runtime
}

func upgradeRequest(path string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "http://base.url"+path, http.NoBody)
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")

	return req
}

func joinRoom(t *testing.T, runtime *sandbox.Runtime, path string) sandbox.Socket {
	t.Helper()
	resp, err := runtime.DispatchUpgrade(context.Background(), upgradeRequest(path))
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	require.NotNil(t, resp.WebSocket)
	require.NoError(t, resp.WebSocket.Accept())
	t.Cleanup(func() { assert.NoError(t, resp.WebSocket.Close(sandbox.CloseNormal, "")) })

	return resp.WebSocket
}

func next(t *testing.T, socket sandbox.Socket) string {
	t.Helper()
	select {
	case msg := <-socket.Messages():
		return string(msg.Data)
	case <-stdlibtime.After(testDeadline):
		require.FailNow(t, "timed out waiting for a message")
	}

	return ""
}

func TestDemoWorkerDeclinesUnknownPaths(t *testing.T) {
	t.Parallel()
	runtime := newTestRuntime(t)
	for _, path := range []string{"/", "/room/", "/api", "/assets/app.js"} {
		resp, handled, err := runtime.DispatchFetch(context.Background(), httptest.NewRequest(http.MethodGet, "http://localhost"+path, http.NoBody))
		require.NoError(t, err)
		assert.False(t, handled, path)
		assert.Nil(t, resp, path)
	}
	resp, err := runtime.DispatchUpgrade(context.Background(), upgradeRequest("/elsewhere"))
	require.NoError(t, err)
	assert.Nil(t, resp.WebSocket)
}

func TestDemoWorkerRoomRequiresUpgrade(t *testing.T) {
	t.Parallel()
	runtime := newTestRuntime(t)
	resp, handled, err := runtime.DispatchFetch(context.Background(), httptest.NewRequest(http.MethodGet, "http://localhost/room/1", http.NoBody))
	require.NoError(t, err)
	require.True(t, handled)
	require.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
	require.Nil(t, resp.WebSocket)
}

func TestDemoWorkerRoom(t *testing.T) {
	t.Parallel()
	runtime := newTestRuntime(t)
	alice := joinRoom(t, runtime, "/room/42")
	bob := joinRoom(t, runtime, "/room/42")
	carol := joinRoom(t, runtime, "/room/7")

	require.NoError(t, alice.Send(sandbox.Message{Type: sandbox.MessageText, Data: []byte("ping")}))
	require.Equal(t, "pong", next(t, alice))

	require.NoError(t, alice.Send(sandbox.Message{Type: sandbox.MessageText, Data: []byte("hello")}))
	require.Equal(t, "hello", next(t, bob))

	require.NoError(t, bob.Send(sandbox.Message{Type: sandbox.MessageText, Data: []byte(`{"type":"count"}`)}))
	count := next(t, bob)
	require.Equal(t, int64(2), gjson.Get(count, "members").Int(), count)
	require.Equal(t, "42", gjson.Get(count, "room").String(), count)

	require.NoError(t, carol.Send(sandbox.Message{Type: sandbox.MessageText, Data: []byte(`{"type":"count"}`)}))
	require.Equal(t, int64(1), gjson.Get(next(t, carol), "members").Int())

	require.NoError(t, bob.Close(sandbox.CloseNormal, "bye"))
	require.Eventually(t, func() bool {
		if err := alice.Send(sandbox.Message{Type: sandbox.MessageText, Data: []byte(`{"type":"count"}`)}); err != nil {
			return false
		}

		return gjson.Get(next(t, alice), "members").Int() == 1
	}, testDeadline, 10*stdlibtime.Millisecond)
}

func TestDemoWorkerCounter(t *testing.T) {
	t.Parallel()
	runtime := newTestRuntime(t, counterNamespace)
	call := func(method, body string) (int, string) {
		req := httptest.NewRequest(method, "http://localhost"+counterPath, strings.NewReader(body))
		resp, handled, err := runtime.DispatchFetch(context.Background(), req)
		require.NoError(t, err)
		require.True(t, handled)
		payload, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		return resp.StatusCode, string(payload)
	}

	status, body := call(http.MethodGet, "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"value":0}`, body)
	_, body = call(http.MethodPost, `{"by":5}`)
	require.JSONEq(t, `{"value":5}`, body)
	_, body = call(http.MethodPost, "")
	require.JSONEq(t, `{"value":6}`, body)
	_, body = call(http.MethodGet, "")
	require.JSONEq(t, `{"value":6}`, body)
	status, _ = call(http.MethodDelete, "")
	require.Equal(t, http.StatusMethodNotAllowed, status)
}

func TestDemoWorkerCounterWithoutBinding(t *testing.T) {
	t.Parallel()
	runtime := newTestRuntime(t)
	resp, handled, err := runtime.DispatchFetch(context.Background(), httptest.NewRequest(http.MethodGet, "http://localhost"+counterPath, http.NoBody))
	require.NoError(t, err)
	require.True(t, handled)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
