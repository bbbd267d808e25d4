// SPDX-License-Identifier: ice License 1.0

package headers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()
	h := Normalize([]Field{
		{Name: "host", Value: "localhost:5173"},
		{Name: "set-cookie", Value: []string{"a=1", "b=2"}},
		{Name: "x-number", Value: 42},
		{Name: "x-nil", Value: nil},
		{Name: "Sec-WebSocket-Key", Value: "dGhlIHNhbXBsZSBub25jZQ=="},
		{Name: "Set-Cookie", Value: "c=3"},
	})
	require.Equal(t, 5, h.Len())
	assert.Equal(t, "localhost:5173", h.Get("Host"))
	assert.Equal(t, []string{"a=1", "b=2", "c=3"}, h.Values("set-cookie"))
	assert.Empty(t, h.Values("x-number"))
	assert.Empty(t, h.Get("x-nil"))
	assert.Equal(t, "dGhlIHNhbXBsZSBub25jZQ==", h.Get("sec-websocket-key"))

	var order []string
	h.Each(func(name, value string) { order = append(order, name+"="+value) })
	assert.Equal(t, []string{
		"Host=localhost:5173",
		"Set-Cookie=a=1",
		"Set-Cookie=b=2",
		"Sec-Websocket-Key=dGhlIHNhbXBsZSBub25jZQ==",
		"Set-Cookie=c=3",
	}, order)
}

func TestNormalizeEmpty(t *testing.T) {
	t.Parallel()
	h := Normalize(nil)
	assert.Zero(t, h.Len())
	assert.Empty(t, h.HTTPHeader())
	h = Normalize([]Field{{Name: "x-empty", Value: []string{}}})
	assert.Zero(t, h.Len())
}

func TestHTTPHeaderIsACopy(t *testing.T) {
	t.Parallel()
	h := Normalize([]Field{{Name: "accept", Value: []string{"text/html", "*/*"}}})
	header := h.HTTPHeader()
	require.Equal(t, []string{"text/html", "*/*"}, header.Values("Accept"))
	header.Add("Accept", "application/json")
	header.Set("Upgrade", "websocket")
	assert.Equal(t, []string{"text/html", "*/*"}, h.Values("accept"))
	assert.Empty(t, h.Get("upgrade"))
	assert.Equal(t, 2, h.Len())
}

func TestFromHTTP(t *testing.T) {
	t.Parallel()
	header := http.Header{}
	header.Set("Upgrade", "websocket")
	header.Add("Connection", "keep-alive")
	header.Add("Connection", "Upgrade")
	header.Set("Accept", "*/*")
	fields := FromHTTP(header)
	require.Len(t, fields, 3)
	assert.Equal(t, "Accept", fields[0].Name)
	assert.Equal(t, "Connection", fields[1].Name)
	assert.Equal(t, "Upgrade", fields[2].Name)

	h := Normalize(fields)
	assert.Equal(t, []string{"keep-alive", "Upgrade"}, h.Values("connection"))
	assert.Equal(t, header, h.HTTPHeader())
}
