// SPDX-License-Identifier: ice License 1.0

package document

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	stdlibtime "time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeTemplate(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte(content), 0o600))
}

func TestRenderInjectsHMRClient(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTemplate(t, dir, `<!doctype html><html><HEAD><title>x</title></HEAD><body><div id="root"></div></body></html>`)
	tmpl, err := New(&Config{Root: dir}, HMRClient("/__hmr"))
	require.NoError(t, err)
	defer func() { require.NoError(t, tmpl.Close()) }()

	html, err := tmpl.Render(context.Background(), "/index.html", "/dashboard")
	require.NoError(t, err)
	rendered := string(html)
	assert.True(t, strings.HasPrefix(rendered, `<!doctype html><html><HEAD><script type="module">`), rendered)
	assert.Contains(t, rendered, `location.host + "/__hmr"`)
	assert.True(t, strings.HasSuffix(rendered, `</script>
<title>x</title></HEAD><body><div id="root"></div></body></html>`), rendered)
}

func TestInjectionOffset(t *testing.T) {
	t.Parallel()
	for name, tt := range map[string]struct {
		doc      string
		expected int
	}{
		"head":           {doc: `<html><head></head></html>`, expected: len(`<html><head>`)},
		"head with attr": {doc: `<head lang="en"><meta charset="utf-8"></head>`, expected: len(`<head lang="en">`)},
		"body only":      {doc: `<body><p>hi</p></body>`, expected: len(`<body><p>hi</p>`)},
		"fragment":       {doc: `<p>hi</p>`, expected: 0},
		"empty":          {doc: ``, expected: 0},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, injectionOffset([]byte(tt.doc)))
		})
	}
}

func TestRenderAppliesTransformersInOrder(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTemplate(t, dir, "a")
	appendText := func(text string) Transformer {
		return TransformerFunc(func(_ context.Context, url, originalURL string, html []byte) ([]byte, error) {
			return append(html, []byte(text+url+originalURL)...), nil
		})
	}
	tmpl, err := New(&Config{Root: dir, Template: "index.html"}, appendText("b"), appendText("c"))
	require.NoError(t, err)
	defer func() { require.NoError(t, tmpl.Close()) }()

	html, err := tmpl.Render(context.Background(), "1", "2")
	require.NoError(t, err)
	require.Equal(t, "ab12c12", string(html))
	html, err = tmpl.Render(context.Background(), "", "")
	require.NoError(t, err)
	require.Equal(t, "abc", string(html))
}

func TestRenderFailures(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	tmpl, err := New(&Config{Root: dir}, TransformerFunc(func(context.Context, string, string, []byte) ([]byte, error) {
		return nil, errors.New("boom")
	}))
	require.NoError(t, err)
	defer func() { require.NoError(t, tmpl.Close()) }()

	_, err = tmpl.Render(context.Background(), "/index.html", "/")
	require.ErrorIs(t, err, os.ErrNotExist)
	writeTemplate(t, dir, "<p></p>")
	require.Eventually(t, func() bool {
		_, rErr := tmpl.Render(context.Background(), "/index.html", "/")

		return rErr != nil && strings.Contains(rErr.Error(), "boom")
	}, 5*stdlibtime.Second, 10*stdlibtime.Millisecond)
}

func TestTemplateChangeInvalidatesCache(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTemplate(t, dir, "v1")
	tmpl, err := New(&Config{Root: dir})
	require.NoError(t, err)
	defer func() { require.NoError(t, tmpl.Close()) }()
	var changes atomic.Int64
	tmpl.OnChange(func(path string) {
		if path == tmpl.Path() {
			changes.Add(1)
		}
	})

	html, err := tmpl.Render(context.Background(), "/index.html", "/")
	require.NoError(t, err)
	require.Equal(t, "v1", string(html))

	writeTemplate(t, dir, "v2")
	require.Eventually(t, func() bool {
		html, err = tmpl.Render(context.Background(), "/index.html", "/")

		return err == nil && string(html) == "v2"
	}, 5*stdlibtime.Second, 10*stdlibtime.Millisecond)
	require.Positive(t, changes.Load())
}
