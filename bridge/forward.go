// SPDX-License-Identifier: ice License 1.0

package bridge

import (
	"io"
	"log"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	stdlibtime "time"

	"github.com/cockroachdb/errors"
	gomime "github.com/cubewise-code/go-mime"
	"github.com/gin-gonic/gin"

	"github.com/ice-blockchain/devbridge/sandbox"
)

// htmlFallback rewrites navigations of a single page app to the document path, remembering
// where the browser actually went.
func (b *Bridge) htmlFallback(c *gin.Context) {
	req := c.Request
	if !b.cfg.SPAFallback || !isNavigation(req) || req.URL.Path == b.cfg.DocumentPath || req.URL.Path == b.cfg.HMRPath {
		return
	}
	if path.Ext(req.URL.Path) != "" {
		return
	}
	c.Set(originalURLKey, req.URL.RequestURI())
	req.URL.Path, req.URL.RawPath = b.cfg.DocumentPath, ""
}

func (b *Bridge) serveDocument(c *gin.Context) {
	req := c.Request
	if b.document == nil || req.URL.Path != b.cfg.DocumentPath || isWebsocketUpgrade(req) {
		return
	}
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return
	}
	originalURL := req.URL.RequestURI()
	if stored := c.GetString(originalURLKey); stored != "" {
		originalURL = stored
	}
	html, err := b.document.Render(req.Context(), b.cfg.DocumentPath, originalURL)
	if err != nil {
		log.Printf("ERROR:%v", errors.Wrapf(err, "failed to render document for %v", originalURL))
		c.String(http.StatusInternalServerError, err.Error())
		c.Abort()

		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
	c.Abort()
}

// forward hands the request to the sandbox. A declined request continues down the chain exactly
// as it arrived; anything answered is streamed back and ends the chain.
func (b *Bridge) forward(c *gin.Context) {
	restoreOriginalURL(c)
	if c.Request.URL.Path == b.cfg.DocumentPath || isWebsocketUpgrade(c.Request) {
		return
	}
	out, err := b.outboundRequest(c)
	if err != nil {
		b.badGateway(c, err)

		return
	}
	start := stdlibtime.Now()
	resp, handled, err := b.dispatcher.DispatchFetch(c.Request.Context(), out)
	b.histogram(metricDispatchFetchMs).Update(stdlibtime.Since(start).Milliseconds())
	if err != nil {
		b.badGateway(c, err)

		return
	}
	if !handled {
		b.count(metricFetchDeclined)
		c.Next()

		return
	}
	b.count(metricFetchAnswered)
	c.Abort()
	writeResponse(c, resp)
}

func (b *Bridge) outboundRequest(c *gin.Context) (*http.Request, error) {
	requestURI := c.Request.URL.RequestURI()
	target, err := url.Parse("http://" + c.Request.Host + requestURI)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build url for %v%v", c.Request.Host, requestURI)
	}
	out := c.Request.Clone(c.Request.Context())
	out.URL, out.RequestURI, out.Host = target, "", target.Host

	return out, nil
}

// restoreOriginalURL undoes the htmlFallback rewrite of a navigation nobody rendered as the document.
func restoreOriginalURL(c *gin.Context) {
	stored := c.GetString(originalURLKey)
	if stored == "" {
		return
	}
	original, err := url.ParseRequestURI(stored)
	if err != nil {
		log.Printf("WARN: %v", errors.Wrapf(err, "failed to restore original url %q", stored))

		return
	}
	c.Request.URL.Path, c.Request.URL.RawPath, c.Request.URL.RawQuery = original.Path, original.RawPath, original.RawQuery
}

func (b *Bridge) badGateway(c *gin.Context, err error) {
	b.count(metricFetchFailed)
	err = errors.Wrapf(err, "failed to forward %v %v", c.Request.Method, c.Request.URL)
	log.Printf("ERROR:%v", err)
	c.String(http.StatusBadGateway, err.Error())
	c.Abort()
}

func writeResponse(c *gin.Context, resp *sandbox.Response) {
	defer func() {
		if resp.Body != nil {
			_ = resp.Body.Close() //nolint:errcheck // Nothing to do with it.
		}
	}()
	header := c.Writer.Header()
	for name, values := range resp.Header {
		for _, value := range values {
			header.Add(name, value)
		}
	}
	if header.Get("Content-Type") == "" {
		if contentType := gomime.TypeByExtension(path.Ext(c.Request.URL.Path)); contentType != "" {
			header.Set("Content-Type", contentType)
		}
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	c.Status(status)
	c.Writer.WriteHeaderNow()
	if c.Request.Method == http.MethodHead || resp.Body == nil {
		return
	}
	buf := make([]byte, responseChunkSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, wErr := c.Writer.Write(buf[:n]); wErr != nil {
				log.Printf("WARN: client went away while streaming %v: %v", c.Request.URL, wErr)

				return
			}
			c.Writer.Flush()
		}
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			log.Printf("ERROR:%v", errors.Wrapf(err, "failed to stream response body for %v", c.Request.URL))

			return
		}
	}
}

func isNavigation(req *http.Request) bool {
	if req.Method != http.MethodGet && req.Method != http.MethodHead || isWebsocketUpgrade(req) {
		return false
	}
	for _, accepted := range strings.Split(req.Header.Get("Accept"), ",") {
		if mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(accepted)); err == nil && mediaType == "text/html" {
			return true
		}
	}

	return false
}
