// SPDX-License-Identifier: ice License 1.0

package sandbox

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
)

func (f WorkerFunc) Fetch(ctx context.Context, req *http.Request, env *Env) (*Response, error) {
	return f(ctx, req, env)
}

func New(worker Worker, cfg *Config) (*Runtime, error) {
	if worker == nil {
		return nil, errors.New("worker is required")
	}
	if cfg == nil {
		cfg = new(Config)
	}
	env := &Env{
		Vars:         make(map[string]string, len(cfg.Vars)),
		kv:           make(map[string]*KV, len(cfg.KVNamespaces)),
		socketBuffer: cfg.SocketBuffer,
	}
	for k, v := range cfg.Vars {
		env.Vars[k] = v
	}
	for _, name := range cfg.KVNamespaces {
		kv, err := openKV(cfg.KVPath, name)
		if err != nil {
			return nil, multierror.Append(errors.Wrapf(err, "failed to open kv namespace %v", name), env.close()).ErrorOrNil()
		}
		env.kv[name] = kv
	}

	return &Runtime{worker: worker, env: env}, nil
}

func (r *Runtime) Env() *Env {
	return r.env
}

func (r *Runtime) Close() error {
	return errors.Wrap(r.env.close(), "failed to close sandbox bindings")
}

func (r *Runtime) DispatchFetch(ctx context.Context, req *http.Request) (*Response, bool, error) {
	resp, err := r.call(ctx, req)
	if err != nil {
		return nil, false, err
	}

	return resp, resp != nil, nil
}

func (r *Runtime) DispatchUpgrade(ctx context.Context, req *http.Request) (*Response, error) {
	resp, err := r.call(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return &Response{StatusCode: http.StatusNotFound, Header: make(http.Header), Body: http.NoBody}, nil
	}

	return resp, nil
}

func (r *Runtime) call(ctx context.Context, req *http.Request) (resp *Response, err error) {
	defer func() {
		if p := recover(); p != nil {
			resp, err = nil, errors.Mark(errors.Newf("worker panicked on %v %v: %v", req.Method, req.URL, p), ErrDispatch)
		}
	}()
	if resp, err = r.worker.Fetch(ctx, req, r.env); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "worker failed on %v %v", req.Method, req.URL), ErrDispatch)
	}
	if resp != nil && resp.Header == nil {
		resp.Header = make(http.Header)
	}
	if resp != nil && resp.Body == nil {
		resp.Body = http.NoBody
	}

	return resp, nil
}

func (e *Env) KV(name string) (*KV, bool) {
	kv, ok := e.kv[name]

	return kv, ok
}

// NewWebSocketPair is NewWebSocketPair with the configured socket buffer.
func (e *Env) NewWebSocketPair() (client, server *WebSocket) {
	return NewWebSocketPair(e.socketBuffer)
}

func (e *Env) close() error {
	var mErr *multierror.Error
	for _, kv := range e.kv {
		mErr = multierror.Append(mErr, kv.Close())
	}

	return mErr.ErrorOrNil()
}

func NewResponse(status int, contentType string, body []byte) *Response {
	header := make(http.Header)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}

	return &Response{StatusCode: status, Header: header, Body: io.NopCloser(bytes.NewReader(body))}
}

func TextResponse(status int, text string) *Response {
	return &Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:       io.NopCloser(strings.NewReader(text)),
	}
}

// UpgradeResponse accepts an upgrade by handing the client end of a pair back to the caller.
func UpgradeResponse(client Socket) *Response {
	return &Response{StatusCode: StatusSwitchProtocol, Header: make(http.Header), Body: http.NoBody, WebSocket: client}
}
