package lsp

import (
	"context"
	"sync"
)

// FakeClient answers requests from canned results. It is used by tests and
// by hosts without a language server.
type FakeClient struct {
	mu      sync.Mutex
	name    string
	results map[string][]byte
	errs    map[string]error
	calls   []FakeCall
	hook    func(method string, params []byte) ([]byte, error)
}

// FakeCall records one request.
type FakeCall struct {
	Method string
	Params []byte
}

// NewFakeClient creates a fake client.
func NewFakeClient(name string) *FakeClient {
	return &FakeClient{
		name:    name,
		results: make(map[string][]byte),
		errs:    make(map[string]error),
	}
}

// Respond sets the result for method.
func (c *FakeClient) Respond(method string, result string) {
	c.mu.Lock()
	c.results[method] = []byte(result)
	delete(c.errs, method)
	c.mu.Unlock()
}

// Fail makes method return err.
func (c *FakeClient) Fail(method string, err error) {
	c.mu.Lock()
	c.errs[method] = err
	c.mu.Unlock()
}

// Handle routes every request through fn, overriding canned results.
func (c *FakeClient) Handle(fn func(method string, params []byte) ([]byte, error)) {
	c.mu.Lock()
	c.hook = fn
	c.mu.Unlock()
}

// Name implements Client.
func (c *FakeClient) Name() string { return c.name }

// Request implements Client.
func (c *FakeClient) Request(ctx context.Context, method string, params []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.calls = append(c.calls, FakeCall{Method: method, Params: append([]byte(nil), params...)})
	hook := c.hook
	res, err := c.results[method], c.errs[method]
	c.mu.Unlock()
	if hook != nil {
		return hook(method, params)
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, ErrNotSupported
	}
	return res, nil
}

// Calls returns the recorded requests.
func (c *FakeClient) Calls() []FakeCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]FakeCall(nil), c.calls...)
}

// CallCount returns how many times method was requested.
func (c *FakeClient) CallCount(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if call.Method == method {
			n++
		}
	}
	return n
}

var _ Client = (*FakeClient)(nil)
