package graph

import (
	"context"
	"sync"
)

// MemoryClient records every statement and answers reads from a scripted
// responder. It backs tests and deployments without a graph database.
type MemoryClient struct {
	mu           sync.Mutex
	calls        []ExecutedQuery
	respond      func(q ExecutedQuery) (Result, error)
	err          error
	connectivity error
}

// ExecutedQuery captures one statement sent to the graph.
type ExecutedQuery struct {
	Write  bool
	Query  string
	Params map[string]any
}

// NewMemoryClient returns a client that accepts everything and returns no
// records.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{}
}

// WithError makes every subsequent statement fail with err.
func (m *MemoryClient) WithError(err error) *MemoryClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithConnectivityError forces VerifyConnectivity to return err.
func (m *MemoryClient) WithConnectivityError(err error) *MemoryClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectivity = err
	return m
}

// RespondWith installs fn as the source of results.
func (m *MemoryClient) RespondWith(fn func(q ExecutedQuery) (Result, error)) *MemoryClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.respond = fn
	return m
}

func (m *MemoryClient) ExecuteWrite(_ context.Context, cypher string, params map[string]any) (Result, error) {
	return m.run(ExecutedQuery{Write: true, Query: cypher, Params: cloneMap(params)})
}

func (m *MemoryClient) ExecuteRead(_ context.Context, cypher string, params map[string]any) (Result, error) {
	return m.run(ExecutedQuery{Query: cypher, Params: cloneMap(params)})
}

func (m *MemoryClient) run(q ExecutedQuery) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Result{}, m.err
	}
	m.calls = append(m.calls, q)
	if m.respond == nil {
		return Result{}, nil
	}
	return m.respond(q)
}

func (m *MemoryClient) VerifyConnectivity(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectivity
}

func (m *MemoryClient) Close(context.Context) error {
	return nil
}

// WriteCalls returns the executed write statements in order.
func (m *MemoryClient) WriteCalls() []ExecutedQuery {
	return m.filter(true)
}

// ReadCalls returns the executed read statements in order.
func (m *MemoryClient) ReadCalls() []ExecutedQuery {
	return m.filter(false)
}

func (m *MemoryClient) filter(write bool) []ExecutedQuery {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ExecutedQuery
	for _, q := range m.calls {
		if q.Write == write {
			out = append(out, q)
		}
	}
	return out
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
