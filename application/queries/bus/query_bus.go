package bus

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	"topicgrader/application/ports"
)

// Query represents a read-only query
type Query interface {
	Validate() error
}

// QueryHandler handles a specific query type
type QueryHandler interface {
	Handle(ctx context.Context, query Query) (interface{}, error)
}

// QueryBus dispatches queries to their handlers
type QueryBus struct {
	handlers map[reflect.Type]QueryHandler
	wrappers []func(QueryHandler) QueryHandler
	mu       sync.RWMutex
}

// NewQueryBus creates a new query bus. Wrappers apply to every handler
// registered afterwards, the first one outermost.
func NewQueryBus(wrappers ...func(QueryHandler) QueryHandler) *QueryBus {
	return &QueryBus{
		handlers: make(map[reflect.Type]QueryHandler),
		wrappers: wrappers,
	}
}

// Register registers a handler for a query type
func (b *QueryBus) Register(queryType Query, handler QueryHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := reflect.TypeOf(queryType)
	if _, exists := b.handlers[t]; exists {
		return fmt.Errorf("handler already registered for query type %s", t.Name())
	}

	for i := len(b.wrappers) - 1; i >= 0; i-- {
		handler = b.wrappers[i](handler)
	}
	b.handlers[t] = handler
	return nil
}

// Ask dispatches a query to its handler and returns the result
func (b *QueryBus) Ask(ctx context.Context, query Query) (interface{}, error) {
	if err := query.Validate(); err != nil {
		return nil, fmt.Errorf("query validation failed: %w", err)
	}

	b.mu.RLock()
	handler, exists := b.handlers[reflect.TypeOf(query)]
	b.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("no handler registered for query type %T", query)
	}

	return handler.Handle(ctx, query)
}

// QueryHandlerFunc is an adapter to allow functions to be used as handlers
type QueryHandlerFunc func(ctx context.Context, query Query) (interface{}, error)

// Handle implements QueryHandler
func (f QueryHandlerFunc) Handle(ctx context.Context, query Query) (interface{}, error) {
	return f(ctx, query)
}

// SessionScoped is implemented by queries that read one session's tree
type SessionScoped interface {
	Session() string
}

// VersionLookup resolves a session reference ("" for the active session) to
// its id and current tree version
type VersionLookup func(session string) (id string, version int, ok bool)

// CachingMiddleware caches session-scoped query results. Entries are keyed
// on the tree version, so a mutation makes earlier entries unreachable.
type CachingMiddleware struct {
	cache   Cache
	ttl     int // TTL in seconds
	version VersionLookup
}

// NewCachingMiddleware creates a new caching middleware
func NewCachingMiddleware(cache Cache, ttl int, version VersionLookup) *CachingMiddleware {
	return &CachingMiddleware{
		cache:   cache,
		ttl:     ttl,
		version: version,
	}
}

// Wrap wraps a query handler with caching
func (m *CachingMiddleware) Wrap(next QueryHandler) QueryHandler {
	return QueryHandlerFunc(func(ctx context.Context, query Query) (interface{}, error) {
		cacheKey, ok := m.generateCacheKey(query)
		if !ok {
			return next.Handle(ctx, query)
		}

		if cached, found := m.cache.Get(ctx, cacheKey); found {
			return cached, nil
		}

		result, err := next.Handle(ctx, query)
		if err != nil {
			return nil, err
		}

		_ = m.cache.Set(ctx, cacheKey, result, m.ttl)
		return result, nil
	})
}

func (m *CachingMiddleware) generateCacheKey(query Query) (string, bool) {
	scoped, ok := query.(SessionScoped)
	if !ok {
		return "", false
	}
	id, version, ok := m.version(scoped.Session())
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s@%d:%T:%+v", id, version, query, query), true
}

// Cache interface for caching
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, bool)
	Set(ctx context.Context, key string, value interface{}, ttl int) error
}

// TracingMiddleware opens a span per query and logs failures
func TracingMiddleware(tracer ports.Tracer, logger *zap.Logger) func(QueryHandler) QueryHandler {
	return func(next QueryHandler) QueryHandler {
		return QueryHandlerFunc(func(ctx context.Context, query Query) (interface{}, error) {
			queryType := reflect.TypeOf(query).Elem().Name()
			start := time.Now()

			ctx, end := tracer.Start(ctx, queryType)
			result, err := next.Handle(ctx, query)
			end(err)

			if err != nil {
				logger.Debug("Query failed",
					zap.String("type", queryType),
					zap.Duration("elapsed", time.Since(start)),
					zap.Error(err))
				return nil, err
			}
			return result, nil
		})
	}
}
