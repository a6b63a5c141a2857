package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/pivot/internal/cache"
	"github.com/roach88/pivot/internal/cube"
	"github.com/roach88/pivot/internal/essence"
	"github.com/roach88/pivot/internal/expr"
	"github.com/roach88/pivot/internal/ir"
	"github.com/roach88/pivot/internal/querysql"
	"github.com/roach88/pivot/internal/store"
)

// Engine runs query expressions for the data cubes of an application.
//
// Thread-safety model:
//   - Execute, ExecuteEssence, Timekeeper: safe from any goroutine
//   - the store serializes statements on its single connection
//
// Settings are read, never written, after New.
type Engine struct {
	store    *store.Store
	settings *cube.AppSettings
	cache    *cache.Cache
	metrics  *Metrics
	ids      IDGenerator
	onSQL    func(queryID, sql string)

	maxStatements int
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithCache serves repeated queries from c.
func WithCache(c *cache.Cache) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithMetrics records query metrics in m.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithIDGenerator sets the generator of query ids.
//
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithStatementHook calls fn with every SQL statement before it runs.
// Cached results run no statements.
func WithStatementHook(fn func(queryID, sql string)) Option {
	return func(e *Engine) {
		e.onSQL = fn
	}
}

// WithMaxStatements sets the statement quota of one query.
//
// Default: 1000 statements (DefaultMaxStatements).
// Use WithMaxStatements(2) for testing quota enforcement.
func WithMaxStatements(n int) Option {
	return func(e *Engine) {
		e.maxStatements = n
	}
}

// New creates an Engine over the sources in s for the cubes in settings.
func New(s *store.Store, settings *cube.AppSettings, opts ...Option) *Engine {
	e := &Engine{
		store:         s,
		settings:      settings,
		ids:           UUIDv7Generator{},
		maxStatements: DefaultMaxStatements,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Settings returns the application settings the engine serves.
func (e *Engine) Settings() *cube.AppSettings {
	return e.settings
}

// Execute evaluates q against the source of the named data cube. The
// timezone only scopes the cache entry; time buckets carry their own.
//
// Errors are always *QueryError.
func (e *Engine) Execute(ctx context.Context, dataCube string, q expr.Expression, timezone string) (*expr.Dataset, error) {
	start := time.Now()
	queryID := e.ids.Generate()

	ds, err := e.execute(ctx, queryID, dataCube, q, timezone)
	e.metrics.queryDone(dataCube, err, time.Since(start))
	if err != nil {
		qe := AsQueryError(err, dataCube)
		slog.Warn("query failed",
			"query_id", queryID,
			"data_cube", dataCube,
			"code", qe.Code,
			"error", qe.Message,
			"duration", time.Since(start))
		return nil, qe
	}
	slog.Info("query finished",
		"query_id", queryID,
		"data_cube", dataCube,
		"rows", ds.Len(),
		"duration", time.Since(start))
	return ds, nil
}

func (e *Engine) execute(ctx context.Context, queryID, dataCube string, q expr.Expression, timezone string) (*expr.Dataset, error) {
	c, ok := e.settings.GetDataCube(dataCube)
	if !ok {
		return nil, invalidf("unknown data cube %q", dataCube)
	}
	res := expr.Validate(q)
	if !res.Valid() {
		return nil, &QueryError{
			Code:     ErrCodeInvalidQuery,
			Message:  fmt.Sprintf("invalid expression: %v", res.Errors),
			DataCube: dataCube,
		}
	}
	for _, w := range res.Warnings {
		slog.Debug("query evaluated partly in process", "query_id", queryID, "reason", w)
	}

	if cluster, ok := e.settings.GetCluster(c.ClusterName); ok && !cluster.Timeout.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cluster.Timeout.CanonicalLength())*time.Millisecond)
		defer cancel()
	}

	key, err := e.cacheKey(c.Name, timezone, q)
	if err != nil {
		return nil, err
	}
	if ds, ok := e.cached(key); ok {
		slog.Debug("query served from cache", "query_id", queryID, "data_cube", c.Name)
		return ds, nil
	}

	kinds, err := e.columnKinds(ctx, c.Source)
	if err != nil {
		return nil, err
	}

	slog.Info("query starting", "query_id", queryID, "data_cube", c.Name, "source", c.Source)
	x := &executor{
		store:    e.store,
		compiler: querysql.NewSQLCompiler(),
		kinds:    kinds,
		quota:    NewQuotaEnforcer(e.maxStatements),
		metrics:  e.metrics,
		queryID:  queryID,
		onSQL:    e.onSQL,
	}
	ds, err := x.run(ctx, c.Source, q)
	if err != nil {
		return nil, err
	}
	slog.Debug("query statements", "query_id", queryID, "statements", x.quota.Current())

	e.remember(key, ds)
	return ds, nil
}

// ExecuteEssence builds the query of a view at tk and runs it. The query
// is returned even when execution fails.
func (e *Engine) ExecuteEssence(ctx context.Context, es essence.Essence, tk essence.Timekeeper) (expr.Expression, *expr.Dataset, error) {
	name := ""
	if es.DataCube != nil {
		name = es.DataCube.Name
	}
	q, err := essence.MakeQuery(es, tk)
	if err != nil {
		return nil, nil, AsQueryError(err, name)
	}
	ds, err := e.Execute(ctx, name, q, es.Timezone)
	return q, ds, err
}

// Timekeeper returns a timekeeper at now that knows the latest data time
// of every cube refreshed by query. Cubes whose source cannot be read are
// logged and left out.
func (e *Engine) Timekeeper(ctx context.Context, now time.Time) essence.Timekeeper {
	tk := essence.NewTimekeeper(now)
	for i := range e.settings.DataCubes {
		c := &e.settings.DataCubes[i]
		if c.RefreshRule.Rule != cube.RefreshQuery || c.TimeAttribute == "" {
			continue
		}
		t, ok, err := e.MaxTime(ctx, c)
		if err != nil {
			slog.Warn("max time query failed", "data_cube", c.Name, "error", err)
			continue
		}
		if ok {
			tk = tk.WithMaxTime(c.Name, t)
		}
	}
	return tk
}

// MaxTime returns the latest value of the cube's time attribute.
func (e *Engine) MaxTime(ctx context.Context, c *cube.DataCube) (time.Time, bool, error) {
	if c.TimeAttribute == "" {
		return time.Time{}, false, nil
	}
	if _, err := e.columnKinds(ctx, c.Source); err != nil {
		return time.Time{}, false, err
	}
	return e.store.MaxTime(ctx, c.Source, c.TimeAttribute)
}

func (e *Engine) columnKinds(ctx context.Context, source string) (map[string]cube.Kind, error) {
	cols, err := e.store.Columns(ctx, source)
	if errors.Is(err, store.ErrNotFound) {
		return nil, invalidf("source %q is not loaded", source)
	}
	if err != nil {
		return nil, err
	}
	kinds := make(map[string]cube.Kind, len(cols))
	for _, c := range cols {
		kinds[c.Name] = c.Kind
	}
	return kinds, nil
}

func (e *Engine) cacheKey(dataCube, timezone string, q expr.Expression) (string, error) {
	if e.cache == nil {
		return "", nil
	}
	data, err := expr.Marshal(q)
	if err != nil {
		return "", invalidf("encode query: %v", err)
	}
	v, err := ir.FromJSON(data)
	if err != nil {
		return "", invalidf("encode query: %v", err)
	}
	return ir.QueryKey(dataCube, timezone, v)
}

func (e *Engine) cached(key string) (*expr.Dataset, bool) {
	if e.cache == nil {
		return nil, false
	}
	data, ok, err := e.cache.Get(key)
	if err != nil {
		slog.Warn("cache read failed", "error", err)
		return nil, false
	}
	e.metrics.cacheLookup(ok)
	if !ok {
		return nil, false
	}
	var ds expr.Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		slog.Warn("cache entry unreadable", "error", err)
		return nil, false
	}
	return &ds, true
}

func (e *Engine) remember(key string, ds *expr.Dataset) {
	if e.cache == nil {
		return
	}
	data, err := json.Marshal(ds)
	if err != nil {
		slog.Warn("cache encode failed", "error", err)
		return
	}
	if err := e.cache.Set(key, data); err != nil {
		slog.Warn("cache write failed", "error", err)
	}
}
