// Package sqlstore implements [lang.Querier] over database/sql with a set of
// named datasources. PostgreSQL (pgx), MySQL and SQLite drivers are
// registered. SQLite uses the pure Go driver unless built with the
// cgo_sqlite tag.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ardnew/tagscript/lang"
	"github.com/ardnew/tagscript/log"
)

// ErrDatasource is returned when a query names no known datasource.
var ErrDatasource = lang.NewError("unknown datasource")

// Pool holds connection pool limits applied to each opened datasource.
type Pool struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPool is applied when no [WithPool] option is given.
var DefaultPool = Pool{
	MaxOpenConns:    25,
	MaxIdleConns:    25,
	ConnMaxLifetime: 5 * time.Minute,
}

type datasource struct {
	name     string
	driver   string
	db       *sql.DB
	numbered bool // "$n" placeholders
	owned    bool // closed by Close
}

// Querier runs t:query statements against named datasources.
type Querier struct {
	mu      sync.RWMutex
	sources map[string]*datasource
	dflt    string

	pool    Pool
	timeout time.Duration
	logger  log.Logger
}

// Option configures a [Querier].
type Option func(*Querier)

// WithLogger sets the logger for statement tracing.
func WithLogger(logger log.Logger) Option {
	return func(q *Querier) { q.logger = logger }
}

// WithDefault names the datasource used when a query names none.
func WithDefault(name string) Option {
	return func(q *Querier) { q.dflt = name }
}

// WithTimeout bounds each statement. Zero means no limit beyond the render
// context.
func WithTimeout(d time.Duration) Option {
	return func(q *Querier) { q.timeout = d }
}

// WithPool sets the connection pool limits for datasources opened later.
func WithPool(p Pool) Option {
	return func(q *Querier) { q.pool = p }
}

// New returns a Querier with no datasources.
func New(opts ...Option) *Querier {
	q := &Querier{sources: make(map[string]*datasource), pool: DefaultPool}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Open connects the datasource name using a spec accepted by [ParseSpec]
// and verifies it with a ping.
func (q *Querier) Open(ctx context.Context, name, spec string) error {
	driver, dsn, err := ParseSpec(spec)
	if err != nil {
		return err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return dbError(err, name)
	}

	if isMemory(driver, dsn) {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(q.pool.MaxOpenConns)
		db.SetMaxIdleConns(q.pool.MaxIdleConns)
		db.SetConnMaxLifetime(q.pool.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return dbError(err, name)
	}

	q.add(&datasource{name: name, driver: driver, db: db, owned: true})

	q.logger.DebugContext(ctx, "datasource opened",
		slog.String("datasource", name),
		slog.String("driver", driver))

	return nil
}

// Add registers an existing handle. driver is the database/sql driver name
// it was opened with and decides the placeholder style. Close does not
// close handles added this way.
func (q *Querier) Add(name, driver string, db *sql.DB) {
	if d, ok := drivers[driver]; ok {
		driver = d
	}

	q.add(&datasource{name: name, driver: driver, db: db})
}

func (q *Querier) add(ds *datasource) {
	ds.numbered = ds.driver == "pgx"

	q.mu.Lock()
	old := q.sources[ds.name]
	q.sources[ds.name] = ds
	q.mu.Unlock()

	if old != nil && old.owned {
		_ = old.db.Close()
	}
}

// Datasources returns the registered names in sorted order.
func (q *Querier) Datasources() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return slices.Sorted(maps.Keys(q.sources))
}

// Close closes every datasource opened by [Querier.Open].
func (q *Querier) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var errs []error

	for name, ds := range q.sources {
		if ds.owned {
			if err := ds.db.Close(); err != nil {
				errs = append(errs, dbError(err, name))
			}
		}

		delete(q.sources, name)
	}

	return errors.Join(errs...)
}

// lookup resolves a datasource name. An empty name selects the default, or
// the only registered datasource when no default is set.
func (q *Querier) lookup(name string) (*datasource, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if name == "" {
		name = q.dflt
	}

	if name == "" && len(q.sources) == 1 {
		for _, ds := range q.sources {
			return ds, nil
		}
	}

	ds, ok := q.sources[name]
	if !ok {
		return nil, ErrDatasource.With(slog.String("datasource", name))
	}

	return ds, nil
}

// Query implements [lang.Querier]. A negative MaxRows reads every row.
func (q *Querier) Query(ctx context.Context, req lang.QueryRequest) (*lang.QueryResult, error) {
	ds, err := q.lookup(req.Datasource)
	if err != nil {
		return nil, err
	}

	if q.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	stmt := req.SQL
	if ds.numbered {
		stmt = Rebind(stmt)
	}

	q.logger.TraceContext(ctx, "query",
		slog.String("datasource", ds.name),
		slog.String("sql", stmt),
		slog.Int("params", len(req.Params)))

	start := time.Now()

	rows, err := ds.db.QueryContext(ctx, stmt, req.Params...)
	if err != nil {
		return nil, dbError(err, ds.name)
	}
	defer rows.Close()

	res, err := scan(rows, req.MaxRows)
	if err != nil {
		return nil, dbError(err, ds.name)
	}

	res.Elapsed = time.Since(start)

	return res, nil
}

// scan reads at most limit rows (all when limit is negative).
func scan(rows *sql.Rows, limit int) (*lang.QueryResult, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	res := &lang.QueryResult{Columns: cols, Rows: []map[string]any{}}

	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))

	for i := range vals {
		ptrs[i] = &vals[i]
	}

	for rows.Next() {
		if limit >= 0 && len(res.Rows) >= limit {
			break
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = normalize(vals[i])
		}

		res.Rows = append(res.Rows, row)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return res, nil
}

// normalize converts driver byte slices to strings. The scan buffer is
// reused, so bytes are copied.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}

	return v
}
