// Package nervusdb is the embedded entry point: Open a database file,
// run Cypher against it, iterate rows. The heavy lifting lives in the
// subpackages (pager, wal, engine, snapshot, cypher, planner, executor);
// this facade wires a parsed query through plan compilation and execution
// under the right transaction discipline.
package nervusdb

import (
	"fmt"

	"github.com/nervusdb/nervusdb/cypher/parser"
	"github.com/nervusdb/nervusdb/engine"
	"github.com/nervusdb/nervusdb/executor"
	"github.com/nervusdb/nervusdb/planner"
	"github.com/nervusdb/nervusdb/value"
)

// Config bundles engine and per-query execution configuration.
type Config struct {
	Engine engine.Config
	Limits executor.Limits
}

// DefaultConfig follows the DefaultConfig(dataDir) convention used
// throughout the storage packages.
func DefaultConfig(dataDir string) Config {
	return Config{
		Engine: engine.DefaultConfig(dataDir),
		Limits: executor.DefaultLimits(),
	}
}

// DB is an open NervusDB database: one engine plus the process-wide
// procedure registry. Safe for concurrent readers; writers serialize on
// the engine's write lock.
type DB struct {
	engine   *engine.Engine
	registry *executor.ProcedureRegistry
	limits   executor.Limits
}

// Open opens (or creates) the database whose files live at path.ndb /
// path.wal.
func Open(path string) (*DB, error) {
	return OpenConfig(DefaultConfig(path))
}

// OpenConfig opens with explicit configuration.
func OpenConfig(cfg Config) (*DB, error) {
	e, err := engine.Open(cfg.Engine)
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}
	return &DB{engine: e, registry: executor.NewProcedureRegistry(), limits: cfg.Limits}, nil
}

// Close flushes and closes the underlying engine.
func (db *DB) Close() error { return db.engine.Close() }

// Engine exposes the storage engine for maintenance operations
// (compaction, index creation) and tests.
func (db *DB) Engine() *engine.Engine { return db.engine }

// CreateIndex creates (or returns) the secondary index on label.field and
// backfills it from the current state.
func (db *DB) CreateIndex(label, field string) error {
	return db.engine.CreateIndex(label, field)
}

// Compact fuses the published L0 runs and CSR segments into a fresh
// segment.
func (db *DB) Compact() error { return db.engine.Compact() }

// Vacuum rewrites the page file, reclaiming pages no live root reaches
//.
func (db *DB) Vacuum() error { return db.engine.Vacuum() }

// Registry returns the procedure registry so callers can add their own
// CALL-able procedures.
func (db *DB) Registry() *executor.ProcedureRegistry { return db.registry }

// Result is a fully materialized query result.
type Result struct {
	Columns []string
	Rows    [][]value.Value
}

// Query parses, plans, and executes one Cypher statement. A statement
// containing write clauses runs in a write transaction that commits
// before the rows are returned; a pure read runs against a snapshot and
// never blocks writers.
func (db *DB) Query(cypher string, params map[string]value.Value) (*Result, error) {
	q, err := parser.Parse(cypher)
	if err != nil {
		return nil, err
	}

	snap := db.engine.Snapshot()
	pl := planner.New(snap, params)
	plan, err := pl.Compile(q)
	if err != nil {
		return nil, err
	}

	if !plan.HasWrites {
		ctx := executor.NewContext(snap, params, db.limits, db.registry)
		ctx.Compiler = pl
		rows, err := executor.Collect(ctx, plan.Root, -1)
		if err != nil {
			return nil, err
		}
		return materialize(plan.Columns, rows), nil
	}

	tx := db.engine.Begin()
	ctx := executor.NewContext(tx.Snapshot(), params, db.limits, db.registry).WithWrite(tx)
	ctx.Compiler = pl

	rows, err := executor.Collect(ctx, plan.Root, -1)
	if err != nil {
		tx.Abort()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return materialize(plan.Columns, rows), nil
}

func materialize(cols []string, rows []executor.Row) *Result {
	res := &Result{Columns: cols}
	if len(cols) == 0 {
		return res
	}
	res.Rows = make([][]value.Value, len(rows))
	for i, row := range rows {
		out := make([]value.Value, len(cols))
		for j, col := range cols {
			if v, ok := row[col]; ok {
				out[j] = v
			} else {
				out[j] = value.Null
			}
		}
		res.Rows[i] = out
	}
	return res
}

// Cursor presents a Result through the step/typed-getter shape every
// binding layer builds on.
type Cursor struct {
	res *Result
	pos int
}

// Cursor returns a cursor positioned before the first row.
func (r *Result) Cursor() *Cursor { return &Cursor{res: r} }

// Step advances to the next row, reporting whether one exists.
func (c *Cursor) Step() bool {
	if c.pos >= len(c.res.Rows) {
		return false
	}
	c.pos++
	return true
}

// row panics when called before Step; bindings are expected to respect
// the step-then-get discipline.
func (c *Cursor) row() []value.Value { return c.res.Rows[c.pos-1] }

// Columns returns the result's column names.
func (c *Cursor) Columns() []string { return c.res.Columns }

// Value returns column i of the current row.
func (c *Cursor) Value(i int) value.Value { return c.row()[i] }

// Int returns column i coerced to int64, with ok=false on kind mismatch.
func (c *Cursor) Int(i int) (int64, bool) {
	v := c.row()[i]
	if v.Kind != value.KindInt {
		return 0, false
	}
	return v.Int, true
}

// Float returns column i as float64, coercing Int.
func (c *Cursor) Float(i int) (float64, bool) {
	v := c.row()[i]
	if !v.IsNumber() {
		return 0, false
	}
	return v.AsFloat64(), true
}

// String returns column i's string value.
func (c *Cursor) String(i int) (string, bool) {
	v := c.row()[i]
	if v.Kind != value.KindString {
		return "", false
	}
	return v.Str, true
}

// Bool returns column i's boolean value.
func (c *Cursor) Bool(i int) (bool, bool) {
	v := c.row()[i]
	if v.Kind != value.KindBool {
		return false, false
	}
	return v.Bool, true
}

// IsNull reports whether column i is null.
func (c *Cursor) IsNull(i int) bool { return c.row()[i].IsNull() }
