// Package executor implements NervusDB's plan tree: a small set of
// streaming, pull-based iterator operators that double as the
// planner's Plan nodes — there is no separate intermediate representation,
// the compiled tree of Node values IS the plan. Each operator pulls rows
// from its Input on demand, the classic volcano/iterator-model shape.
package executor

import (
	"time"

	"github.com/nervusdb/nervusdb/engine"
	"github.com/nervusdb/nervusdb/errkind"
	"github.com/nervusdb/nervusdb/eval"
	"github.com/nervusdb/nervusdb/snapshot"
	"github.com/nervusdb/nervusdb/value"
)

// Row is one binding set flowing through the plan tree.
type Row = eval.Row

// Limits carries the per-execution guardrail configuration.
type Limits struct {
	MaxIntermediateRows  int64
	MaxCollectionItems   int64
	MaxApplyRowsPerOuter int64
	SoftTimeoutMS        int64
}

// DefaultLimits matches a permissive but non-infinite default, generous
// enough for interactive use while still catching runaway plans.
func DefaultLimits() Limits {
	return Limits{
		MaxIntermediateRows:  1_000_000,
		MaxCollectionItems:   1_000_000,
		MaxApplyRowsPerOuter: 100_000,
		SoftTimeoutMS:        30_000,
	}
}

// Context bundles everything a plan tree needs to execute one query: the snapshot every read operator scans, the query parameters,
// an optional write transaction (non-nil only inside execute_write), the
// procedure registry CALL resolves against, and the guardrail counters.
type Context struct {
	Snap     *snapshot.Snapshot
	Params   map[string]value.Value
	Write    *engine.WriteTx
	Registry *ProcedureRegistry
	Compiler Compiler

	Limits Limits

	startedAt     time.Time
	emittedRows   int64
	collectionCap int64
}

// NewContext builds an execution context for a read-only plan.
func NewContext(snap *snapshot.Snapshot, params map[string]value.Value, limits Limits, reg *ProcedureRegistry) *Context {
	return &Context{Snap: snap, Params: params, Limits: limits, Registry: reg}
}

// WithWrite returns a copy of ctx bound to an in-flight write transaction,
// used by execute_write to unlock the write-only plan nodes.
func (c *Context) WithWrite(tx *engine.WriteTx) *Context {
	cp := *c
	cp.Write = tx
	return &cp
}

// refreshAfterWrite re-snapshots the in-flight write transaction so the
// next operator or row observes the writes this one just staged.
func (c *Context) refreshAfterWrite() {
	if c.Write != nil {
		c.Snap = c.Write.Snapshot()
	}
}

// start records the monotonic clock origin at the first pulled row.
func (c *Context) start() {
	if c.startedAt.IsZero() {
		c.startedAt = time.Now()
	}
}

// checkTimeout is polled between rows by every streaming operator.
func (c *Context) checkTimeout() error {
	c.start()
	if c.Limits.SoftTimeoutMS <= 0 {
		return nil
	}
	elapsed := time.Since(c.startedAt).Milliseconds()
	if elapsed > c.Limits.SoftTimeoutMS {
		return &errkind.ResourceLimitError{
			ResourceKind: errkind.ResourceTimeout,
			Limit:        c.Limits.SoftTimeoutMS,
			Observed:     elapsed,
			Stage:        "timeout",
		}
	}
	return nil
}

// countRow increments the emitted-row guardrail counter.
func (c *Context) countRow(stage string) error {
	c.emittedRows++
	if c.Limits.MaxIntermediateRows > 0 && c.emittedRows > c.Limits.MaxIntermediateRows {
		return &errkind.ResourceLimitError{
			ResourceKind: errkind.ResourceIntermediateRows,
			Limit:        c.Limits.MaxIntermediateRows,
			Observed:     c.emittedRows,
			Stage:        stage,
		}
	}
	return nil
}

// countItems guards list-construction sites (range, Unwind.list,
// Aggregate collect) against unbounded materialization.
func (c *Context) countItems(stage string, n int) error {
	if c.Limits.MaxCollectionItems <= 0 {
		return nil
	}
	if int64(n) > c.Limits.MaxCollectionItems {
		return &errkind.ResourceLimitError{
			ResourceKind: errkind.ResourceCollectionItems,
			Limit:        c.Limits.MaxCollectionItems,
			Observed:     int64(n),
			Stage:        stage,
		}
	}
	return nil
}

// Node is implemented by every plan operator: pull one row at a time,
// reporting ok=false once exhausted.
type Node interface {
	Next(ctx *Context) (Row, bool, error)
}

// evalCtx adapts an executor Context + Row into the eval package's pure
// evaluation context, wiring EXISTS{} back through this package's Apply
// machinery via the SubqueryRunner interface.
func evalCtx(ctx *Context, row Row) *eval.Context {
	return &eval.Context{Row: row, Params: ctx.Params, Snap: ctx.Snap, Exists: existsRunner{ctx}}
}

// Collect drains up to limit rows (limit<0 for all) from n, for tests and
// for operators that materialize their input.
func Collect(ctx *Context, n Node, limit int) ([]Row, error) {
	var out []Row
	for limit < 0 || len(out) < limit {
		row, ok, err := n.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			break
		}
		out = append(out, row)
	}
	return out, nil
}
