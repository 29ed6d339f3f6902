package executor

import (
	"sort"

	"github.com/nervusdb/nervusdb/errkind"
	"github.com/nervusdb/nervusdb/value"
)

// Procedure is one CALL-able builtin: given the already-evaluated argument
// values, it returns the rows it yields (each a plain []value.Value
// positional tuple, ordered to match Yield names by position).
type Procedure func(ctx *Context, args []value.Value) ([][]value.Value, error)

// ProcedureRegistry resolves a CALL clause's procedure name to its
// implementation and declared output column names.
type ProcedureRegistry struct {
	procs   map[string]Procedure
	outputs map[string][]string
}

// NewProcedureRegistry builds a registry pre-populated with NervusDB's
// built-in introspection procedures.
func NewProcedureRegistry() *ProcedureRegistry {
	r := &ProcedureRegistry{
		procs:   make(map[string]Procedure),
		outputs: make(map[string][]string),
	}
	r.Register("db.labels", []string{"label"}, procDBLabels)
	r.Register("db.relationshipTypes", []string{"relationshipType"}, procDBRelationshipTypes)
	r.Register("db.propertyKeys", []string{"propertyKey"}, procDBPropertyKeys)
	return r
}

// Register adds or replaces a named procedure, recording its output column
// names in declaration order.
func (r *ProcedureRegistry) Register(name string, outputs []string, fn Procedure) {
	r.procs[name] = fn
	r.outputs[name] = outputs
}

// Lookup returns name's implementation and output columns, or ok=false
// when no such procedure is registered.
func (r *ProcedureRegistry) Lookup(name string) (Procedure, []string, bool) {
	fn, ok := r.procs[name]
	if !ok {
		return nil, nil, false
	}
	return fn, r.outputs[name], true
}

// ProcedureCall invokes Registry.Lookup(Name) once per plan execution (not
// per input row: CALL db.labels() is not correlated with MATCH), joining
// its output rows against Input by cross product, and projecting each
// output row's columns under the CALL clause's YIELD aliases.
type ProcedureCall struct {
	Input   Node
	Name    string
	Args    []value.Value
	Yield   []string // alias per output column, same order as the procedure's declared outputs; empty means "use declared names"

	rows    [][]value.Value
	cols    []string
	ranOnce bool

	outerRow  Row
	haveOuter bool
	rowIdx    int
}

func (n *ProcedureCall) Next(ctx *Context) (Row, bool, error) {
	if !n.ranOnce {
		n.ranOnce = true
		if ctx.Registry == nil {
			return nil, false, errkind.New(errkind.KindProcedureNotFound, "no procedures registered")
		}
		fn, cols, ok := ctx.Registry.Lookup(n.Name)
		if !ok {
			return nil, false, errkind.New(errkind.KindProcedureNotFound, "unknown procedure "+n.Name)
		}
		rows, err := fn(ctx, n.Args)
		if err != nil {
			return nil, false, err
		}
		n.rows = rows
		if len(n.Yield) > 0 {
			if len(n.Yield) != len(cols) {
				return nil, false, errkind.New(errkind.KindInvalidNumberOfArguments, "YIELD column count does not match procedure "+n.Name)
			}
			n.cols = n.Yield
		} else {
			n.cols = cols
		}
	}

	for {
		if !n.haveOuter {
			row, ok, err := n.Input.Next(ctx)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, false, nil
			}
			n.outerRow = row
			n.haveOuter = true
			n.rowIdx = 0
		}
		if n.rowIdx >= len(n.rows) {
			n.haveOuter = false
			continue
		}
		procRow := n.rows[n.rowIdx]
		n.rowIdx++
		out := n.outerRow.Clone()
		for i, col := range n.cols {
			if i < len(procRow) {
				out[col] = procRow[i]
			}
		}
		if err := ctx.countRow("ProcedureCall"); err != nil {
			return nil, false, err
		}
		return out, true, nil
	}
}

func procDBLabels(ctx *Context, _ []value.Value) ([][]value.Value, error) {
	names := ctx.Snap.Labels.Names()
	sort.Strings(names)
	out := make([][]value.Value, len(names))
	for i, name := range names {
		out[i] = []value.Value{value.String(name)}
	}
	return out, nil
}

func procDBRelationshipTypes(ctx *Context, _ []value.Value) ([][]value.Value, error) {
	names := ctx.Snap.RelTypes.Names()
	sort.Strings(names)
	out := make([][]value.Value, len(names))
	for i, name := range names {
		out[i] = []value.Value{value.String(name)}
	}
	return out, nil
}

func procDBPropertyKeys(ctx *Context, _ []value.Value) ([][]value.Value, error) {
	keys := ctx.Snap.PropKeys.Names()
	sort.Strings(keys)
	out := make([][]value.Value, len(keys))
	for i, key := range keys {
		out[i] = []value.Value{value.String(key)}
	}
	return out, nil
}
