package planner

import (
	"fmt"
	"strings"

	"github.com/nervusdb/nervusdb/executor"
)

// Explain renders the plan tree one operator per line, children indented,
// for diagnostics and tests. Not part of the Cypher surface.
func (p *Plan) Explain() string {
	var b strings.Builder
	renderNode(&b, p.Root, 0)
	return b.String()
}

func indent(b *strings.Builder, depth int) {
	for i := 0; i < depth; i++ {
		b.WriteString("  ")
	}
}

func renderNode(b *strings.Builder, n executor.Node, depth int) {
	indent(b, depth)
	switch op := n.(type) {
	case *executor.ReturnOne:
		b.WriteString("ReturnOne\n")
	case *executor.NodeScan:
		if op.Label != nil {
			fmt.Fprintf(b, "NodeScan(%s, label=%d, optional=%v)\n", op.Alias, *op.Label, op.Optional)
		} else {
			fmt.Fprintf(b, "NodeScan(%s, optional=%v)\n", op.Alias, op.Optional)
		}
	case *executor.IndexSeek:
		fmt.Fprintf(b, "IndexSeek(%s, %s.%s)\n", op.Alias, op.LabelName, op.Field)
		if op.Fallback != nil {
			renderNode(b, op.Fallback, depth+1)
		}
	case *executor.VectorTopKScan:
		fmt.Fprintf(b, "VectorTopKScan(%s, k=%d)\n", op.Alias, op.K)
	case *executor.MatchOneHop:
		fmt.Fprintf(b, "Expand(%s)-[%s]-(%s) dir=%d optional=%v\n", op.SrcAlias, op.RelAlias, op.DstAlias, op.Dir, op.Optional)
		renderNode(b, op.Input, depth+1)
	case *executor.MatchOutVarLen:
		fmt.Fprintf(b, "ExpandVarLen(%s)-[*%d..%d]-(%s)\n", op.SrcAlias, op.Min, op.Max, op.DstAlias)
		renderNode(b, op.Input, depth+1)
	case *executor.MatchBoundRel:
		fmt.Fprintf(b, "BoundRel(%s: %s->%s)\n", op.RelAlias, op.SrcAlias, op.DstAlias)
		renderNode(b, op.Input, depth+1)
	case *executor.Filter:
		b.WriteString("Filter\n")
		renderNode(b, op.Input, depth+1)
	case *executor.OptionalWhereFixup:
		fmt.Fprintf(b, "OptionalWhereFixup(null=%v)\n", op.NullAliases)
		renderNode(b, op.Outer, depth+1)
		renderNode(b, op.Filtered, depth+1)
	case *executor.Project:
		aliases := make([]string, len(op.Items))
		for i, it := range op.Items {
			aliases[i] = it.Alias
		}
		fmt.Fprintf(b, "Project(%s)\n", strings.Join(aliases, ", "))
		renderNode(b, op.Input, depth+1)
	case *executor.Aggregate:
		fmt.Fprintf(b, "Aggregate(groups=%d, aggs=%d)\n", len(op.GroupBy), len(op.Aggs))
		renderNode(b, op.Input, depth+1)
	case *executor.OrderBy:
		fmt.Fprintf(b, "OrderBy(keys=%d)\n", len(op.Keys))
		renderNode(b, op.Input, depth+1)
	case *executor.Skip:
		b.WriteString("Skip\n")
		renderNode(b, op.Input, depth+1)
	case *executor.Limit:
		b.WriteString("Limit\n")
		renderNode(b, op.Input, depth+1)
	case *executor.Distinct:
		b.WriteString("Distinct\n")
		renderNode(b, op.Input, depth+1)
	case *executor.Unwind:
		fmt.Fprintf(b, "Unwind(%s)\n", op.Alias)
		renderNode(b, op.Input, depth+1)
	case *executor.Union:
		fmt.Fprintf(b, "Union(all=%v)\n", op.All)
		renderNode(b, op.Left, depth+1)
		renderNode(b, op.Right, depth+1)
	case *executor.Apply:
		b.WriteString("Apply\n")
		renderNode(b, op.Input, depth+1)
	case *executor.ProcedureCall:
		fmt.Fprintf(b, "ProcedureCall(%s)\n", op.Name)
		renderNode(b, op.Input, depth+1)
	case *executor.Create:
		fmt.Fprintf(b, "Create(nodes=%d, edges=%d)\n", len(op.Nodes), len(op.Edges))
		renderNode(b, op.Input, depth+1)
	case *executor.Merge:
		b.WriteString("Merge\n")
		renderNode(b, op.Input, depth+1)
	case *executor.Set:
		fmt.Fprintf(b, "Set(items=%d)\n", len(op.Items))
		renderNode(b, op.Input, depth+1)
	case *executor.Remove:
		fmt.Fprintf(b, "Remove(items=%d)\n", len(op.Items))
		renderNode(b, op.Input, depth+1)
	case *executor.Delete:
		fmt.Fprintf(b, "Delete(detach=%v)\n", op.Detach)
		renderNode(b, op.Input, depth+1)
	case *seedAnchor:
		fmt.Fprintf(b, "SeedOrScan(%s)\n", op.Alias)
		renderNode(b, op.Input, depth+1)
	case *unify:
		fmt.Fprintf(b, "Unify(%s=%s)\n", op.Alias, op.Hidden)
		renderNode(b, op.Input, depth+1)
	case *bindPath:
		fmt.Fprintf(b, "BindPath(%s)\n", op.Alias)
		renderNode(b, op.Input, depth+1)
	case *spoolReader:
		b.WriteString("SpoolRead\n")
		renderNode(b, op.s.src, depth+1)
	default:
		fmt.Fprintf(b, "%T\n", n)
	}
}
