// Package parser implements NervusDB's recursive-descent Cypher parser
//: it turns a cypher/lexer token stream into a cypher/ast
// tree, with a precedence-climbing expression parser for the operator
// grammar (OR/XOR/AND/NOT, comparisons, STARTS WITH/ENDS WITH/CONTAINS/IN,
// additive/multiplicative/power, unary, postfix property/index/slice,
// function calls).
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nervusdb/nervusdb/cypher/ast"
	"github.com/nervusdb/nervusdb/cypher/lexer"
	"github.com/nervusdb/nervusdb/errkind"
)

// Parse tokenizes and parses src into a Query AST.
func Parse(src string) (*ast.Query, error) {
	toks, err := lexer.Tokenize(src)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindSyntaxError, "lex error", err)
	}
	p := &parser{toks: toks}
	q, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	if !p.at(lexer.EOF) {
		return nil, p.errf("unexpected trailing input %s", p.cur().Text)
	}
	return q, nil
}

type parser struct {
	toks []lexer.Token
	pos  int
}

func (p *parser) cur() lexer.Token  { return p.toks[p.pos] }
func (p *parser) peekN(n int) lexer.Token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *parser) advance() lexer.Token {
	t := p.cur()
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) at(k lexer.Kind) bool { return p.cur().Kind == k }

func (p *parser) atKeyword(kw string) bool {
	return p.cur().Kind == lexer.Keyword && p.cur().Text == kw
}

func (p *parser) atOp(op string) bool {
	return p.cur().Kind == lexer.Op && p.cur().Text == op
}

func (p *parser) errf(format string, args ...any) error {
	t := p.cur()
	msg := fmt.Sprintf(format, args...)
	return errkind.New(errkind.KindSyntaxError, fmt.Sprintf("%d:%d: %s", t.Line, t.Col, msg))
}

func (p *parser) expectOp(op string) error {
	if !p.atOp(op) {
		return p.errf("expected %q, got %q", op, p.cur().Text)
	}
	p.advance()
	return nil
}

func (p *parser) expectKeyword(kw string) error {
	if !p.atKeyword(kw) {
		return p.errf("expected %s, got %q", kw, p.cur().Text)
	}
	p.advance()
	return nil
}

// --- Query / clauses -----------------------------------------------------

func (p *parser) parseQuery() (*ast.Query, error) {
	var clauses []ast.Clause
	for {
		cl, err := p.parseClause()
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, cl)
		if p.atOp(";") {
			p.advance()
		}
		if p.at(lexer.EOF) {
			break
		}
		if !p.clauseStarts() {
			break
		}
	}
	return &ast.Query{Clauses: clauses}, nil
}

func (p *parser) clauseStarts() bool {
	if p.cur().Kind != lexer.Keyword {
		return false
	}
	switch p.cur().Text {
	case "MATCH", "OPTIONAL", "WHERE", "CREATE", "MERGE", "SET", "REMOVE",
		"DELETE", "DETACH", "WITH", "RETURN", "UNWIND", "CALL", "UNION":
		return true
	}
	return false
}

func (p *parser) parseClause() (ast.Clause, error) {
	if !p.at(lexer.Keyword) {
		return nil, p.errf("expected a clause keyword, got %q", p.cur().Text)
	}
	switch p.cur().Text {
	case "OPTIONAL":
		p.advance()
		if err := p.expectKeyword("MATCH"); err != nil {
			return nil, err
		}
		return p.parseMatch(true)
	case "MATCH":
		p.advance()
		return p.parseMatch(false)
	case "CREATE":
		p.advance()
		pat, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		return &ast.CreateClause{Pattern: pat}, nil
	case "MERGE":
		return p.parseMerge()
	case "SET":
		p.advance()
		return p.parseSet()
	case "REMOVE":
		p.advance()
		return p.parseRemove()
	case "DELETE":
		p.advance()
		return p.parseDelete(false)
	case "DETACH":
		p.advance()
		if err := p.expectKeyword("DELETE"); err != nil {
			return nil, err
		}
		return p.parseDelete(true)
	case "WITH":
		p.advance()
		return p.parseWith()
	case "RETURN":
		p.advance()
		return p.parseReturn()
	case "UNWIND":
		p.advance()
		return p.parseUnwind()
	case "CALL":
		p.advance()
		return p.parseCall()
	case "UNION":
		p.advance()
		all := false
		if p.atKeyword("ALL") {
			p.advance()
			all = true
		}
		return &ast.UnionClause{All: all}, nil
	default:
		return nil, p.errf("unexpected clause keyword %q", p.cur().Text)
	}
}

func (p *parser) parseMatch(optional bool) (ast.Clause, error) {
	pat, err := p.parsePattern()
	if err != nil {
		return nil, err
	}
	var where ast.Expr
	if p.atKeyword("WHERE") {
		p.advance()
		where, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	return &ast.MatchClause{Optional: optional, Pattern: pat, Where: where}, nil
}

func (p *parser) parseMerge() (ast.Clause, error) {
	if err := p.expectKeyword("MERGE"); err != nil {
		return nil, err
	}
	path, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	var actions []ast.MergeAction
	for p.atKeyword("ON") {
		p.advance()
		onCreate := false
		if p.atKeyword("CREATE") {
			onCreate = true
			p.advance()
		} else if err := p.expectKeyword("MATCH"); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("SET"); err != nil {
			return nil, err
		}
		items, err := p.parseSetItems()
		if err != nil {
			return nil, err
		}
		actions = append(actions, ast.MergeAction{OnCreate: onCreate, Items: items})
	}
	return &ast.MergeClause{Path: path, Actions: actions}, nil
}

func (p *parser) parseSet() (ast.Clause, error) {
	items, err := p.parseSetItems()
	if err != nil {
		return nil, err
	}
	return &ast.SetClause{Items: items}, nil
}

func (p *parser) parseSetItems() ([]ast.SetItem, error) {
	var items []ast.SetItem
	for {
		item, err := p.parseSetItem()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if p.atOp(",") {
			p.advance()
			continue
		}
		break
	}
	return items, nil
}

func (p *parser) parseSetItem() (ast.SetItem, error) {
	if !p.at(lexer.Ident) {
		return ast.SetItem{}, p.errf("expected variable in SET")
	}
	v := p.advance().Text
	if p.atOp(":") {
		var labels []string
		for p.atOp(":") {
			p.advance()
			if !p.at(lexer.Ident) {
				return ast.SetItem{}, p.errf("expected label after ':'")
			}
			labels = append(labels, p.advance().Text)
		}
		return ast.SetItem{Variable: v, Labels: labels}, nil
	}
	if p.atOp(".") {
		p.advance()
		if !p.at(lexer.Ident) {
			return ast.SetItem{}, p.errf("expected property key")
		}
		key := p.advance().Text
		if err := p.expectOp("="); err != nil {
			return ast.SetItem{}, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return ast.SetItem{}, err
		}
		return ast.SetItem{Variable: v, Property: key, Value: val}, nil
	}
	merge := false
	if p.atOp("+=") {
		merge = true
		p.advance()
	} else if err := p.expectOp("="); err != nil {
		return ast.SetItem{}, err
	}
	val, err := p.parseExpr()
	if err != nil {
		return ast.SetItem{}, err
	}
	return ast.SetItem{Variable: v, Merge: merge, Value: val}, nil
}

func (p *parser) parseRemove() (ast.Clause, error) {
	var items []ast.RemoveItem
	for {
		if !p.at(lexer.Ident) {
			return nil, p.errf("expected variable in REMOVE")
		}
		v := p.advance().Text
		if p.atOp(".") {
			p.advance()
			if !p.at(lexer.Ident) {
				return nil, p.errf("expected property key")
			}
			items = append(items, ast.RemoveItem{Variable: v, Property: p.advance().Text})
		} else if p.atOp(":") {
			var labels []string
			for p.atOp(":") {
				p.advance()
				if !p.at(lexer.Ident) {
					return nil, p.errf("expected label after ':'")
				}
				labels = append(labels, p.advance().Text)
			}
			items = append(items, ast.RemoveItem{Variable: v, Labels: labels})
		} else {
			return nil, p.errf("expected '.' or ':' after REMOVE target")
		}
		if p.atOp(",") {
			p.advance()
			continue
		}
		break
	}
	return &ast.RemoveClause{Items: items}, nil
}

func (p *parser) parseDelete(detach bool) (ast.Clause, error) {
	var exprs []ast.Expr
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
		if p.atOp(",") {
			p.advance()
			continue
		}
		break
	}
	return &ast.DeleteClause{Detach: detach, Expressions: exprs}, nil
}

func (p *parser) parseProjectionItems() ([]ast.ProjectionItem, bool, error) {
	if p.atOp("*") {
		p.advance()
		return nil, true, nil
	}
	var items []ast.ProjectionItem
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, false, err
		}
		alias := ""
		if p.atKeyword("AS") {
			p.advance()
			if !p.at(lexer.Ident) {
				return nil, false, p.errf("expected alias after AS")
			}
			alias = p.advance().Text
		}
		items = append(items, ast.ProjectionItem{Expr: e, Alias: alias})
		if p.atOp(",") {
			p.advance()
			continue
		}
		break
	}
	return items, false, nil
}

func (p *parser) parseOrderBySkipLimit() ([]ast.SortItem, ast.Expr, ast.Expr, error) {
	var order []ast.SortItem
	var skip, limit ast.Expr
	if p.atKeyword("ORDER") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, nil, nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, nil, nil, err
			}
			desc := false
			if p.atKeyword("DESC") || p.atKeyword("DESCENDING") {
				desc = true
				p.advance()
			} else if p.atKeyword("ASC") || p.atKeyword("ASCENDING") {
				p.advance()
			}
			order = append(order, ast.SortItem{Expr: e, Descending: desc})
			if p.atOp(",") {
				p.advance()
				continue
			}
			break
		}
	}
	if p.atKeyword("SKIP") {
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, nil, nil, err
		}
		skip = e
	}
	if p.atKeyword("LIMIT") {
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, nil, nil, err
		}
		limit = e
	}
	return order, skip, limit, nil
}

func (p *parser) parseWith() (ast.Clause, error) {
	distinct := false
	if p.atKeyword("DISTINCT") {
		distinct = true
		p.advance()
	}
	items, star, err := p.parseProjectionItems()
	if err != nil {
		return nil, err
	}
	var where ast.Expr
	if p.atKeyword("WHERE") {
		p.advance()
		where, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	order, skip, limit, err := p.parseOrderBySkipLimit()
	if err != nil {
		return nil, err
	}
	if where == nil && p.atKeyword("WHERE") {
		p.advance()
		where, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	return &ast.WithClause{Distinct: distinct, Items: items, Star: star, Where: where, OrderBy: order, Skip: skip, Limit: limit}, nil
}

func (p *parser) parseReturn() (ast.Clause, error) {
	distinct := false
	if p.atKeyword("DISTINCT") {
		distinct = true
		p.advance()
	}
	items, star, err := p.parseProjectionItems()
	if err != nil {
		return nil, err
	}
	order, skip, limit, err := p.parseOrderBySkipLimit()
	if err != nil {
		return nil, err
	}
	return &ast.ReturnClause{Distinct: distinct, Items: items, Star: star, OrderBy: order, Skip: skip, Limit: limit}, nil
}

func (p *parser) parseUnwind() (ast.Clause, error) {
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	if !p.at(lexer.Ident) {
		return nil, p.errf("expected variable after AS")
	}
	v := p.advance().Text
	return &ast.UnwindClause{Expr: e, Variable: v}, nil
}

func (p *parser) parseCall() (ast.Clause, error) {
	if !p.at(lexer.Ident) {
		return nil, p.errf("expected procedure name")
	}
	var nameParts []string
	nameParts = append(nameParts, p.advance().Text)
	for p.atOp(".") {
		p.advance()
		if !p.at(lexer.Ident) {
			return nil, p.errf("expected identifier after '.'")
		}
		nameParts = append(nameParts, p.advance().Text)
	}
	name := strings.Join(nameParts, ".")
	var args []ast.Expr
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	if !p.atOp(")") {
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, e)
			if p.atOp(",") {
				p.advance()
				continue
			}
			break
		}
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	var yield []ast.ProjectionItem
	if p.atKeyword("YIELD") {
		p.advance()
		items, _, err := p.parseProjectionItems()
		if err != nil {
			return nil, err
		}
		yield = items
	}
	return &ast.CallClause{Name: name, Args: args, Yield: yield}, nil
}

// --- Patterns --------------------------------------------------------------

func (p *parser) parsePattern() (ast.Pattern, error) {
	var paths []ast.Path
	for {
		path, err := p.parsePath()
		if err != nil {
			return ast.Pattern{}, err
		}
		paths = append(paths, path)
		if p.atOp(",") {
			p.advance()
			continue
		}
		break
	}
	return ast.Pattern{Paths: paths}, nil
}

func (p *parser) parsePath() (ast.Path, error) {
	variable := ""
	if p.at(lexer.Ident) && p.peekN(1).Kind == lexer.Op && p.peekN(1).Text == "=" && p.peekN(2).Kind == lexer.Op && p.peekN(2).Text == "(" {
		variable = p.advance().Text
		p.advance() // '='
	}
	node, err := p.parseNodePattern()
	if err != nil {
		return ast.Path{}, err
	}
	elems := []ast.PatternElement{{Node: node}}
	for p.atOp("-") || p.atOp("<-") {
		rel, err := p.parseRelPattern()
		if err != nil {
			return ast.Path{}, err
		}
		elems = append(elems, ast.PatternElement{Rel: rel})
		n2, err := p.parseNodePattern()
		if err != nil {
			return ast.Path{}, err
		}
		elems = append(elems, ast.PatternElement{Node: n2})
	}
	return ast.Path{Variable: variable, Elements: elems}, nil
}

func (p *parser) parseNodePattern() (*ast.NodePattern, error) {
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	n := &ast.NodePattern{Properties: map[string]ast.Expr{}}
	if p.at(lexer.Ident) {
		n.Variable = p.advance().Text
	}
	for p.atOp(":") {
		p.advance()
		if !p.at(lexer.Ident) {
			return nil, p.errf("expected label after ':'")
		}
		n.Labels = append(n.Labels, p.advance().Text)
	}
	if p.atOp("{") {
		props, err := p.parseMapBody()
		if err != nil {
			return nil, err
		}
		n.Properties = props
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	return n, nil
}

func (p *parser) parseRelPattern() (*ast.RelPattern, error) {
	rel := &ast.RelPattern{Properties: map[string]ast.Expr{}}
	first := p.advance() // '-' or '<-'
	hasBracket := p.atOp("[")
	if hasBracket {
		p.advance()
		if p.at(lexer.Ident) {
			rel.Variable = p.advance().Text
		}
		if p.atOp(":") {
			for {
				p.advance() // ':' or '|'
				if !p.at(lexer.Ident) && p.cur().Kind != lexer.Keyword {
					return nil, p.errf("expected relationship type")
				}
				rel.Types = append(rel.Types, p.advance().Text)
				if p.atOp("|") {
					continue
				}
				break
			}
		}
		if p.atOp("*") {
			p.advance()
			rel.VarLength = true
			if p.at(lexer.Int) {
				n, _ := strconv.Atoi(p.advance().Text)
				if p.atOp("..") {
					p.advance()
					rel.MinHops = &n
					if p.at(lexer.Int) {
						m, _ := strconv.Atoi(p.advance().Text)
						rel.MaxHops = &m
					}
				} else {
					rel.MinHops = &n
					rel.MaxHops = &n
				}
			} else if p.atOp("..") {
				p.advance()
				if p.at(lexer.Int) {
					m, _ := strconv.Atoi(p.advance().Text)
					rel.MaxHops = &m
				}
			}
		}
		if p.atOp("{") {
			props, err := p.parseMapBody()
			if err != nil {
				return nil, err
			}
			rel.Properties = props
		}
		if err := p.expectOp("]"); err != nil {
			return nil, err
		}
	}
	second := p.advance() // '-' or '->'
	switch {
	case first.Text == "<-" && second.Text == "-":
		rel.Direction = ast.DirIncoming
	case first.Text == "-" && second.Text == "->":
		rel.Direction = ast.DirOutgoing
	case first.Text == "-" && second.Text == "-":
		rel.Direction = ast.DirEither
	default:
		return nil, p.errf("malformed relationship arrow %q%q", first.Text, second.Text)
	}
	return rel, nil
}

func (p *parser) parseMapBody() (map[string]ast.Expr, error) {
	if err := p.expectOp("{"); err != nil {
		return nil, err
	}
	m := map[string]ast.Expr{}
	if !p.atOp("}") {
		for {
			var key string
			if p.at(lexer.Ident) {
				key = p.advance().Text
			} else if p.at(lexer.Keyword) {
				key = strings.ToLower(p.advance().Text)
			} else {
				return nil, p.errf("expected map key")
			}
			if err := p.expectOp(":"); err != nil {
				return nil, err
			}
			v, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			m[key] = v
			if p.atOp(",") {
				p.advance()
				continue
			}
			break
		}
	}
	if err := p.expectOp("}"); err != nil {
		return nil, err
	}
	return m, nil
}

// --- Expressions -----------------------------------------------------------

func (p *parser) parseExpr() (ast.Expr, error) { return p.parseOr() }

func (p *parser) parseOr() (ast.Expr, error) {
	left, err := p.parseXor()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("OR") {
		p.advance()
		right, err := p.parseXor()
		if err != nil {
			return nil, err
		}
		left = &ast.Binary{Op: ast.OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseXor() (ast.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("XOR") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &ast.Binary{Op: ast.OpXor, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (ast.Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("AND") {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &ast.Binary{Op: ast.OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (ast.Expr, error) {
	if p.atKeyword("NOT") {
		p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &ast.Unary{Op: ast.OpNot, Operand: operand}, nil
	}
	return p.parseComparison()
}

var cmpOps = map[string]ast.BinaryOp{
	"=": ast.OpEq, "<>": ast.OpNeq, "<": ast.OpLt, "<=": ast.OpLte, ">": ast.OpGt, ">=": ast.OpGte,
}

func (p *parser) parseComparison() (ast.Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		if p.at(lexer.Op) {
			if op, ok := cmpOps[p.cur().Text]; ok {
				p.advance()
				right, err := p.parseAdditive()
				if err != nil {
					return nil, err
				}
				left = &ast.Binary{Op: op, Left: left, Right: right}
				continue
			}
		}
		if p.atKeyword("IN") {
			p.advance()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &ast.Binary{Op: ast.OpIn, Left: left, Right: right}
			continue
		}
		if p.atKeyword("STARTS") {
			p.advance()
			if err := p.expectKeyword("WITH"); err != nil {
				return nil, err
			}
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &ast.Binary{Op: ast.OpStartsWith, Left: left, Right: right}
			continue
		}
		if p.atKeyword("ENDS") {
			p.advance()
			if err := p.expectKeyword("WITH"); err != nil {
				return nil, err
			}
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &ast.Binary{Op: ast.OpEndsWith, Left: left, Right: right}
			continue
		}
		if p.atKeyword("CONTAINS") {
			p.advance()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &ast.Binary{Op: ast.OpContains, Left: left, Right: right}
			continue
		}
		if p.atKeyword("IS") {
			p.advance()
			neg := false
			if p.atKeyword("NOT") {
				neg = true
				p.advance()
			}
			if err := p.expectKeyword("NULL"); err != nil {
				return nil, err
			}
			if neg {
				left = &ast.Unary{Op: ast.OpIsNotNull, Operand: left}
			} else {
				left = &ast.Unary{Op: ast.OpIsNull, Operand: left}
			}
			continue
		}
		break
	}
	return left, nil
}

func (p *parser) parseAdditive() (ast.Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.atOp("+") || p.atOp("-") {
		op := ast.OpAdd
		if p.cur().Text == "-" {
			op = ast.OpSub
		}
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &ast.Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (ast.Expr, error) {
	left, err := p.parsePower()
	if err != nil {
		return nil, err
	}
	for p.atOp("*") || p.atOp("/") || p.atOp("%") {
		var op ast.BinaryOp
		switch p.cur().Text {
		case "*":
			op = ast.OpMul
		case "/":
			op = ast.OpDiv
		default:
			op = ast.OpMod
		}
		p.advance()
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		left = &ast.Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parsePower() (ast.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if p.atOp("^") {
		p.advance()
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		return &ast.Binary{Op: ast.OpPow, Left: left, Right: right}, nil
	}
	return left, nil
}

func (p *parser) parseUnary() (ast.Expr, error) {
	if p.atOp("-") {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.Unary{Op: ast.OpNeg, Operand: operand}, nil
	}
	if p.atOp("+") {
		p.advance()
		return p.parseUnary()
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (ast.Expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.atOp("."):
			p.advance()
			if !p.at(lexer.Ident) {
				return nil, p.errf("expected property key after '.'")
			}
			e = &ast.PropertyAccess{Target: e, Key: p.advance().Text}
		case p.atOp("["):
			p.advance()
			ne, err := p.parseIndexOrSlice(e)
			if err != nil {
				return nil, err
			}
			e = ne
		default:
			return e, nil
		}
	}
}

// parseIndexOrSlice consumes the body after an already-eaten '['.
func (p *parser) parseIndexOrSlice(target ast.Expr) (ast.Expr, error) {
	if p.atOp("..") {
		p.advance()
		hiExplicitNull, hi, err := p.parseOptBound()
		if err != nil {
			return nil, err
		}
		if err := p.expectOp("]"); err != nil {
			return nil, err
		}
		return &ast.Slice{Target: target, Hi: hi, HiExplicitNull: hiExplicitNull}, nil
	}
	first, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.atOp("..") {
		p.advance()
		if p.atOp("]") {
			p.advance()
			return &ast.Slice{Target: target, Lo: first}, nil
		}
		hiExplicitNull, hi, err := p.parseOptBound()
		if err != nil {
			return nil, err
		}
		if err := p.expectOp("]"); err != nil {
			return nil, err
		}
		return &ast.Slice{Target: target, Lo: first, Hi: hi, HiExplicitNull: hiExplicitNull}, nil
	}
	if err := p.expectOp("]"); err != nil {
		return nil, err
	}
	return &ast.Index{Target: target, Idx: first}, nil
}

// parseOptBound parses a slice bound that may be an explicit `null`
// (distinguished from "omitted").
func (p *parser) parseOptBound() (explicitNull bool, e ast.Expr, err error) {
	if p.atKeyword("NULL") {
		p.advance()
		return true, nil, nil
	}
	e, err = p.parseExpr()
	return false, e, err
}

func (p *parser) parsePrimary() (ast.Expr, error) {
	t := p.cur()
	switch t.Kind {
	case lexer.Int:
		p.advance()
		n, err := strconv.ParseInt(t.Text, 10, 64)
		if err != nil {
			return nil, p.errf("invalid integer literal %q", t.Text)
		}
		return &ast.Literal{Kind: ast.LitInt, Int: n}, nil
	case lexer.Float:
		p.advance()
		f, err := strconv.ParseFloat(t.Text, 64)
		if err != nil {
			return nil, p.errf("invalid float literal %q", t.Text)
		}
		return &ast.Literal{Kind: ast.LitFloat, Float: f}, nil
	case lexer.String:
		p.advance()
		return &ast.Literal{Kind: ast.LitString, Str: t.Text}, nil
	case lexer.Parameter:
		p.advance()
		return &ast.Parameter{Name: t.Text}, nil
	case lexer.Keyword:
		switch t.Text {
		case "TRUE":
			p.advance()
			return &ast.Literal{Kind: ast.LitBool, Bool: true}, nil
		case "FALSE":
			p.advance()
			return &ast.Literal{Kind: ast.LitBool, Bool: false}, nil
		case "NULL":
			p.advance()
			return &ast.Literal{Kind: ast.LitNull}, nil
		case "NOT":
			p.advance()
			operand, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			return &ast.Unary{Op: ast.OpNot, Operand: operand}, nil
		case "CASE":
			return p.parseCase()
		case "EXISTS":
			return p.parseExists()
		}
		return nil, p.errf("unexpected keyword %q in expression", t.Text)
	case lexer.Op:
		switch t.Text {
		case "(":
			p.advance()
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectOp(")"); err != nil {
				return nil, err
			}
			return e, nil
		case "[":
			return p.parseListLiteralOrComprehension()
		case "{":
			m, err := p.parseMapBody()
			if err != nil {
				return nil, err
			}
			keys := make([]string, 0, len(m))
			vals := make([]ast.Expr, 0, len(m))
			for k, v := range m {
				keys = append(keys, k)
				vals = append(vals, v)
			}
			return &ast.MapLiteral{Keys: keys, Values: vals}, nil
		}
		return nil, p.errf("unexpected token %q in expression", t.Text)
	case lexer.Ident:
		return p.parseIdentOrCall()
	default:
		return nil, p.errf("unexpected token in expression")
	}
}

func (p *parser) parseIdentOrCall() (ast.Expr, error) {
	name := p.advance().Text
	// Namespaced function names (datetime.truncate, vec.similarity): a
	// `.ident(` suffix extends the call name rather than starting a
	// property access.
	for p.atOp(".") && p.peekN(1).Kind == lexer.Ident && p.peekN(2).Kind == lexer.Op && p.peekN(2).Text == "(" {
		p.advance()
		name = name + "." + p.advance().Text
	}
	if p.atOp("(") {
		p.advance()
		distinct := false
		if p.atKeyword("DISTINCT") {
			distinct = true
			p.advance()
		}
		var args []ast.Expr
		if !p.atOp(")") {
			if p.atOp("*") { // count(*)
				p.advance()
				args = append(args, &ast.Literal{Kind: ast.LitInt, Int: 1})
			} else {
				for {
					e, err := p.parseExpr()
					if err != nil {
						return nil, err
					}
					args = append(args, e)
					if p.atOp(",") {
						p.advance()
						continue
					}
					break
				}
			}
		}
		if err := p.expectOp(")"); err != nil {
			return nil, err
		}
		return &ast.FunctionCall{Name: name, Args: args, Distinct: distinct}, nil
	}
	return &ast.Variable{Name: name}, nil
}

func (p *parser) parseListLiteralOrComprehension() (ast.Expr, error) {
	if err := p.expectOp("["); err != nil {
		return nil, err
	}
	if p.atOp("]") {
		p.advance()
		return &ast.ListLiteral{}, nil
	}
	// Disambiguate `[x IN list ...]` from a plain list literal by
	// look-ahead: identifier immediately followed by IN.
	if p.at(lexer.Ident) && p.peekN(1).Kind == lexer.Keyword && p.peekN(1).Text == "IN" {
		v := p.advance().Text
		p.advance() // IN
		list, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		var where, project ast.Expr
		if p.atKeyword("WHERE") {
			p.advance()
			where, err = p.parseExpr()
			if err != nil {
				return nil, err
			}
		}
		if p.atOp("|") {
			p.advance()
			project, err = p.parseExpr()
			if err != nil {
				return nil, err
			}
		}
		if err := p.expectOp("]"); err != nil {
			return nil, err
		}
		return &ast.ListComprehension{Variable: v, List: list, Where: where, Project: project}, nil
	}
	var items []ast.Expr
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		items = append(items, e)
		if p.atOp(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectOp("]"); err != nil {
		return nil, err
	}
	return &ast.ListLiteral{Items: items}, nil
}

func (p *parser) parseCase() (ast.Expr, error) {
	if err := p.expectKeyword("CASE"); err != nil {
		return nil, err
	}
	c := &ast.Case{}
	if !p.atKeyword("WHEN") {
		subj, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Subject = subj
	}
	for p.atKeyword("WHEN") {
		p.advance()
		when, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		then, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Whens = append(c.Whens, ast.CaseWhen{When: when, Then: then})
	}
	if p.atKeyword("ELSE") {
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Else = e
	}
	if err := p.expectKeyword("END"); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *parser) parseExists() (ast.Expr, error) {
	if err := p.expectKeyword("EXISTS"); err != nil {
		return nil, err
	}
	if err := p.expectOp("{"); err != nil {
		return nil, err
	}
	// A subquery starts with a clause keyword (MATCH/OPTIONAL/RETURN/...);
	// a bare pattern predicate starts with a node pattern '('.
	if p.atOp("(") {
		pat, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		var where ast.Expr
		if p.atKeyword("WHERE") {
			p.advance()
			where, err = p.parseExpr()
			if err != nil {
				return nil, err
			}
		}
		if err := p.expectOp("}"); err != nil {
			return nil, err
		}
		return &ast.ExistsPattern{Pattern: pat, Where: where}, nil
	}
	q, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	if err := p.expectOp("}"); err != nil {
		return nil, err
	}
	return &ast.ExistsSubquery{Query: q}, nil
}
