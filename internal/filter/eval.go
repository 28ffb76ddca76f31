// ABOUTME: Expression tree nodes and their evaluation against a Node.
// ABOUTME: and/or short-circuit left to right; missing data evaluates false.

package filter

import (
	"fmt"
	"strconv"
)

type expr interface {
	eval(n *Node) bool
}

type binaryExpr struct {
	and         bool
	left, right expr
}

func (b *binaryExpr) eval(n *Node) bool {
	if b.and {
		return b.left.eval(n) && b.right.eval(n)
	}
	return b.left.eval(n) || b.right.eval(n)
}

type notExpr struct {
	operand expr
}

func (x *notExpr) eval(n *Node) bool { return !x.operand.eval(n) }

type factExpr struct {
	fact FactFilter
}

func (f *factExpr) eval(n *Node) bool { return f.fact.Match(n.Facts) }

type classExpr struct {
	class string
}

func (c *classExpr) eval(n *Node) bool { return n.HasClass(c.class) }

type callExpr struct {
	name      string
	args      []string
	attribute string
	op        string
	value     string
}

func (c *callExpr) eval(n *Node) bool {
	fn, ok := n.Functions[c.name]
	if !ok {
		return false
	}
	result, err := fn(c.args...)
	if err != nil {
		return false
	}

	if c.attribute != "" {
		fields, ok := result.(map[string]any)
		if !ok {
			return false
		}
		result, ok = fields[c.attribute]
		if !ok {
			return false
		}
	}

	if c.op == "" {
		return truthy(result)
	}
	return compare(stringify(result), c.op, c.value)
}

// Eval reports whether the node satisfies the expression.
func (e *Expression) Eval(n *Node) bool {
	return e.root.eval(n)
}

func walk(e expr, visit func(expr)) {
	visit(e)
	switch x := e.(type) {
	case *binaryExpr:
		walk(x.left, visit)
		walk(x.right, visit)
	case *notExpr:
		walk(x.operand, visit)
	}
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int:
		return x != 0
	case int64:
		return x != 0
	case float64:
		return x != 0
	default:
		return true
	}
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
