// Package sandbox evaluates short untrusted programs against a bounded set of
// named values. Programs are parsed with go/parser and interpreted over a
// small statement and expression subset; anything that could touch the
// file system, the network, or the process is rejected statically before
// evaluation with an error whose text contains "Security".
package sandbox

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout bounds wall-clock evaluation time.
const DefaultTimeout = 1 * time.Second

// Result is the outcome of one evaluation.
type Result struct {
	Success         bool           `json:"success"`
	Result          any            `json:"result"`
	Variables       map[string]any `json:"variables"`
	Error           string         `json:"error,omitempty"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
}

// Names that would reach outside the sandbox if they resolved to anything.
var forbiddenNames = map[string]bool{
	"open": true, "file": true, "exec": true, "eval": true, "compile": true,
	"import": true, "os": true, "io": true, "net": true, "socket": true,
	"syscall": true, "unsafe": true, "globals": true, "locals": true,
	"getattr": true, "setattr": true, "delattr": true, "input": true,
	"subprocess": true, "panic": true, "recover": true,
}

// Execute evaluates code with the default timeout. locals seeds the
// namespace; it is never mutated.
func Execute(code string, locals map[string]any) *Result {
	return ExecuteWithTimeout(code, locals, DefaultTimeout)
}

// ExecuteWithTimeout evaluates code against locals within the given
// wall-clock budget. The returned Variables map holds every name bound by
// the program, excluding the seeded locals.
func ExecuteWithTimeout(code string, locals map[string]any, timeout time.Duration) *Result {
	start := time.Now()
	res := &Result{Variables: map[string]any{}}
	fail := func(err error) *Result {
		res.Success = false
		res.Error = err.Error()
		res.ExecutionTimeMS = time.Since(start).Milliseconds()
		return res
	}

	stmts, err := parseProgram(code)
	if err != nil {
		return fail(err)
	}
	for _, stmt := range stmts {
		if err := screen(stmt); err != nil {
			return fail(err)
		}
	}

	ev := &evaluator{
		scope:    map[string]any{},
		deadline: start.Add(timeout),
	}
	for k, v := range locals {
		ev.scope[k] = v
	}

	value, err := ev.run(stmts)
	if err != nil {
		return fail(err)
	}

	res.Success = true
	res.Result = value
	for k, v := range ev.scope {
		if _, seeded := locals[k]; !seeded {
			res.Variables[k] = v
		}
	}
	res.ExecutionTimeMS = time.Since(start).Milliseconds()
	return res
}

// Truthy coerces an evaluation result to a boolean, for edge conditions.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case int:
		return x != 0
	case int64:
		return x != 0
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}

func parseProgram(code string) ([]ast.Stmt, error) {
	src := "package sandbox\nfunc body() {\n" + code + "\n}"
	file, err := parser.ParseFile(token.NewFileSet(), "program", src, parser.SkipObjectResolution)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	for _, decl := range file.Decls {
		if fn, ok := decl.(*ast.FuncDecl); ok && fn.Name.Name == "body" {
			return fn.Body.List, nil
		}
	}
	return nil, fmt.Errorf("parse error: no program body")
}

// screen statically rejects constructs that could escape the sandbox.
func screen(node ast.Node) error {
	var violation error
	ast.Inspect(node, func(n ast.Node) bool {
		if violation != nil {
			return false
		}
		switch x := n.(type) {
		case *ast.Ident:
			if forbiddenNames[x.Name] || strings.Contains(x.Name, "__") {
				violation = fmt.Errorf("Security violation: forbidden name %q", x.Name)
			}
		case *ast.SelectorExpr:
			if strings.Contains(x.Sel.Name, "__") {
				violation = fmt.Errorf("Security violation: forbidden attribute %q", x.Sel.Name)
			}
		case *ast.ForStmt, *ast.RangeStmt:
			violation = fmt.Errorf("Security violation: loops are not permitted")
		case *ast.GoStmt, *ast.DeferStmt, *ast.SelectStmt, *ast.ChanType:
			violation = fmt.Errorf("Security violation: concurrency constructs are not permitted")
		case *ast.FuncLit:
			violation = fmt.Errorf("Security violation: function literals are not permitted")
		}
		return true
	})
	return violation
}

type evaluator struct {
	scope    map[string]any
	deadline time.Time
}

// run executes statements in order. The value of the last expression or
// return statement becomes the program result.
func (ev *evaluator) run(stmts []ast.Stmt) (any, error) {
	var result any
	for _, stmt := range stmts {
		if time.Now().After(ev.deadline) {
			return nil, fmt.Errorf("timeout: evaluation exceeded wall-clock budget")
		}
		value, returned, err := ev.stmt(stmt)
		if err != nil {
			return nil, err
		}
		if value != nil || returned {
			result = value
		}
		if returned {
			return result, nil
		}
	}
	return result, nil
}

func (ev *evaluator) stmt(stmt ast.Stmt) (value any, returned bool, err error) {
	switch s := stmt.(type) {
	case *ast.AssignStmt:
		return nil, false, ev.assign(s)
	case *ast.ExprStmt:
		v, err := ev.expr(s.X)
		return v, false, err
	case *ast.ReturnStmt:
		if len(s.Results) == 0 {
			return nil, true, nil
		}
		v, err := ev.expr(s.Results[0])
		return v, true, err
	case *ast.IfStmt:
		cond, err := ev.expr(s.Cond)
		if err != nil {
			return nil, false, err
		}
		if Truthy(cond) {
			return ev.block(s.Body)
		}
		switch e := s.Else.(type) {
		case *ast.BlockStmt:
			return ev.block(e)
		case *ast.IfStmt:
			return ev.stmt(e)
		}
		return nil, false, nil
	case *ast.BlockStmt:
		return ev.block(s)
	case *ast.EmptyStmt:
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("unsupported statement %T", stmt)
	}
}

func (ev *evaluator) block(b *ast.BlockStmt) (any, bool, error) {
	var last any
	for _, stmt := range b.List {
		v, returned, err := ev.stmt(stmt)
		if err != nil {
			return nil, false, err
		}
		if v != nil || returned {
			last = v
		}
		if returned {
			return last, true, nil
		}
	}
	return last, false, nil
}

func (ev *evaluator) assign(s *ast.AssignStmt) error {
	if len(s.Lhs) != len(s.Rhs) {
		return fmt.Errorf("unsupported assignment arity")
	}
	for i, lhs := range s.Lhs {
		name, ok := lhs.(*ast.Ident)
		if !ok {
			return fmt.Errorf("unsupported assignment target %T", lhs)
		}
		value, err := ev.expr(s.Rhs[i])
		if err != nil {
			return err
		}
		if s.Tok != token.ASSIGN && s.Tok != token.DEFINE {
			current, exists := ev.scope[name.Name]
			if !exists {
				return fmt.Errorf("undefined name %q", name.Name)
			}
			op := compoundOp(s.Tok)
			if op == token.ILLEGAL {
				return fmt.Errorf("unsupported assignment operator %s", s.Tok)
			}
			value, err = binaryOp(op, current, value)
			if err != nil {
				return err
			}
		}
		ev.scope[name.Name] = value
	}
	return nil
}

func compoundOp(tok token.Token) token.Token {
	switch tok {
	case token.ADD_ASSIGN:
		return token.ADD
	case token.SUB_ASSIGN:
		return token.SUB
	case token.MUL_ASSIGN:
		return token.MUL
	case token.QUO_ASSIGN:
		return token.QUO
	default:
		return token.ILLEGAL
	}
}

func (ev *evaluator) expr(e ast.Expr) (any, error) {
	switch x := e.(type) {
	case *ast.BasicLit:
		return literal(x)
	case *ast.Ident:
		switch x.Name {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "nil":
			return nil, nil
		}
		v, ok := ev.scope[x.Name]
		if !ok {
			return nil, fmt.Errorf("undefined name %q", x.Name)
		}
		return v, nil
	case *ast.ParenExpr:
		return ev.expr(x.X)
	case *ast.UnaryExpr:
		v, err := ev.expr(x.X)
		if err != nil {
			return nil, err
		}
		switch x.Op {
		case token.SUB:
			n, ok := asNumber(v)
			if !ok {
				return nil, fmt.Errorf("cannot negate %T", v)
			}
			return -n, nil
		case token.NOT:
			return !Truthy(v), nil
		}
		return nil, fmt.Errorf("unsupported unary operator %s", x.Op)
	case *ast.BinaryExpr:
		if x.Op == token.LAND || x.Op == token.LOR {
			left, err := ev.expr(x.X)
			if err != nil {
				return nil, err
			}
			if x.Op == token.LAND && !Truthy(left) {
				return false, nil
			}
			if x.Op == token.LOR && Truthy(left) {
				return true, nil
			}
			right, err := ev.expr(x.Y)
			if err != nil {
				return nil, err
			}
			return Truthy(right), nil
		}
		left, err := ev.expr(x.X)
		if err != nil {
			return nil, err
		}
		right, err := ev.expr(x.Y)
		if err != nil {
			return nil, err
		}
		return binaryOp(x.Op, left, right)
	case *ast.IndexExpr:
		container, err := ev.expr(x.X)
		if err != nil {
			return nil, err
		}
		index, err := ev.expr(x.Index)
		if err != nil {
			return nil, err
		}
		return indexValue(container, index)
	case *ast.CallExpr:
		return ev.call(x)
	default:
		return nil, fmt.Errorf("unsupported expression %T", e)
	}
}

func (ev *evaluator) call(c *ast.CallExpr) (any, error) {
	name, ok := c.Fun.(*ast.Ident)
	if !ok {
		return nil, fmt.Errorf("unsupported call target %T", c.Fun)
	}
	args := make([]any, 0, len(c.Args))
	for _, a := range c.Args {
		v, err := ev.expr(a)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	switch name.Name {
	case "len":
		if len(args) != 1 {
			return nil, fmt.Errorf("len takes one argument")
		}
		switch v := args[0].(type) {
		case string:
			return float64(len(v)), nil
		case []any:
			return float64(len(v)), nil
		case map[string]any:
			return float64(len(v)), nil
		default:
			return nil, fmt.Errorf("len of %T", args[0])
		}
	case "abs":
		if len(args) != 1 {
			return nil, fmt.Errorf("abs takes one argument")
		}
		n, ok := asNumber(args[0])
		if !ok {
			return nil, fmt.Errorf("abs of %T", args[0])
		}
		if n < 0 {
			return -n, nil
		}
		return n, nil
	case "min", "max":
		if len(args) < 2 {
			return nil, fmt.Errorf("%s takes at least two arguments", name.Name)
		}
		best, ok := asNumber(args[0])
		if !ok {
			return nil, fmt.Errorf("%s of %T", name.Name, args[0])
		}
		for _, a := range args[1:] {
			n, ok := asNumber(a)
			if !ok {
				return nil, fmt.Errorf("%s of %T", name.Name, a)
			}
			if (name.Name == "min" && n < best) || (name.Name == "max" && n > best) {
				best = n
			}
		}
		return best, nil
	default:
		return nil, fmt.Errorf("unknown function %q", name.Name)
	}
}

func literal(lit *ast.BasicLit) (any, error) {
	switch lit.Kind {
	case token.INT:
		n, err := strconv.ParseFloat(lit.Value, 64)
		return n, err
	case token.FLOAT:
		n, err := strconv.ParseFloat(lit.Value, 64)
		return n, err
	case token.STRING, token.CHAR:
		return strconv.Unquote(lit.Value)
	default:
		return nil, fmt.Errorf("unsupported literal kind %s", lit.Kind)
	}
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func binaryOp(op token.Token, left, right any) (any, error) {
	if ls, lok := left.(string); lok {
		if rs, rok := right.(string); rok {
			switch op {
			case token.ADD:
				return ls + rs, nil
			case token.EQL:
				return ls == rs, nil
			case token.NEQ:
				return ls != rs, nil
			case token.LSS:
				return ls < rs, nil
			case token.LEQ:
				return ls <= rs, nil
			case token.GTR:
				return ls > rs, nil
			case token.GEQ:
				return ls >= rs, nil
			}
			return nil, fmt.Errorf("unsupported string operator %s", op)
		}
	}

	ln, lok := asNumber(left)
	rn, rok := asNumber(right)
	if lok && rok {
		switch op {
		case token.ADD:
			return ln + rn, nil
		case token.SUB:
			return ln - rn, nil
		case token.MUL:
			return ln * rn, nil
		case token.QUO:
			if rn == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			return ln / rn, nil
		case token.REM:
			if rn == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			return float64(int64(ln) % int64(rn)), nil
		case token.EQL:
			return ln == rn, nil
		case token.NEQ:
			return ln != rn, nil
		case token.LSS:
			return ln < rn, nil
		case token.LEQ:
			return ln <= rn, nil
		case token.GTR:
			return ln > rn, nil
		case token.GEQ:
			return ln >= rn, nil
		}
		return nil, fmt.Errorf("unsupported numeric operator %s", op)
	}

	switch op {
	case token.EQL:
		return reflect.DeepEqual(left, right), nil
	case token.NEQ:
		return !reflect.DeepEqual(left, right), nil
	}
	return nil, fmt.Errorf("unsupported operands %T and %T for %s", left, right, op)
}

func indexValue(container, index any) (any, error) {
	switch c := container.(type) {
	case map[string]any:
		key, ok := index.(string)
		if !ok {
			return nil, fmt.Errorf("map index must be a string, got %T", index)
		}
		return c[key], nil
	case []any:
		n, ok := asNumber(index)
		if !ok {
			return nil, fmt.Errorf("list index must be a number, got %T", index)
		}
		i := int(n)
		if i < 0 || i >= len(c) {
			return nil, fmt.Errorf("list index %d out of range", i)
		}
		return c[i], nil
	case string:
		n, ok := asNumber(index)
		if !ok {
			return nil, fmt.Errorf("string index must be a number, got %T", index)
		}
		i := int(n)
		if i < 0 || i >= len(c) {
			return nil, fmt.Errorf("string index %d out of range", i)
		}
		return string(c[i]), nil
	default:
		return nil, fmt.Errorf("cannot index %T", container)
	}
}
