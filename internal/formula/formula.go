// Package formula evaluates the boolean and numeric expressions used by
// grading rules and outcome conditions.
package formula

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Expr is a parsed, immutable formula. It is safe for concurrent use.
type Expr struct {
	src  string
	root node
}

// Parse compiles src into an Expr.
func Parse(src string) (*Expr, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("%w: empty formula", ErrSyntax)
	}
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, t.text, t.pos)
	}
	return &Expr{src: src, root: root}, nil
}

// MustParse is Parse for formulas known at compile time.
func MustParse(src string) *Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

// Source returns the text the formula was parsed from.
func (e *Expr) Source() string { return e.src }

func (e *Expr) String() string { return e.src }

// Eval evaluates the formula against env.
func (e *Expr) Eval(env Env) (Value, error) {
	return e.root.eval(env)
}

// EvalBool evaluates the formula and requires a boolean result.
func (e *Expr) EvalBool(env Env) (bool, error) {
	v, err := e.Eval(env)
	if err != nil {
		return false, err
	}
	b, ok := v.AsBool()
	if !ok {
		return false, fmt.Errorf("%w: %q yields %s, want boolean", ErrTypeMismatch, e.src, v.Kind())
	}
	return b, nil
}

// Vars lists the variable names referenced by the formula, sorted.
func (e *Expr) Vars() []string {
	set := make(map[string]struct{})
	e.root.collect(set)
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (n *litNode) eval(Env) (Value, error) { return n.v, nil }

func (n *litNode) collect(map[string]struct{}) {}

func (n *varNode) collect(vars map[string]struct{}) { vars[n.name] = struct{}{} }

func (n *varNode) eval(env Env) (Value, error) {
	v, ok := env[n.name]
	if !ok {
		return Value{}, fmt.Errorf("%w: %s", ErrUndefined, n.name)
	}
	return v, nil
}

func (n *unaryNode) collect(vars map[string]struct{}) { n.x.collect(vars) }

func (n *unaryNode) eval(env Env) (Value, error) {
	x, err := n.x.eval(env)
	if err != nil {
		return Value{}, err
	}
	switch n.op {
	case "!":
		b, ok := x.AsBool()
		if !ok {
			return Value{}, fmt.Errorf("%w: ! applied to %s", ErrTypeMismatch, x.Kind())
		}
		return Bool(!b), nil
	default:
		f, ok := x.AsNumber()
		if !ok {
			return Value{}, fmt.Errorf("%w: - applied to %s", ErrTypeMismatch, x.Kind())
		}
		return Number(-f), nil
	}
}

func (n *binaryNode) collect(vars map[string]struct{}) {
	n.l.collect(vars)
	n.r.collect(vars)
}

func (n *binaryNode) eval(env Env) (Value, error) {
	l, err := n.l.eval(env)
	if err != nil {
		return Value{}, err
	}

	// & and | short-circuit but still insist on boolean operands
	if n.op == "&" || n.op == "|" {
		lb, ok := l.AsBool()
		if !ok {
			return Value{}, fmt.Errorf("%w: %s applied to %s", ErrTypeMismatch, n.op, l.Kind())
		}
		if (n.op == "&" && !lb) || (n.op == "|" && lb) {
			return Bool(lb), nil
		}
		r, err := n.r.eval(env)
		if err != nil {
			return Value{}, err
		}
		rb, ok := r.AsBool()
		if !ok {
			return Value{}, fmt.Errorf("%w: %s applied to %s", ErrTypeMismatch, n.op, r.Kind())
		}
		return Bool(rb), nil
	}

	r, err := n.r.eval(env)
	if err != nil {
		return Value{}, err
	}

	if n.op == "=" || n.op == "!=" {
		if l.Kind() != r.Kind() {
			return Value{}, fmt.Errorf("%w: compare %s with %s", ErrTypeMismatch, l.Kind(), r.Kind())
		}
		eq := l == r
		if n.op == "!=" {
			eq = !eq
		}
		return Bool(eq), nil
	}

	lf, lok := l.AsNumber()
	rf, rok := r.AsNumber()
	if !lok || !rok {
		return Value{}, fmt.Errorf("%w: %s applied to %s and %s", ErrTypeMismatch, n.op, l.Kind(), r.Kind())
	}
	switch n.op {
	case "+":
		return Number(lf + rf), nil
	case "-":
		return Number(lf - rf), nil
	case "*":
		return Number(lf * rf), nil
	case "/":
		if rf == 0 {
			return Value{}, ErrDivByZero
		}
		return Number(lf / rf), nil
	case "%":
		if rf == 0 {
			return Value{}, ErrDivByZero
		}
		return Number(math.Mod(lf, rf)), nil
	case "^":
		return Number(math.Pow(lf, rf)), nil
	case "<":
		return Bool(lf < rf), nil
	case ">":
		return Bool(lf > rf), nil
	case "<=":
		return Bool(lf <= rf), nil
	case ">=":
		return Bool(lf >= rf), nil
	}
	return Value{}, fmt.Errorf("%w: unknown operator %s", ErrSyntax, n.op)
}

func (n *callNode) collect(vars map[string]struct{}) {
	for _, a := range n.args {
		a.collect(vars)
	}
}

func (n *callNode) eval(env Env) (Value, error) {
	if n.name == "if" {
		return evalIf(n.args, env)
	}
	args := make([]float64, len(n.args))
	for i, a := range n.args {
		v, err := a.eval(env)
		if err != nil {
			return Value{}, err
		}
		f, ok := v.AsNumber()
		if !ok {
			return Value{}, fmt.Errorf("%w: %s argument %d is %s", ErrTypeMismatch, n.name, i+1, v.Kind())
		}
		args[i] = f
	}
	return builtins[n.name](args)
}

func evalIf(args []node, env Env) (Value, error) {
	if len(args) != 3 {
		return Value{}, fmt.Errorf("%w: if takes 3 arguments, got %d", ErrSyntax, len(args))
	}
	c, err := args[0].eval(env)
	if err != nil {
		return Value{}, err
	}
	b, ok := c.AsBool()
	if !ok {
		return Value{}, fmt.Errorf("%w: if condition is %s", ErrTypeMismatch, c.Kind())
	}
	if b {
		return args[1].eval(env)
	}
	return args[2].eval(env)
}

type builtin func(args []float64) (Value, error)

var builtins = map[string]builtin{
	"abs":   unary("abs", math.Abs),
	"floor": unary("floor", math.Floor),
	"ceil":  unary("ceil", math.Ceil),
	"round": unary("round", math.Round),
	"min":   fold("min", math.Min),
	"max":   fold("max", math.Max),
	"if":    nil, // evaluated lazily by evalIf
}

func unary(name string, f func(float64) float64) builtin {
	return func(args []float64) (Value, error) {
		if len(args) != 1 {
			return Value{}, fmt.Errorf("%w: %s takes 1 argument, got %d", ErrSyntax, name, len(args))
		}
		return Number(f(args[0])), nil
	}
}

func fold(name string, f func(a, b float64) float64) builtin {
	return func(args []float64) (Value, error) {
		if len(args) == 0 {
			return Value{}, fmt.Errorf("%w: %s needs at least 1 argument", ErrSyntax, name)
		}
		acc := args[0]
		for _, a := range args[1:] {
			acc = f(acc, a)
		}
		return Number(acc), nil
	}
}
