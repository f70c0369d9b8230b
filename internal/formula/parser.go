package formula

import (
	"fmt"
	"strings"
)

type node interface {
	eval(env Env) (Value, error)
	collect(vars map[string]struct{})
}

type litNode struct{ v Value }

type varNode struct{ name string }

type unaryNode struct {
	op string
	x  node
}

type binaryNode struct {
	op   string
	l, r node
}

type callNode struct {
	name string
	args []node
}

// Grammar, lowest precedence first:
//
//	or      = and { "|" and }
//	and     = not { "&" not }
//	not     = "!" not | cmp
//	cmp     = sum [ ("<"|">"|"<="|">="|"="|"!=") sum ]
//	sum     = term { ("+"|"-") term }
//	term    = unary { ("*"|"/"|"%") unary }
//	unary   = "-" unary | pow
//	pow     = primary [ "^" unary ]
//	primary = number | TRUE | FALSE | ident | ident "(" args ")" | "(" or ")"
type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isOp(ops ...string) bool {
	t := p.peek()
	if t.kind != tokOp {
		return false
	}
	for _, op := range ops {
		if t.text == op {
			return true
		}
	}
	return false
}

func (p *parser) parseOr() (node, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isOp("|") {
		p.next()
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = &binaryNode{op: "|", l: l, r: r}
	}
	return l, nil
}

func (p *parser) parseAnd() (node, error) {
	l, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isOp("&") {
		p.next()
		r, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		l = &binaryNode{op: "&", l: l, r: r}
	}
	return l, nil
}

func (p *parser) parseNot() (node, error) {
	if p.isOp("!") {
		p.next()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: "!", x: x}, nil
	}
	return p.parseCmp()
}

func (p *parser) parseCmp() (node, error) {
	l, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	if p.isOp("<", ">", "<=", ">=", "=", "!=") {
		op := p.next().text
		r, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		l = &binaryNode{op: op, l: l, r: r}
		if p.isOp("<", ">", "<=", ">=", "=", "!=") {
			return nil, fmt.Errorf("%w: chained comparison at %d", ErrSyntax, p.peek().pos)
		}
	}
	return l, nil
}

func (p *parser) parseSum() (node, error) {
	l, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.isOp("+", "-") {
		op := p.next().text
		r, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		l = &binaryNode{op: op, l: l, r: r}
	}
	return l, nil
}

func (p *parser) parseTerm() (node, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOp("*", "/", "%") {
		op := p.next().text
		r, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		l = &binaryNode{op: op, l: l, r: r}
	}
	return l, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.isOp("-") {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: "-", x: x}, nil
	}
	return p.parsePow()
}

func (p *parser) parsePow() (node, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.isOp("^") {
		p.next()
		exp, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &binaryNode{op: "^", l: base, r: exp}, nil
	}
	return base, nil
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return &litNode{v: Number(t.num)}, nil
	case tokLParen:
		x, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, fmt.Errorf("%w: expected ) at %d", ErrSyntax, p.peek().pos)
		}
		p.next()
		return x, nil
	case tokIdent:
		switch strings.ToUpper(t.text) {
		case "TRUE":
			return &litNode{v: Bool(true)}, nil
		case "FALSE":
			return &litNode{v: Bool(false)}, nil
		}
		if p.peek().kind == tokLParen {
			return p.parseCall(t)
		}
		return &varNode{name: t.text}, nil
	case tokEOF:
		return nil, fmt.Errorf("%w: unexpected end of formula", ErrSyntax)
	default:
		return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, t.text, t.pos)
	}
}

func (p *parser) parseCall(name token) (node, error) {
	fn := strings.ToLower(name.text)
	if _, ok := builtins[fn]; !ok {
		return nil, fmt.Errorf("%w: unknown function %q at %d", ErrSyntax, name.text, name.pos)
	}
	p.next() // (
	call := &callNode{name: fn}
	if p.peek().kind == tokRParen {
		p.next()
		return call, nil
	}
	for {
		arg, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		call.args = append(call.args, arg)
		switch p.peek().kind {
		case tokComma:
			p.next()
		case tokRParen:
			p.next()
			return call, nil
		default:
			return nil, fmt.Errorf("%w: expected , or ) at %d", ErrSyntax, p.peek().pos)
		}
	}
}
