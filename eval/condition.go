package eval

import (
	"errors"
	"fmt"
	"strings"
)

// ConditionEvalError is returned alongside a false result when a condition
// cannot be parsed or evaluated. It is never fatal to a run.
type ConditionEvalError struct {
	Expression string
	Err        error
}

func (e *ConditionEvalError) Error() string {
	return fmt.Sprintf("condition %q: %v", e.Expression, e.Err)
}

func (e *ConditionEvalError) Unwrap() error {
	return e.Err
}

// Expr is a node of a parsed condition.
type Expr interface {
	Eval(scope map[string]any) (any, error)
	String() string
}

type literalExpr struct {
	value any
}

type pathExpr struct {
	root     string
	segments []Expr
}

type unaryExpr struct {
	op      string
	operand Expr
}

type binaryExpr struct {
	op          string
	left, right Expr
}

// Condition is a parsed boolean expression. The grammar accepts literals,
// member paths rooted at scope names, comparison operators, && || !, and
// parentheses. Nothing else is evaluated.
type Condition struct {
	source string
	root   Expr
}

// ParseCondition parses expr into a Condition.
func ParseCondition(expr string) (*Condition, error) {
	tokens, err := lex(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	if p.peek().kind == tokEOF {
		return nil, errors.New("empty expression")
	}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %s at position %d", tok, tok.pos)
	}
	return &Condition{source: expr, root: root}, nil
}

// Eval evaluates the condition against scope and returns its raw value.
func (c *Condition) Eval(scope map[string]any) (any, error) {
	return c.root.Eval(scope)
}

// String returns the parsed form of the condition with explicit grouping.
func (c *Condition) String() string {
	return c.root.String()
}

// EvaluateCondition resolves {{...}} tokens in expr against scope, parses the
// result and evaluates it to a boolean. On any parse or evaluation failure it
// returns false together with a *ConditionEvalError.
func EvaluateCondition(expr string, scope map[string]any) (bool, error) {
	resolved := Resolve(expr, scope)
	cond, err := ParseCondition(resolved)
	if err != nil {
		return false, &ConditionEvalError{Expression: expr, Err: err}
	}
	value, err := cond.Eval(scope)
	if err != nil {
		return false, &ConditionEvalError{Expression: expr, Err: err}
	}
	return Truthy(value), nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) acceptOp(ops ...string) (string, bool) {
	tok := p.peek()
	if tok.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if tok.text == op {
			p.pos++
			return op, true
		}
	}
	return "", false
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	tok := p.next()
	if tok.kind != kind {
		return tok, fmt.Errorf("expected %s but found %s at position %d", what, tok, tok.pos)
	}
	return tok, nil
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("||"); !ok {
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: "||", left: left, right: right}
	}
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("&&"); !ok {
			return left, nil
		}
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: "&&", left: left, right: right}
	}
}

func (p *parser) parseEquality() (Expr, error) {
	left, err := p.parseRelational()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("===", "!==", "==", "!=")
		if !ok {
			return left, nil
		}
		right, err := p.parseRelational()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: op, left: left, right: right}
	}
}

func (p *parser) parseRelational() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("<=", ">=", "<", ">")
		if !ok {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: op, left: left, right: right}
	}
}

func (p *parser) parseUnary() (Expr, error) {
	if op, ok := p.acceptOp("!", "-"); ok {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{op: op, operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		return &literalExpr{value: tok.num}, nil
	case tokString:
		return &literalExpr{value: tok.text}, nil
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, `")"`); err != nil {
			return nil, err
		}
		return inner, nil
	case tokIdent:
		switch tok.text {
		case "true":
			return &literalExpr{value: true}, nil
		case "false":
			return &literalExpr{value: false}, nil
		case "null":
			return &literalExpr{value: nil}, nil
		case "undefined":
			return &literalExpr{value: Undefined}, nil
		}
		if !pathRoots[tok.text] {
			return nil, fmt.Errorf("%s is not defined", tok.text)
		}
		return p.parsePath(tok.text)
	}
	return nil, fmt.Errorf("unexpected %s at position %d", tok, tok.pos)
}

// pathRoots are the identifiers a condition may start a member path from.
var pathRoots = map[string]bool{
	"data":        true,
	"results":     true,
	"executionId": true,
}

func (p *parser) parsePath(root string) (Expr, error) {
	path := &pathExpr{root: root}
	for {
		switch p.peek().kind {
		case tokDot:
			p.next()
			name, err := p.expect(tokIdent, "property name")
			if err != nil {
				return nil, err
			}
			path.segments = append(path.segments, &literalExpr{value: name.text})
		case tokLBracket:
			p.next()
			key, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokRBracket, `"]"`); err != nil {
				return nil, err
			}
			path.segments = append(path.segments, key)
		case tokLParen:
			return nil, errors.New("function calls are not allowed")
		default:
			return path, nil
		}
	}
}

func (e *literalExpr) Eval(scope map[string]any) (any, error) {
	return e.value, nil
}

func (e *literalExpr) String() string {
	if s, ok := e.value.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return Stringify(e.value)
}

func (e *pathExpr) Eval(scope map[string]any) (any, error) {
	current, ok := scope[e.root]
	if !ok {
		return nil, fmt.Errorf("%s is not defined", e.root)
	}
	walked := e.root
	for _, segment := range e.segments {
		key, err := segment.Eval(scope)
		if err != nil {
			return nil, err
		}
		name := Stringify(key)
		if isNullish(current) {
			return nil, fmt.Errorf("cannot read property %q of %s (%s)", name, Stringify(current), walked)
		}
		child, ok := member(current, name)
		if !ok {
			child = Undefined
		}
		current = child
		walked += "." + name
	}
	return current, nil
}

func (e *pathExpr) String() string {
	var sb strings.Builder
	sb.WriteString(e.root)
	for _, segment := range e.segments {
		if lit, ok := segment.(*literalExpr); ok {
			if s, ok := lit.value.(string); ok {
				sb.WriteString("." + s)
				continue
			}
		}
		sb.WriteString("[" + segment.String() + "]")
	}
	return sb.String()
}

func (e *unaryExpr) Eval(scope map[string]any) (any, error) {
	value, err := e.operand.Eval(scope)
	if err != nil {
		return nil, err
	}
	if e.op == "-" {
		return -toNumber(value), nil
	}
	return !Truthy(value), nil
}

func (e *unaryExpr) String() string {
	return e.op + e.operand.String()
}

func (e *binaryExpr) Eval(scope map[string]any) (any, error) {
	left, err := e.left.Eval(scope)
	if err != nil {
		return nil, err
	}
	// && and || short-circuit and yield an operand
	switch e.op {
	case "&&":
		if !Truthy(left) {
			return left, nil
		}
		return e.right.Eval(scope)
	case "||":
		if Truthy(left) {
			return left, nil
		}
		return e.right.Eval(scope)
	}
	right, err := e.right.Eval(scope)
	if err != nil {
		return nil, err
	}
	switch e.op {
	case "==":
		return looseEqual(left, right), nil
	case "!=":
		return !looseEqual(left, right), nil
	case "===":
		return strictEqual(left, right), nil
	case "!==":
		return !strictEqual(left, right), nil
	case "<", "<=", ">", ">=":
		return compare(e.op, left, right), nil
	}
	return nil, fmt.Errorf("unsupported operator %q", e.op)
}

func (e *binaryExpr) String() string {
	return "(" + e.left.String() + " " + e.op + " " + e.right.String() + ")"
}
