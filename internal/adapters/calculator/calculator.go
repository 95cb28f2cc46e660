// Package calculator provides the "calculate" tool, an arithmetic evaluator
// for expressions such as "2+3*4", "(1.5 + 2) ^ 2" or "sqrt(16) % 3".
//
// Supported: + - * / % ^, unary minus, parentheses, decimal numbers, and the
// functions sqrt, abs, round, floor and ceil. Evaluation is pure and safe for
// concurrent use.
package calculator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/MrWong99/toolweave/internal/adapters"
	"github.com/MrWong99/toolweave/internal/tool"
	"github.com/MrWong99/toolweave/pkg/provider/llm"
)

// ToolName is the registry name of the calculator tool.
const ToolName = "calculate"

type calcArgs struct {
	Expression string `json:"expression"`
}

// Result is the payload of the calculate tool.
type Result struct {
	Expression string  `json:"expression"`
	Result     float64 `json:"result"`
}

// Tools returns the calculator tool.
func Tools() []tool.Tool {
	return []tool.Tool{{
		Definition: llm.ToolDefinition{
			Name:        ToolName,
			Description: "Evaluate an arithmetic expression and return the numeric result.",
			Parameters: adapters.Schema(map[string]any{
				"expression": adapters.Prop("string", `Arithmetic expression, e.g. "2+3*4" or "sqrt(2)^2".`),
			}, "expression"),
		},
		Handler:    handle,
		SideEffect: tool.SideEffectRead,
		Timeout:    time.Second,
	}}
}

func handle(_ context.Context, args map[string]any) (any, error) {
	var a calcArgs
	if err := adapters.Decode(args, &a); err != nil {
		return nil, err
	}
	v, err := Evaluate(a.Expression)
	if err != nil {
		return nil, err
	}
	return Result{Expression: a.Expression, Result: v}, nil
}

// Format renders v without a trailing ".0" for integral values and with at
// most ten significant decimals otherwise.
func Format(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	s := strconv.FormatFloat(v, 'f', 10, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// Evaluate parses and evaluates expr.
func Evaluate(expr string) (float64, error) {
	p := &parser{src: strings.TrimSpace(expr)}
	if p.src == "" {
		return 0, errors.New("calculator: expression must not be empty")
	}
	v, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return 0, fmt.Errorf("calculator: unexpected %q at position %d in %q", p.src[p.pos], p.pos, expr)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("calculator: %q has no finite result", expr)
	}
	return v, nil
}

// parser is a recursive-descent evaluator over the grammar
//
//	expr   = term { ("+" | "-") term }
//	term   = power { ("*" | "/" | "%") power }
//	power  = unary [ "^" power ]
//	unary  = "-" unary | "+" unary | atom
//	atom   = number | ident "(" expr ")" | "(" expr ")"
type parser struct {
	src string
	pos int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func (p *parser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		op := p.peek()
		if op != '+' && op != '-' {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return 0, err
		}
		if op == '+' {
			left += right
		} else {
			left -= right
		}
	}
}

func (p *parser) parseTerm() (float64, error) {
	left, err := p.parsePower()
	if err != nil {
		return 0, err
	}
	for {
		op := p.peek()
		if op != '*' && op != '/' && op != '%' {
			return left, nil
		}
		p.pos++
		right, err := p.parsePower()
		if err != nil {
			return 0, err
		}
		switch op {
		case '*':
			left *= right
		case '/':
			if right == 0 {
				return 0, errors.New("calculator: division by zero")
			}
			left /= right
		case '%':
			if right == 0 {
				return 0, errors.New("calculator: modulo by zero")
			}
			left = math.Mod(left, right)
		}
	}
}

func (p *parser) parsePower() (float64, error) {
	base, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	if p.peek() != '^' {
		return base, nil
	}
	p.pos++
	exp, err := p.parsePower()
	if err != nil {
		return 0, err
	}
	return math.Pow(base, exp), nil
}

func (p *parser) parseUnary() (float64, error) {
	switch p.peek() {
	case '-':
		p.pos++
		v, err := p.parseUnary()
		return -v, err
	case '+':
		p.pos++
		return p.parseUnary()
	}
	return p.parseAtom()
}

func (p *parser) parseAtom() (float64, error) {
	c := p.peek()
	switch {
	case c == '(':
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("calculator: missing closing parenthesis in %q", p.src)
		}
		p.pos++
		return v, nil
	case c == '.' || (c >= '0' && c <= '9'):
		return p.parseNumber()
	case unicode.IsLetter(rune(c)):
		return p.parseCall()
	case c == 0:
		return 0, fmt.Errorf("calculator: unexpected end of expression %q", p.src)
	}
	return 0, fmt.Errorf("calculator: unexpected %q at position %d in %q", c, p.pos, p.src)
}

func (p *parser) parseNumber() (float64, error) {
	start := p.pos
	for p.pos < len(p.src) && (p.src[p.pos] == '.' || (p.src[p.pos] >= '0' && p.src[p.pos] <= '9')) {
		p.pos++
	}
	v, err := strconv.ParseFloat(p.src[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("calculator: invalid number %q", p.src[start:p.pos])
	}
	return v, nil
}

var functions = map[string]func(float64) float64{
	"sqrt":  math.Sqrt,
	"abs":   math.Abs,
	"round": math.Round,
	"floor": math.Floor,
	"ceil":  math.Ceil,
}

func (p *parser) parseCall() (float64, error) {
	start := p.pos
	for p.pos < len(p.src) && unicode.IsLetter(rune(p.src[p.pos])) {
		p.pos++
	}
	name := strings.ToLower(p.src[start:p.pos])
	if name == "pi" {
		return math.Pi, nil
	}
	fn, ok := functions[name]
	if !ok {
		return 0, fmt.Errorf("calculator: unknown function %q", name)
	}
	if p.peek() != '(' {
		return 0, fmt.Errorf("calculator: %s must be followed by '('", name)
	}
	arg, err := p.parseAtom()
	if err != nil {
		return 0, err
	}
	return fn(arg), nil
}
