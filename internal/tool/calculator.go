package tool

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

type calculatorArgs struct {
	Expression string `json:"expression" jsonschema:"description=Arithmetic expression to evaluate, e.g. '2+2' or 'sqrt(16) * 3'"`
}

// Calculator evaluates arithmetic expressions without calling out to any
// external service.
type Calculator struct{}

func NewCalculator() *Calculator { return &Calculator{} }

func (c *Calculator) Describe() Descriptor {
	return Descriptor{
		Name:           "calculator",
		Description:    "Evaluates arithmetic expressions. Supports +, -, *, /, %, ^, parentheses, and common math functions.",
		ArgumentSchema: reflectSchema(calculatorArgs{}),
	}
}

func (c *Calculator) Execute(ctx context.Context, args map[string]any) (any, error) {
	var a calculatorArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}

	expr := strings.TrimSpace(a.Expression)
	if expr == "" {
		return nil, fmt.Errorf("invalid input: expression is required")
	}

	value, err := evalExpression(expr)
	if err != nil {
		return nil, fmt.Errorf("calculation error: %w", err)
	}

	return map[string]any{
		"expression": expr,
		"result":     value,
	}, nil
}

// evalExpression parses and evaluates an expression with a small
// recursive-descent parser. Grammar, loosest binding first:
//
//	expr   = term {("+"|"-") term}
//	term   = unary {("*"|"/"|"%") unary}
//	unary  = ["-"] power
//	power  = atom ["^" unary]
//	atom   = number | ident ["(" expr {"," expr} ")"] | "(" expr ")"
func evalExpression(input string) (float64, error) {
	p := &exprParser{input: input}
	v, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.input) {
		return 0, fmt.Errorf("unexpected %q at position %d", p.input[p.pos], p.pos)
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("result is not a finite number")
	}
	return v, nil
}

type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func (p *exprParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *exprParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left += right
		case '-':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseTerm() (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '*':
			p.pos++
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			left *= right
		case '/':
			p.pos++
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		case '%':
			p.pos++
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left = math.Mod(left, right)
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseUnary() (float64, error) {
	if p.peek() == '-' {
		p.pos++
		v, err := p.parsePower()
		if err != nil {
			return 0, err
		}
		return -v, nil
	}
	return p.parsePower()
}

func (p *exprParser) parsePower() (float64, error) {
	base, err := p.parseAtom()
	if err != nil {
		return 0, err
	}
	if p.peek() == '^' {
		p.pos++
		exp, err := p.parseUnary() // right-associative
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exp), nil
	}
	return base, nil
}

func (p *exprParser) parseAtom() (float64, error) {
	c := p.peek()
	switch {
	case c == '(':
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	case c >= '0' && c <= '9' || c == '.':
		return p.parseNumber()
	case unicode.IsLetter(rune(c)):
		return p.parseIdent()
	case c == 0:
		return 0, fmt.Errorf("unexpected end of expression")
	default:
		return 0, fmt.Errorf("unexpected %q at position %d", c, p.pos)
	}
}

func (p *exprParser) parseNumber() (float64, error) {
	start := p.pos
	for p.pos < len(p.input) && (p.input[p.pos] >= '0' && p.input[p.pos] <= '9' || p.input[p.pos] == '.') {
		p.pos++
	}
	v, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", p.input[start:p.pos])
	}
	return v, nil
}

var calcConstants = map[string]float64{
	"pi": math.Pi,
	"e":  math.E,
}

var calcUnary = map[string]func(float64) float64{
	"sqrt":  math.Sqrt,
	"abs":   math.Abs,
	"round": math.Round,
	"floor": math.Floor,
	"ceil":  math.Ceil,
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tan":   math.Tan,
	"log":   math.Log,
	"log10": math.Log10,
	"exp":   math.Exp,
}

func (p *exprParser) parseIdent() (float64, error) {
	start := p.pos
	for p.pos < len(p.input) && (unicode.IsLetter(rune(p.input[p.pos])) || unicode.IsDigit(rune(p.input[p.pos]))) {
		p.pos++
	}
	name := strings.ToLower(p.input[start:p.pos])

	if v, ok := calcConstants[name]; ok {
		return v, nil
	}

	if p.peek() != '(' {
		return 0, fmt.Errorf("unknown identifier %q", name)
	}
	p.pos++

	var vals []float64
	for {
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		vals = append(vals, v)
		if p.peek() != ',' {
			break
		}
		p.pos++
	}
	if p.peek() != ')' {
		return 0, fmt.Errorf("missing closing parenthesis")
	}
	p.pos++

	if fn, ok := calcUnary[name]; ok {
		if len(vals) != 1 {
			return 0, fmt.Errorf("%s takes exactly one argument", name)
		}
		return fn(vals[0]), nil
	}
	switch name {
	case "min":
		return fold(vals, math.Min)
	case "max":
		return fold(vals, math.Max)
	case "pow":
		if len(vals) != 2 {
			return 0, fmt.Errorf("pow takes exactly two arguments")
		}
		return math.Pow(vals[0], vals[1]), nil
	}
	return 0, fmt.Errorf("unknown function %q", name)
}

func fold(vals []float64, f func(float64, float64) float64) (float64, error) {
	if len(vals) == 0 {
		return 0, fmt.Errorf("at least one argument required")
	}
	acc := vals[0]
	for _, v := range vals[1:] {
		acc = f(acc, v)
	}
	return acc, nil
}
