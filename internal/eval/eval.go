// Package eval is the sandboxed arithmetic evaluator used for every
// metadata-declared expression. The grammar is closed: numeric literals, the
// four arithmetic operators, unary minus, and balanced parentheses. Anything
// else is rejected before parsing. The evaluator is stateless.
package eval

import (
	"strconv"
	"strings"

	"github.com/iamkash/intellispec/internal/apperror"
)

// Evaluate parses and computes expr with conventional precedence and
// left-to-right associativity. All failures, including division by zero,
// are Validation errors: a bad formula is caller input, never a server fault.
func Evaluate(expr string) (float64, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return 0, apperror.ErrValidation("empty expression", nil)
	}
	if err := checkWhitelist(trimmed); err != nil {
		return 0, err
	}

	p := &parser{input: trimmed}
	result, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return 0, apperror.ErrValidation("unexpected trailing input in expression", map[string]interface{}{
			"position": p.pos,
		})
	}
	return result, nil
}

// checkWhitelist rejects any character outside digits, operators,
// parentheses, decimal points, and spaces.
func checkWhitelist(expr string) error {
	for i, r := range expr {
		switch {
		case r >= '0' && r <= '9':
		case r == '+' || r == '-' || r == '*' || r == '/':
		case r == '(' || r == ')' || r == '.' || r == ' ':
		default:
			return apperror.ErrValidation("expression contains a disallowed character", map[string]interface{}{
				"character": string(r),
				"position":  i,
			})
		}
	}
	return nil
}

// parser is a recursive-descent parser over the whitelisted input.
//
//	expr   := term (('+' | '-') term)*
//	term   := factor (('*' | '/') factor)*
//	factor := number | '-' factor | '(' expr ')'
type parser struct {
	input string
	pos   int
}

func (p *parser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
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

func (p *parser) parseTerm() (float64, error) {
	left, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		switch p.peek() {
		case '*':
			p.pos++
			right, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			left *= right
		case '/':
			p.pos++
			right, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, apperror.ErrValidation("division by zero in expression", nil)
			}
			left /= right
		default:
			return left, nil
		}
	}
}

func (p *parser) parseFactor() (float64, error) {
	p.skipSpace()
	switch c := p.peek(); {
	case c == '-':
		p.pos++
		v, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		return -v, nil
	case c == '(':
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		p.skipSpace()
		if p.peek() != ')' {
			return 0, apperror.ErrValidation("unbalanced parentheses in expression", nil)
		}
		p.pos++
		return v, nil
	case c >= '0' && c <= '9' || c == '.':
		return p.parseNumber()
	default:
		return 0, apperror.ErrValidation("expected a number or parenthesized expression", map[string]interface{}{
			"position": p.pos,
		})
	}
}

func (p *parser) parseNumber() (float64, error) {
	start := p.pos
	seenDot := false
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c >= '0' && c <= '9' {
			p.pos++
			continue
		}
		if c == '.' {
			if seenDot {
				return 0, apperror.ErrValidation("malformed numeric literal", nil)
			}
			seenDot = true
			p.pos++
			continue
		}
		break
	}
	literal := p.input[start:p.pos]
	v, err := strconv.ParseFloat(literal, 64)
	if err != nil {
		return 0, apperror.ErrValidation("malformed numeric literal", map[string]interface{}{
			"literal": literal,
		})
	}
	return v, nil
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

// peek returns the current byte or 0 at end of input.
func (p *parser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}
