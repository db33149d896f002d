package transform

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/errors"
)

// Evaluate computes an arithmetic formula over named variables. The grammar
// is deliberately restricted: numbers, variables, + - * / and parentheses.
// Nothing is ever executed as code; unknown tokens are rejected.
//
//	expr   := term (("+" | "-") term)*
//	term   := unary (("*" | "/") unary)*
//	unary  := "-" unary | primary
//	primary := NUMBER | IDENT | "(" expr ")"
func Evaluate(formula string, vars map[string]float64) (float64, error) {
	tokens, err := tokenize(formula)
	if err != nil {
		return 0, err
	}

	p := &parser{tokens: tokens, vars: vars}
	result, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	if !p.done() {
		return 0, errors.New(errors.ErrorTypeTransformation,
			fmt.Sprintf("unexpected token %q in formula", p.peek().text))
	}
	return result, nil
}

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokIdent
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	num  float64
}

func tokenize(formula string) ([]token, error) {
	var tokens []token
	runes := []rune(formula)

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "("})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")"})
			i++
		case r == '+' || r == '-' || r == '*' || r == '/':
			tokens = append(tokens, token{kind: tokOp, text: string(r)})
			i++
		case unicode.IsDigit(r) || r == '.':
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			text := string(runes[start:i])
			num, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, errors.New(errors.ErrorTypeTransformation,
					fmt.Sprintf("invalid number %q in formula", text))
			}
			tokens = append(tokens, token{kind: tokNumber, text: text, num: num})
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			tokens = append(tokens, token{kind: tokIdent, text: string(runes[start:i])})
		default:
			return nil, errors.New(errors.ErrorTypeTransformation,
				fmt.Sprintf("illegal character %q in formula", string(r)))
		}
	}

	if len(tokens) == 0 {
		return nil, errors.New(errors.ErrorTypeTransformation, "empty formula")
	}
	return tokens, nil
}

type parser struct {
	tokens []token
	pos    int
	vars   map[string]float64
}

func (p *parser) done() bool {
	return p.pos >= len(p.tokens)
}

func (p *parser) peek() token {
	if p.done() {
		return token{}
	}
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	p.pos++
	return t
}

func (p *parser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}

	for !p.done() && p.peek().kind == tokOp && (p.peek().text == "+" || p.peek().text == "-") {
		op := p.next().text
		right, err := p.parseTerm()
		if err != nil {
			return 0, err
		}
		if op == "+" {
			left += right
		} else {
			left -= right
		}
	}
	return left, nil
}

func (p *parser) parseTerm() (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}

	for !p.done() && p.peek().kind == tokOp && (p.peek().text == "*" || p.peek().text == "/") {
		op := p.next().text
		right, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		if op == "*" {
			left *= right
		} else {
			if right == 0 {
				return 0, errors.New(errors.ErrorTypeTransformation, "division by zero in formula")
			}
			left /= right
		}
	}
	return left, nil
}

func (p *parser) parseUnary() (float64, error) {
	if !p.done() && p.peek().kind == tokOp && p.peek().text == "-" {
		p.next()
		v, err := p.parseUnary()
		return -v, err
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (float64, error) {
	if p.done() {
		return 0, errors.New(errors.ErrorTypeTransformation, "unexpected end of formula")
	}

	t := p.next()
	switch t.kind {
	case tokNumber:
		return t.num, nil
	case tokIdent:
		v, ok := p.vars[t.text]
		if !ok {
			return 0, errors.New(errors.ErrorTypeTransformation,
				fmt.Sprintf("unknown variable %q in formula", t.text))
		}
		return v, nil
	case tokLParen:
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if p.done() || p.peek().kind != tokRParen {
			return 0, errors.New(errors.ErrorTypeTransformation, "missing closing parenthesis in formula")
		}
		p.next()
		return v, nil
	default:
		return 0, errors.New(errors.ErrorTypeTransformation,
			fmt.Sprintf("unexpected token %q in formula", strings.TrimSpace(t.text)))
	}
}
