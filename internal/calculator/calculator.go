package calculator

import (
	"errors"
	"fmt"
	"strconv"
	"unicode"

	"calcstream/internal/models"
)

type TokenType string

const (
	Number     TokenType = "number"
	Operator   TokenType = "operator"
	Negate     TokenType = "negate"
	LeftParen  TokenType = "left_paren"
	RightParen TokenType = "right_paren"
)

var (
	ErrEmptyExpression   = errors.New("empty expression")
	ErrInvalidExpression = errors.New("invalid expression")
	ErrMismatchedParens  = errors.New("mismatched parentheses")
	ErrDivisionByZero    = errors.New("division by zero")
)

type Token struct {
	Type  TokenType
	Value string
}

// Calculator вычисляет выражение в одном из режимов: int (64-битная
// целочисленная арифметика с усечением при делении) или float.
type Calculator struct {
	mode   models.Mode
	tokens []Token
}

func NewCalculator(mode models.Mode) *Calculator {
	return &Calculator{mode: mode}
}

// Calc вычисляет выражение и возвращает результат в виде строки,
// которую вычислитель печатает в stdout
func Calc(expr string, mode models.Mode) (string, error) {
	calc := NewCalculator(mode)
	return calc.Calculate(expr)
}

func (c *Calculator) Calculate(expr string) (string, error) {
	if c.mode != models.ModeInt && c.mode != models.ModeFloat {
		return "", models.ErrInvalidMode
	}
	if err := c.Tokenize(expr); err != nil {
		return "", err
	}

	rpn, err := c.ToRPN()
	if err != nil {
		return "", err
	}

	if c.mode == models.ModeInt {
		v, err := evaluateRPN(rpn, intArith{})
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(v, 10), nil
	}

	v, err := evaluateRPN(rpn, floatArith{})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%.4f", v), nil
}

func (c *Calculator) Tokenize(expr string) error {
	c.tokens = []Token{}

	for i := 0; i < len(expr); i++ {
		char := expr[i]

		switch {
		case unicode.IsSpace(rune(char)):
			continue
		case char == '(':
			c.tokens = append(c.tokens, Token{Type: LeftParen, Value: "("})
		case char == ')':
			c.tokens = append(c.tokens, Token{Type: RightParen, Value: ")"})
		case char == '-' && c.expectsOperand():
			c.tokens = append(c.tokens, Token{Type: Negate, Value: "-"})
		case char == '+' || char == '-' || char == '*' || char == '/':
			c.tokens = append(c.tokens, Token{Type: Operator, Value: string(char)})
		case unicode.IsDigit(rune(char)) || (char == '.' && c.mode == models.ModeFloat):
			j := i
			for j < len(expr) && (unicode.IsDigit(rune(expr[j])) || (expr[j] == '.' && c.mode == models.ModeFloat)) {
				j++
			}
			c.tokens = append(c.tokens, Token{Type: Number, Value: expr[i:j]})
			i = j - 1
		default:
			return fmt.Errorf("invalid character: %c", char)
		}
	}

	if len(c.tokens) == 0 {
		return ErrEmptyExpression
	}
	return nil
}

// expectsOperand сообщает, что следующий токен должен быть операндом,
// т.е. минус в этой позиции унарный
func (c *Calculator) expectsOperand() bool {
	if len(c.tokens) == 0 {
		return true
	}
	switch c.tokens[len(c.tokens)-1].Type {
	case Operator, Negate, LeftParen:
		return true
	}
	return false
}

func (c *Calculator) ToRPN() ([]Token, error) {
	var output []Token
	var stack []Token

	precedence := map[string]int{
		"+": 1,
		"-": 1,
		"*": 2,
		"/": 2,
	}

	for _, token := range c.tokens {
		switch token.Type {
		case Number:
			output = append(output, token)
		case Negate:
			// Унарный минус правоассоциативен и связывает сильнее бинарных операций
			stack = append(stack, token)
		case Operator:
			for len(stack) > 0 {
				top := stack[len(stack)-1]
				if top.Type == Negate || (top.Type == Operator && precedence[top.Value] >= precedence[token.Value]) {
					output = append(output, top)
					stack = stack[:len(stack)-1]
					continue
				}
				break
			}
			stack = append(stack, token)
		case LeftParen:
			stack = append(stack, token)
		case RightParen:
			foundLeftParen := false
			for len(stack) > 0 {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if top.Type == LeftParen {
					foundLeftParen = true
					break
				}
				output = append(output, top)
			}
			if !foundLeftParen {
				return nil, ErrMismatchedParens
			}
		}
	}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.Type == LeftParen {
			return nil, ErrMismatchedParens
		}
		output = append(output, top)
	}

	return output, nil
}

type arith[T any] interface {
	parse(s string) (T, error)
	apply(op string, a, b T) (T, error)
	neg(a T) T
}

type intArith struct{}

func (intArith) parse(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func (intArith) apply(op string, a, b int64) (int64, error) {
	switch op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return a / b, nil
	}
	return 0, ErrInvalidExpression
}

func (intArith) neg(a int64) int64 { return -a }

type floatArith struct{}

func (floatArith) parse(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

func (floatArith) apply(op string, a, b float64) (float64, error) {
	switch op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return a / b, nil
	}
	return 0, ErrInvalidExpression
}

func (floatArith) neg(a float64) float64 { return -a }

func evaluateRPN[T any](rpn []Token, ar arith[T]) (T, error) {
	var zero T
	var stack []T

	for _, token := range rpn {
		switch token.Type {
		case Number:
			num, err := ar.parse(token.Value)
			if err != nil {
				return zero, fmt.Errorf("invalid number: %s", token.Value)
			}
			stack = append(stack, num)
		case Negate:
			if len(stack) < 1 {
				return zero, ErrInvalidExpression
			}
			stack[len(stack)-1] = ar.neg(stack[len(stack)-1])
		case Operator:
			if len(stack) < 2 {
				return zero, ErrInvalidExpression
			}

			b := stack[len(stack)-1]
			a := stack[len(stack)-2]
			stack = stack[:len(stack)-2]

			result, err := ar.apply(token.Value, a, b)
			if err != nil {
				return zero, err
			}
			stack = append(stack, result)
		}
	}

	if len(stack) != 1 {
		return zero, ErrInvalidExpression
	}

	return stack[0], nil
}
