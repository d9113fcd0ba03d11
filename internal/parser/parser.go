package parser

import (
	"regexp"
	"strings"

	"calcstream/internal/models"
)

// Verdict - результат предварительной проверки выражения на клиенте.
// Сервер эту проверку не выполняет: окончательное решение принимает вычислитель.
type Verdict int

const (
	// Invalid - в выражении есть символы, недопустимые для режима
	Invalid Verdict = iota
	// Intermediate - символы допустимы, но выражение еще не готово к отправке
	Intermediate
	// Acceptable - выражение можно отправлять
	Acceptable
)

func (v Verdict) String() string {
	switch v {
	case Invalid:
		return "invalid"
	case Intermediate:
		return "intermediate"
	case Acceptable:
		return "acceptable"
	}
	return "unknown"
}

var (
	intChars   = regexp.MustCompile(`^[\d+\-*/()\s]*$`)
	floatChars = regexp.MustCompile(`^[\d+\-*/().\s]*$`)

	doubleOperator = regexp.MustCompile(`[+\-*/]{2,}`)
	emptyParens    = regexp.MustCompile(`\(\)`)
	splitNumber    = regexp.MustCompile(`\d+\s+\d+`)
)

type rule struct {
	problem string
	broken  func(expr string) bool
}

var rules = []rule{
	{"empty expression", func(expr string) bool { return strings.TrimSpace(expr) == "" }},
	{"unbalanced parentheses", func(expr string) bool { return strings.Count(expr, "(") != strings.Count(expr, ")") }},
	{"consecutive operators", doubleOperator.MatchString},
	{"empty parentheses", emptyParens.MatchString},
	{"numbers separated by spaces", splitNumber.MatchString},
}

func allowedChars(mode models.Mode) *regexp.Regexp {
	if mode == models.ModeFloat {
		return floatChars
	}
	return intChars
}

// Check проверяет выражение по правилам клиентской формы ввода
func Check(expr string, mode models.Mode) Verdict {
	if !allowedChars(mode).MatchString(expr) {
		return Invalid
	}
	for _, r := range rules {
		if r.broken(expr) {
			return Intermediate
		}
	}
	return Acceptable
}

// Problem возвращает описание первого нарушенного правила или пустую строку
func Problem(expr string, mode models.Mode) string {
	if !allowedChars(mode).MatchString(expr) {
		return "disallowed character for " + string(mode) + " mode"
	}
	for _, r := range rules {
		if r.broken(expr) {
			return r.problem
		}
	}
	return ""
}
