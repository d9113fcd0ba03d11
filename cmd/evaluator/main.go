// evaluator вычисляет одно выражение: evaluator <int|float> <expression>.
// Результат печатается в stdout, ошибка в stderr с кодом выхода 1.
package main

import (
	"os"

	"calcstream/internal/calculator"
)

func main() {
	os.Exit(calculator.Run(os.Args[1:], os.Stdout, os.Stderr))
}
