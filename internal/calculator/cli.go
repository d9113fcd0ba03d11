package calculator

import (
	"fmt"
	"io"

	"calcstream/internal/models"
)

// Run реализует контракт внешнего вычислителя: `evaluator <int|float> <expression>`.
// Результат печатается в stdout, ошибка в stderr с кодом выхода 1.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) != 2 {
		fmt.Fprintln(stderr, "usage: evaluator <int|float> <expression>")
		return 2
	}

	mode := models.Mode(args[0])
	if mode != models.ModeInt && mode != models.ModeFloat {
		fmt.Fprintln(stderr, "invalid mode")
		return 1
	}

	result, err := Calc(args[1], mode)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	fmt.Fprintln(stdout, result)
	return 0
}
