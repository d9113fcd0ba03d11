package main

import (
	"fmt"
	"time"

	"calcstream/internal/models"
)

// formatEntry - строка истории для вывода в терминал
func formatEntry(e models.HistoryEntry) string {
	outcome := ""
	if e.Result != nil {
		outcome = "= " + *e.Result
	} else if e.Error != nil {
		outcome = "error: " + *e.Error
	}
	return fmt.Sprintf("#%-5d %s  %-5s  %s  %s",
		e.ID, e.Timestamp.Local().Format(time.DateTime), e.Mode, e.Expression, outcome)
}
