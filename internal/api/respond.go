package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// sendJSON пишет значение в формате JSON с указанным статусом
func sendJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("ошибка записи ответа", "error", err)
	}
}

// sendJSONError пишет сообщение об ошибке строкой JSON
func sendJSONError(w http.ResponseWriter, statusCode int, message string) {
	sendJSON(w, statusCode, message)
}
