package types

import (
	"calcstream/internal/models"
)

// Типы сообщений протокола синхронизации истории
const (
	TypeNewExpression = "new_expression"
	TypeFullHistory   = "full_history"
	TypeHistoryUpdate = "history_update"
	TypeRejected      = "rejected"
)

// Коды отказа в приеме задачи
const (
	CodeQueueFull      = "queue_full"
	CodeInvalidMode    = "invalid_mode"
	CodeInvalidMessage = "invalid_message"
	CodeShuttingDown   = "shutting_down"
)

// ClientMessage - сообщение клиента серверу
type ClientMessage struct {
	Type       string `json:"type" msgpack:"type" validate:"required,eq=new_expression"`
	Expression string `json:"expression" msgpack:"expression"`
	// Пустой режим означает int; допустимость проверяет конвейер
	Mode string `json:"mode,omitempty" msgpack:"mode,omitempty"`
}

// ServerMessage - сообщение сервера клиенту: окно истории или отказ
type ServerMessage struct {
	Type    string                `json:"type" msgpack:"type"`
	Data    []models.HistoryEntry `json:"data,omitempty" msgpack:"data,omitempty"`
	Code    string                `json:"code,omitempty" msgpack:"code,omitempty"`
	Message string                `json:"message,omitempty" msgpack:"message,omitempty"`
}

func FullHistory(window []models.HistoryEntry) ServerMessage {
	return ServerMessage{Type: TypeFullHistory, Data: nonNil(window)}
}

func HistoryUpdate(window []models.HistoryEntry) ServerMessage {
	return ServerMessage{Type: TypeHistoryUpdate, Data: nonNil(window)}
}

func Rejected(code, message string) ServerMessage {
	return ServerMessage{Type: TypeRejected, Code: code, Message: message}
}

// IsWindow сообщает, несет ли сообщение окно истории
func (m ServerMessage) IsWindow() bool {
	return m.Type == TypeFullHistory || m.Type == TypeHistoryUpdate
}

func nonNil(window []models.HistoryEntry) []models.HistoryEntry {
	if window == nil {
		return []models.HistoryEntry{}
	}
	return window
}
