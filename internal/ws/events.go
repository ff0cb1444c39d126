package ws

import (
	"encoding/json"
	"log"
)

// Типы событий канала. Имена совпадают с клиентским протоколом.
const (
	// клиент → сервер
	EventJoinTicket  = "join-ticket"
	EventTyping      = "typing"
	EventSendMessage = "send-message"

	// сервер → клиент
	EventJoined     = "joined"
	EventNewMessage = "new-message"
	EventUserTyping = "user-typing"
	EventError      = "error"
)

// Event — кадр протокола. Data остаётся сырым JSON до диспетчеризации по Type.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent собирает исходящее событие. Ошибки маршалинга здесь возможны только
// из-за программной ошибки, поэтому логируются и дают пустой payload.
func NewEvent(eventType string, payload interface{}) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("ws: marshal %s payload: %v", eventType, err)
		return Event{Type: eventType}
	}
	return Event{Type: eventType, Data: data}
}

type JoinTicketPayload struct {
	TicketID uint64 `json:"ticket_id"`
}

type TypingPayload struct {
	TicketID uint64 `json:"ticket_id"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

type SendMessagePayload struct {
	TicketID uint64 `json:"ticket_id"`
	UserID   string `json:"user_id"`
	Message  string `json:"message"`
	// ClientTag — метка для сверки оптимистичного эха на клиенте.
	ClientTag string `json:"client_tag,omitempty"`
}

type UserTypingPayload struct {
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// JoinedPayload подтверждает членство в комнате тикета.
type JoinedPayload struct {
	TicketID uint64 `json:"ticket_id"`
}

// ErrorPayload несёт client_tag исходной отправки, если отказ относится к ней;
// по тегу клиент снимает именно то эхо, которое не прошло.
type ErrorPayload struct {
	Message   string `json:"message"`
	ClientTag string `json:"client_tag,omitempty"`
}
