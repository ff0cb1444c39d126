package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/psds-microservice/support-chat-service/internal/errs"
	"github.com/psds-microservice/support-chat-service/internal/service"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
	sendBuffer     = 256
)

// Session — одно живое соединение (одна вкладка браузера). Проверка доступа
// выполняется и на входе в комнату, и на каждом сообщении; typing идёт без
// проверки как малозначимый эфемерный сигнал.
type Session struct {
	hub    *Hub
	conn   *websocket.Conn
	chat   *service.ChatService
	userID string
	send   chan Event
}

func NewSession(hub *Hub, conn *websocket.Conn, chat *service.ChatService, userID string) *Session {
	return &Session{
		hub:    hub,
		conn:   conn,
		chat:   chat,
		userID: userID,
		send:   make(chan Event, sendBuffer),
	}
}

// Start запускает пампы чтения и записи.
func (s *Session) Start() {
	go s.writePump()
	go s.readPump()
}

func (s *Session) readPump() {
	defer func() {
		select {
		case s.hub.Unregister <- s:
		case <-s.hub.stopped:
		}
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var ev Event
		if err := s.conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws: read: %v", err)
			}
			return
		}
		s.dispatch(ev)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteJSON(ev); err != nil {
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		// канал отправки при останове не закрывается, выходим по сигналу,
		// не дожидаясь следующего ping
		case <-s.hub.stopped:
			return
		}
	}
}

func (s *Session) dispatch(ev Event) {
	switch ev.Type {
	case EventJoinTicket:
		var p JoinTicketPayload
		if !s.decode(ev.Data, &p) {
			return
		}
		// членство в комнате — защищаемый ресурс, политика та же, что при отправке
		if _, _, err := s.chat.Authorize(context.Background(), p.TicketID, s.userID); err != nil {
			s.sendError(errText(err), "")
			return
		}
		s.hub.Join(s, p.TicketID)
		s.enqueue(NewEvent(EventJoined, JoinedPayload{TicketID: p.TicketID}))

	case EventTyping:
		var p TypingPayload
		if !s.decode(ev.Data, &p) {
			return
		}
		if p.UserID == "" {
			p.UserID = s.userID
		}
		s.hub.Relay(p.TicketID, NewEvent(EventUserTyping, UserTypingPayload{
			UserID:   p.UserID,
			IsTyping: p.IsTyping,
		}), s)

	case EventSendMessage:
		var p SendMessagePayload
		if !s.decode(ev.Data, &p) {
			return
		}
		if p.UserID == "" {
			p.UserID = s.userID
		}
		// рассылку делает ChatService сразу после записи
		if _, err := s.chat.SendMessage(context.Background(), p.TicketID, p.UserID, p.Message, p.ClientTag); err != nil {
			s.sendError(errText(err), p.ClientTag)
		}

	default:
		log.Printf("ws: unknown event type %q", ev.Type)
	}
}

func (s *Session) decode(data json.RawMessage, v interface{}) bool {
	if err := json.Unmarshal(data, v); err != nil {
		s.sendError("Malformed payload", "")
		return false
	}
	return true
}

// enqueue кладёт событие только этой сессии; при забитом буфере оно теряется.
func (s *Session) enqueue(ev Event) {
	select {
	case s.send <- ev:
	default:
	}
}

// sendError шлёт ошибку сессии; clientTag привязывает её к конкретной отправке.
func (s *Session) sendError(msg, clientTag string) {
	s.enqueue(NewEvent(EventError, ErrorPayload{Message: msg, ClientTag: clientTag}))
}

func errText(err error) string {
	switch {
	case errors.Is(err, errs.ErrTicketNotFound):
		return "Ticket not found"
	case errors.Is(err, errs.ErrUserNotFound):
		return "User not found"
	case errors.Is(err, errs.ErrAccessDenied):
		return "Access denied"
	case errors.Is(err, errs.ErrInvalidInput):
		return "Message cannot be empty"
	default:
		return "Failed to send message"
	}
}

// Upgrader возвращает websocket.Upgrader с проверкой Origin из конфигурации.
func Upgrader(allowedOrigin string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "*" {
				return true
			}
			return r.Header.Get("Origin") == allowedOrigin
		},
	}
}
