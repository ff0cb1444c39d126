package supportchat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Типы событий живого канала; совпадают с серверным протоколом.
const (
	eventJoinTicket  = "join-ticket"
	eventTyping      = "typing"
	eventSendMessage = "send-message"
	eventJoined      = "joined"
	eventNewMessage  = "new-message"
	eventUserTyping  = "user-typing"
	eventError       = "error"
)

type event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// TypingUpdate — индикатор набора от другого участника комнаты.
type TypingUpdate struct {
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// LiveSession — одно WebSocket-соединение. Входящие new-message события
// проходят через Transcript; своё эхо при совпадении client_tag не
// рендерится второй раз.
type LiveSession struct {
	conn       *websocket.Conn
	userID     string
	Transcript *Transcript

	// OnMessage вызывается только для сообщений, попавших в ленту как новые.
	OnMessage func(Message)
	OnTyping  func(TypingUpdate)
	// OnJoined — подтверждение членства в комнате тикета.
	OnJoined func(ticketID uint64)
	OnError  func(string)

	writeMu sync.Mutex
	done    chan struct{}
}

// Dial открывает живую сессию. BaseURL клиента вида http(s)://host:port.
func (c *Client) Dial(ctx context.Context) (*LiveSession, error) {
	wsURL := strings.Replace(c.BaseURL, "http", "ws", 1) +
		"/ws?user_id=" + url.QueryEscape(c.UserID)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("supportchat: dial %s: %w", wsURL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	s := &LiveSession{
		conn:       conn,
		userID:     c.UserID,
		Transcript: NewTranscript(),
		done:       make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Join входит в комнату тикета. Сервер проверит доступ: успех придёт
// событием joined, отказ событием error.
func (s *LiveSession) Join(ticketID uint64) error {
	return s.write(eventJoinTicket, map[string]interface{}{"ticket_id": ticketID})
}

// Typing — эфемерный сигнал, без подтверждения. Клиент сам гасит индикатор
// по таймеру, сервер состояние не хранит.
func (s *LiveSession) Typing(ticketID uint64, isTyping bool) error {
	return s.write(eventTyping, map[string]interface{}{
		"ticket_id": ticketID,
		"user_id":   s.userID,
		"is_typing": isTyping,
	})
}

// Send рисует эхо и отправляет сообщение. Подтверждение вернётся broadcast-ом
// с тем же client_tag; отказ (error-событие) откатит эхо в readLoop.
func (s *LiveSession) Send(ticketID uint64, body string) error {
	tag := uuid.NewString()
	s.Transcript.AppendLocal(tag, s.userID, ticketID, body)
	err := s.write(eventSendMessage, map[string]interface{}{
		"ticket_id":  ticketID,
		"user_id":    s.userID,
		"message":    body,
		"client_tag": tag,
	})
	if err != nil {
		s.Transcript.Rollback(tag)
		return err
	}
	return nil
}

// Close завершает сессию; сервер снимет её со всех комнат.
func (s *LiveSession) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return s.conn.Close()
}

// Done закрывается, когда соединение разорвано.
func (s *LiveSession) Done() <-chan struct{} {
	return s.done
}

func (s *LiveSession) write(eventType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(event{Type: eventType, Data: data})
}

func (s *LiveSession) readLoop() {
	defer func() {
		select {
		case <-s.done:
		default:
			close(s.done)
		}
	}()
	for {
		var ev event
		if err := s.conn.ReadJSON(&ev); err != nil {
			return
		}
		switch ev.Type {
		case eventNewMessage:
			var m Message
			if err := json.Unmarshal(ev.Data, &m); err != nil {
				continue
			}
			if s.Transcript.Apply(m) && s.OnMessage != nil {
				s.OnMessage(m)
			}
		case eventUserTyping:
			var t TypingUpdate
			if err := json.Unmarshal(ev.Data, &t); err != nil {
				continue
			}
			if s.OnTyping != nil {
				s.OnTyping(t)
			}
		case eventJoined:
			var p struct {
				TicketID uint64 `json:"ticket_id"`
			}
			if err := json.Unmarshal(ev.Data, &p); err != nil {
				continue
			}
			if s.OnJoined != nil {
				s.OnJoined(p.TicketID)
			}
		case eventError:
			var p struct {
				Message   string `json:"message"`
				ClientTag string `json:"client_tag"`
			}
			_ = json.Unmarshal(ev.Data, &p)
			// откатываем только эхо отправки, к которой относится отказ;
			// ошибки без тега (например отказ join) ленту не трогают
			if p.ClientTag != "" {
				s.Transcript.Rollback(p.ClientTag)
			}
			if s.OnError != nil {
				s.OnError(p.Message)
			}
		}
	}
}
