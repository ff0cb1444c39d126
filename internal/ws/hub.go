package ws

import (
	"context"
	"log"
	"sync"

	"github.com/psds-microservice/support-chat-service/internal/model"
)

// Hub — in-process pub/sub по идентификатору тикета. Комнаты эфемерны:
// членство живёт в памяти и восстанавливается клиентом при реконнекте.
type Hub struct {
	mu    sync.RWMutex
	rooms map[uint64]map[*Session]bool
	// все живые сессии, включая ещё не вошедшие ни в одну комнату
	sessions map[*Session]bool

	Unregister chan *Session
	// stopped закрывается при останове; разблокирует сессии, ждущие Unregister
	stopped chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[uint64]map[*Session]bool),
		sessions:   make(map[*Session]bool),
		Unregister: make(chan *Session),
		stopped:    make(chan struct{}),
	}
}

// Add регистрирует сессию синхронно: после возврата Join уже видит её,
// кадр join-ticket не может обогнать регистрацию.
func (h *Hub) Add(s *Session) {
	h.mu.Lock()
	h.sessions[s] = true
	total := len(h.sessions)
	h.mu.Unlock()
	log.Printf("ws: session connected, total=%d", total)
}

// Run обрабатывает жизненный цикл сессий до отмены ctx.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case s := <-h.Unregister:
			h.drop(s)

		case <-ctx.Done():
			close(h.stopped)
			h.mu.Lock()
			// каналы отправки не закрываем: пампы умирают через закрытие соединения
			for s := range h.sessions {
				if s.conn != nil {
					_ = s.conn.Close()
				}
				delete(h.sessions, s)
			}
			h.rooms = make(map[uint64]map[*Session]bool)
			h.mu.Unlock()
			return
		}
	}
}

// drop убирает сессию из всех комнат и закрывает её канал отправки.
func (h *Hub) drop(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s]; !ok {
		return
	}
	delete(h.sessions, s)
	for ticketID, members := range h.rooms {
		if members[s] {
			delete(members, s)
			if len(members) == 0 {
				delete(h.rooms, ticketID)
			}
		}
	}
	close(s.send)
	log.Printf("ws: session disconnected, total=%d", len(h.sessions))
}

// Join регистрирует сессию в комнате тикета. Сессия может состоять в
// нескольких комнатах одновременно.
func (h *Hub) Join(s *Session, ticketID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s]; !ok {
		return
	}
	members, ok := h.rooms[ticketID]
	if !ok {
		members = make(map[*Session]bool)
		h.rooms[ticketID] = members
	}
	members[s] = true
}

// Leave убирает сессию из комнаты; отсутствие членства — не ошибка.
func (h *Hub) Leave(s *Session, ticketID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[ticketID]
	if !ok {
		return
	}
	delete(members, s)
	if len(members) == 0 {
		delete(h.rooms, ticketID)
	}
}

// Broadcast доставляет событие всем участникам комнаты, включая другие
// сессии отправителя. Пустая комната — no-op.
func (h *Hub) Broadcast(ticketID uint64, ev Event) {
	h.Relay(ticketID, ev, nil)
}

// Relay — то же, что Broadcast, но originator исключается; используется для
// эфемерных событий вроде typing, чтобы не возвращать их отправителю.
func (h *Hub) Relay(ticketID uint64, ev Event, exclude *Session) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.rooms[ticketID] {
		if s == exclude {
			continue
		}
		select {
		case s.send <- ev:
		default:
			// медленный потребитель: событие теряется, соединение добьют пампы
			log.Printf("ws: drop %s for slow session in ticket %d", ev.Type, ticketID)
		}
	}
}

// BroadcastNewMessage реализует service.RoomBroadcaster.
func (h *Hub) BroadcastNewMessage(ticketID uint64, m *model.Message) {
	h.Broadcast(ticketID, NewEvent(EventNewMessage, m))
}

// RoomSize — число участников комнаты.
func (h *Hub) RoomSize(ticketID uint64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[ticketID])
}
