package service

import (
	"context"
	"sync"

	"github.com/psds-microservice/support-chat-service/internal/errs"
	"github.com/psds-microservice/support-chat-service/internal/kafka"
	"github.com/psds-microservice/support-chat-service/internal/model"
	"github.com/psds-microservice/support-chat-service/internal/policy"
	"github.com/psds-microservice/support-chat-service/internal/userdir"
)

// RoomBroadcaster — рассылка в комнату тикета; реализуется ws.Hub.
type RoomBroadcaster interface {
	BroadcastNewMessage(ticketID uint64, m *model.Message)
}

// ChatService — общий путь отправки для WS и HTTP: поиск отправителя,
// проверка доступа, запись в журнал, рассылка в комнату. Отправки по одному
// тикету сериализуются, чтобы порядок рассылки совпадал с порядком записи.
type ChatService struct {
	tickets  *TicketService
	messages *MessageService
	users    userdir.Directory
	rooms    RoomBroadcaster
	events   kafka.EventProducer

	mu    sync.Mutex
	locks map[uint64]*sync.Mutex
}

func NewChatService(tickets *TicketService, messages *MessageService, users userdir.Directory, rooms RoomBroadcaster, events kafka.EventProducer) *ChatService {
	return &ChatService{
		tickets:  tickets,
		messages: messages,
		users:    users,
		rooms:    rooms,
		events:   events,
		locks:    make(map[uint64]*sync.Mutex),
	}
}

// Authorize находит тикет и пользователя и проверяет право доступа к переписке.
// Используется и для join-ticket, и для чтения истории.
func (s *ChatService) Authorize(ctx context.Context, ticketID uint64, userID string) (*model.Ticket, *model.User, error) {
	t, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, nil, err
	}
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if !policy.CanAccess(t, u) {
		return nil, nil, errs.ErrAccessDenied
	}
	return t, u, nil
}

// SendMessage — проверка доступа, запись, рассылка. При любой ошибке до записи
// состояние не меняется; запись без рассылки возможна только при пустой комнате
// (это не ошибка). clientTag уходит в broadcast как есть и не сохраняется.
func (s *ChatService) SendMessage(ctx context.Context, ticketID uint64, senderID, body, clientTag string) (*model.Message, error) {
	if _, _, err := s.Authorize(ctx, ticketID, senderID); err != nil {
		return nil, err
	}

	lock := s.ticketLock(ticketID)
	lock.Lock()
	defer lock.Unlock()

	m, err := s.messages.Append(ctx, ticketID, senderID, body)
	if err != nil {
		return nil, err
	}
	m.ClientTag = clientTag
	if s.rooms != nil {
		s.rooms.BroadcastNewMessage(ticketID, m)
	}
	if s.events != nil {
		s.events.Produce(ctx, "message.created", map[string]interface{}{
			"ticket_id":   ticketID,
			"message_id":  m.ID,
			"sender_id":   m.SenderID,
			"sender_type": string(m.SenderType),
		})
	}
	return m, nil
}

func (s *ChatService) ticketLock(ticketID uint64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[ticketID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[ticketID] = l
	}
	return l
}
