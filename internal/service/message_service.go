package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/psds-microservice/support-chat-service/internal/errs"
	"github.com/psds-microservice/support-chat-service/internal/model"
	"github.com/psds-microservice/support-chat-service/internal/userdir"
	"gorm.io/gorm"
)

// MessageService — журнал сообщений тикета: только добавление и чтение,
// правок не бывает.
type MessageService struct {
	db    *gorm.DB
	users userdir.Directory
}

func NewMessageService(db *gorm.DB, users userdir.Directory) *MessageService {
	return &MessageService{db: db, users: users}
}

// Append пишет сообщение и поднимает updated_at тикета тем же моментом времени
// в одной транзакции. Проверка доступа — забота вызывающего слоя.
// updated_at защищён от отката более старым значением.
func (s *MessageService) Append(ctx context.Context, ticketID uint64, senderID, body string) (*model.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("%w: message is empty", errs.ErrInvalidInput)
	}
	sender, err := s.users.GetUser(ctx, senderID)
	if err != nil {
		return nil, err
	}
	m := &model.Message{
		TicketID:   ticketID,
		SenderID:   sender.ID,
		SenderType: model.SenderTypeFor(sender.Role),
		Body:       body,
		CreatedAt:  time.Now().UTC(),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t model.Ticket
		if err := tx.First(&t, ticketID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.ErrTicketNotFound
			}
			return err
		}
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		return tx.Model(&model.Ticket{}).
			Where("id = ? AND updated_at < ?", ticketID, m.CreatedAt).
			Update("updated_at", m.CreatedAt).Error
	})
	if err != nil {
		return nil, err
	}
	m.SenderEmail = sender.Email
	m.SenderRole = sender.Role
	return m, nil
}

// ListByTicket отдаёт сообщения по возрастанию времени создания и дополняет
// их данными отправителей из user-service (best-effort).
func (s *MessageService) ListByTicket(ctx context.Context, ticketID uint64) ([]model.Message, error) {
	var exists int64
	if err := s.db.WithContext(ctx).Model(&model.Ticket{}).Where("id = ?", ticketID).Count(&exists).Error; err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, errs.ErrTicketNotFound
	}
	var items []model.Message
	err := s.db.WithContext(ctx).
		Where("ticket_id = ?", ticketID).
		Order("created_at ASC, id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	s.fillSenders(ctx, items)
	return items, nil
}

// DeleteAllForTicket чистит журнал тикета; idempotent, отсутствие записей — не ошибка.
func (s *MessageService) DeleteAllForTicket(ctx context.Context, ticketID uint64) error {
	return s.db.WithContext(ctx).Where("ticket_id = ?", ticketID).Delete(&model.Message{}).Error
}

func (s *MessageService) CountByTicket(ctx context.Context, ticketID uint64) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Message{}).Where("ticket_id = ?", ticketID).Count(&n).Error
	return n, err
}

func (s *MessageService) fillSenders(ctx context.Context, items []model.Message) {
	cache := make(map[string]*model.User)
	for i := range items {
		u, ok := cache[items[i].SenderID]
		if !ok {
			var err error
			u, err = s.users.GetUser(ctx, items[i].SenderID)
			if err != nil {
				log.Printf("messages: resolve sender %s: %v", items[i].SenderID, err)
				cache[items[i].SenderID] = nil
				continue
			}
			cache[items[i].SenderID] = u
		}
		if u != nil {
			items[i].SenderEmail = u.Email
			items[i].SenderRole = u.Role
		}
	}
}
