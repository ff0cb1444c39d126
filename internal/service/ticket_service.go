package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/psds-microservice/support-chat-service/internal/errs"
	"github.com/psds-microservice/support-chat-service/internal/model"
	"github.com/psds-microservice/support-chat-service/internal/policy"
	"github.com/psds-microservice/support-chat-service/internal/userdir"
	"gorm.io/gorm"
)

type TicketService struct {
	db    *gorm.DB
	users userdir.Directory
}

func NewTicketService(db *gorm.DB, users userdir.Directory) *TicketService {
	return &TicketService{db: db, users: users}
}

// Create заводит тикет и первое сообщение из описания одной транзакцией.
// Email владельца денормализуется в тикет для списков саппорта.
func (s *TicketService) Create(ctx context.Context, userID, issueType, description string) (*model.Ticket, error) {
	issueType = strings.TrimSpace(issueType)
	description = strings.TrimSpace(description)
	if issueType == "" || description == "" {
		return nil, fmt.Errorf("%w: issue_type and description are required", errs.ErrInvalidInput)
	}
	owner, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	t := &model.Ticket{
		UserID:      owner.ID,
		UserEmail:   owner.Email,
		IssueType:   issueType,
		Description: description,
		Status:      model.TicketStatusOpen,
		Priority:    model.TicketPriorityMedium,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(t).Error; err != nil {
			return err
		}
		seed := &model.Message{
			TicketID:   t.ID,
			SenderID:   owner.ID,
			SenderType: model.SenderTypeFor(owner.Role),
			Body:       description,
			CreatedAt:  t.CreatedAt,
		}
		return tx.Create(seed).Error
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *TicketService) GetByID(ctx context.Context, id uint64) (*model.Ticket, error) {
	var t model.Ticket
	if err := s.db.WithContext(ctx).First(&t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrTicketNotFound
		}
		return nil, err
	}
	return &t, nil
}

// ListByUser — тикеты владельца, новые сверху.
func (s *TicketService) ListByUser(ctx context.Context, userID string) ([]model.Ticket, error) {
	var items []model.Ticket
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ListAll — все тикеты для панели саппорта; доступно только SUPPORT/ADMIN.
func (s *TicketService) ListAll(ctx context.Context, actorID string) ([]model.Ticket, error) {
	actor, err := s.users.GetUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !policy.IsSupport(actor) {
		return nil, errs.ErrAccessDenied
	}
	var items []model.Ticket
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// Update меняет статус/приоритет/назначение. Разрешено владельцу и SUPPORT/ADMIN.
func (s *TicketService) Update(ctx context.Context, id uint64, actorID string, changes map[string]interface{}) (*model.Ticket, error) {
	if len(changes) == 0 {
		return nil, fmt.Errorf("%w: no changes", errs.ErrInvalidInput)
	}
	t, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	actor, err := s.users.GetUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !policy.CanAccess(t, actor) {
		return nil, errs.ErrAccessDenied
	}
	changes["updated_at"] = time.Now().UTC()
	if err := s.db.WithContext(ctx).Model(t).Updates(changes).Error; err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

// Delete удаляет тикет вместе со всеми сообщениями одной транзакцией:
// сначала сообщения, потом тикет. Только владелец.
func (s *TicketService) Delete(ctx context.Context, id uint64, actorID string) error {
	t, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	actor, err := s.users.GetUser(ctx, actorID)
	if err != nil {
		return err
	}
	if !policy.CanClose(t, actor) {
		return errs.ErrAccessDenied
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("ticket_id = ?", id).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Ticket{}, id).Error
	})
}
