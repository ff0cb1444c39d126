package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/support-chat-service/internal/errs"
	"github.com/psds-microservice/support-chat-service/internal/kafka"
	"github.com/psds-microservice/support-chat-service/internal/model"
	"github.com/psds-microservice/support-chat-service/internal/searchindex"
	"github.com/psds-microservice/support-chat-service/internal/service"
)

// SupportHandler — HTTP-фолбэк чата поддержки: те же правила доступа, что и у
// живого канала; отправка через него тоже попадает в комнату.
type SupportHandler struct {
	tickets  *service.TicketService
	messages *service.MessageService
	chat     *service.ChatService
	search   *searchindex.Client
	events   kafka.EventProducer
}

func NewSupportHandler(tickets *service.TicketService, messages *service.MessageService, chat *service.ChatService, search *searchindex.Client, events kafka.EventProducer) *SupportHandler {
	return &SupportHandler{
		tickets:  tickets,
		messages: messages,
		chat:     chat,
		search:   search,
		events:   events,
	}
}

type createTicketRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	IssueType   string `json:"issue_type" binding:"required"`
	Description string `json:"description" binding:"required"`
}

// CreateTicket — POST /api/v1/support/create-ticket.
// Описание становится первым сообщением тикета.
func (h *SupportHandler) CreateTicket(c *gin.Context) {
	var req createTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	t, err := h.tickets.Create(c.Request.Context(), req.UserID, req.IssueType, req.Description)
	if err != nil {
		abortWithError(c, err)
		return
	}
	h.search.IndexTicketAsync(t)
	if h.events != nil {
		h.events.Produce(c.Request.Context(), "ticket.created", map[string]interface{}{
			"ticket_id": t.ID,
			"user_id":   t.UserID,
		})
	}
	c.JSON(http.StatusCreated, t)
}

// ListUserTickets — GET /api/v1/support/tickets/:userId, новые сверху.
func (h *SupportHandler) ListUserTickets(c *gin.Context) {
	items, err := h.tickets.ListByUser(c.Request.Context(), c.Param("userId"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": items})
}

// ListMessages — GET /api/v1/support/messages/:ticketId?user_id=...
// История доступна только тем, кто прошёл ту же проверку, что и отправка.
func (h *SupportHandler) ListMessages(c *gin.Context) {
	ticketID, ok := ticketIDParam(c)
	if !ok {
		return
	}
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	if _, _, err := h.chat.Authorize(c.Request.Context(), ticketID, userID); err != nil {
		abortWithError(c, err)
		return
	}
	items, err := h.messages.ListByTicket(c.Request.Context(), ticketID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": items})
}

type sendMessageRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	Message   string `json:"message" binding:"required"`
	ClientTag string `json:"client_tag"`
}

// SendMessage — POST /api/v1/support/send-message/:ticketId.
// Фолбэк при недоступном живом канале; комната всё равно получает broadcast.
func (h *SupportHandler) SendMessage(c *gin.Context) {
	ticketID, ok := ticketIDParam(c)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	m, err := h.chat.SendMessage(c.Request.Context(), ticketID, req.UserID, req.Message, req.ClientTag)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": m})
}

// AdminListTickets — GET /api/v1/admin/support/tickets?user_id=... (SUPPORT/ADMIN).
func (h *SupportHandler) AdminListTickets(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	items, err := h.tickets.ListAll(c.Request.Context(), userID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": items})
}

type updateTicketRequest struct {
	UserID     string  `json:"user_id" binding:"required"`
	Status     *string `json:"status,omitempty"`
	Priority   *string `json:"priority,omitempty"`
	AssignedTo *string `json:"assigned_to,omitempty"`
}

// UpdateTicket — PUT /api/v1/admin/support/ticket/:ticketId (владелец или SUPPORT/ADMIN).
func (h *SupportHandler) UpdateTicket(c *gin.Context) {
	ticketID, ok := ticketIDParam(c)
	if !ok {
		return
	}
	var req updateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	changes := make(map[string]interface{})
	if req.Status != nil {
		if !validStatus(*req.Status) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		changes["status"] = *req.Status
	}
	if req.Priority != nil {
		if !validPriority(*req.Priority) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid priority"})
			return
		}
		changes["priority"] = *req.Priority
	}
	if req.AssignedTo != nil {
		changes["assigned_to"] = *req.AssignedTo
	}
	t, err := h.tickets.Update(c.Request.Context(), ticketID, req.UserID, changes)
	if err != nil {
		abortWithError(c, err)
		return
	}
	h.search.IndexTicketAsync(t)
	if h.events != nil {
		h.events.Produce(c.Request.Context(), "ticket.updated", map[string]interface{}{
			"ticket_id": t.ID,
			"status":    string(t.Status),
		})
	}
	c.JSON(http.StatusOK, t)
}

type deleteTicketRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// DeleteTicket — DELETE /api/v1/support/ticket/:ticketId, только владелец;
// сообщения каскадно удаляются вместе с тикетом.
func (h *SupportHandler) DeleteTicket(c *gin.Context) {
	ticketID, ok := ticketIDParam(c)
	if !ok {
		return
	}
	var req deleteTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if err := h.tickets.Delete(c.Request.Context(), ticketID, req.UserID); err != nil {
		abortWithError(c, err)
		return
	}
	if h.events != nil {
		h.events.Produce(context.WithoutCancel(c.Request.Context()), "ticket.deleted", map[string]interface{}{
			"ticket_id": ticketID,
		})
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func ticketIDParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("ticketId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket id"})
		return 0, false
	}
	return id, true
}

func abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errs.ErrTicketNotFound), errors.Is(err, errs.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrAccessDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
	case errors.Is(err, errs.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func validStatus(s string) bool {
	switch model.TicketStatus(s) {
	case model.TicketStatusOpen, model.TicketStatusInProgress, model.TicketStatusResolved, model.TicketStatusClosed:
		return true
	}
	return false
}

func validPriority(p string) bool {
	switch model.TicketPriority(p) {
	case model.TicketPriorityLow, model.TicketPriorityMedium, model.TicketPriorityHigh, model.TicketPriorityUrgent:
		return true
	}
	return false
}
