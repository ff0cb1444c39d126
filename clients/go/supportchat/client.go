// Package supportchat — Go-клиент чата поддержки: REST-фолбэк и живая сессия
// поверх WebSocket с оптимистичным рендером и сверкой по client_tag.
package supportchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Ticket — тикет поддержки, как его отдаёт сервер.
type Ticket struct {
	ID          uint64    `json:"id"`
	UserID      string    `json:"user_id"`
	UserEmail   string    `json:"user_email"`
	IssueType   string    `json:"issue_type"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority,omitempty"`
	AssignedTo  string    `json:"assigned_to,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Message — сообщение журнала тикета.
type Message struct {
	ID          uint64    `json:"id"`
	TicketID    uint64    `json:"ticket_id"`
	SenderID    string    `json:"sender_id"`
	SenderType  string    `json:"sender_type"`
	Body        string    `json:"message"`
	SenderEmail string    `json:"sender_email,omitempty"`
	SenderRole  string    `json:"sender_role,omitempty"`
	ClientTag   string    `json:"client_tag,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Client — API-клиент support-chat-service.
type Client struct {
	BaseURL    string
	UserID     string
	HTTPClient *http.Client
}

func NewClient(baseURL, userID string) *Client {
	return &Client{
		BaseURL:    baseURL,
		UserID:     userID,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateTicket создаёт тикет; описание станет первым сообщением.
func (c *Client) CreateTicket(ctx context.Context, issueType, description string) (*Ticket, error) {
	body := map[string]string{
		"user_id":     c.UserID,
		"issue_type":  issueType,
		"description": description,
	}
	var t Ticket
	if err := c.do(ctx, http.MethodPost, "/api/v1/support/create-ticket", body, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Tickets — свои тикеты, новые сверху.
func (c *Client) Tickets(ctx context.Context) ([]Ticket, error) {
	var resp struct {
		Tickets []Ticket `json:"tickets"`
	}
	path := "/api/v1/support/tickets/" + url.PathEscape(c.UserID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tickets, nil
}

// Messages — история тикета по возрастанию времени.
func (c *Client) Messages(ctx context.Context, ticketID uint64) ([]Message, error) {
	var resp struct {
		Messages []Message `json:"messages"`
	}
	path := fmt.Sprintf("/api/v1/support/messages/%d?user_id=%s", ticketID, url.QueryEscape(c.UserID))
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// SendMessage — отправка через HTTP-фолбэк с оптимистичным эхом в ленте:
// сообщение рендерится сразу, при ошибке сервера эхо снимается и текст
// возвращается в поле ввода (см. Transcript.RestoreInput).
func (c *Client) SendMessage(ctx context.Context, tr *Transcript, ticketID uint64, body string) (*Message, error) {
	tag := uuid.NewString()
	tr.AppendLocal(tag, c.UserID, ticketID, body)

	req := map[string]string{
		"user_id":    c.UserID,
		"message":    body,
		"client_tag": tag,
	}
	var resp struct {
		Message Message `json:"message"`
	}
	path := fmt.Sprintf("/api/v1/support/send-message/%d", ticketID)
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		tr.Rollback(tag)
		return nil, err
	}
	// подтверждение: эхо с этим тегом больше не pending
	tr.Apply(resp.Message)
	return &resp.Message, nil
}

// DeleteTicket — только владелец; сообщения удаляются каскадом.
func (c *Client) DeleteTicket(ctx context.Context, ticketID uint64) error {
	body := map[string]string{"user_id": c.UserID}
	path := fmt.Sprintf("/api/v1/support/ticket/%d", ticketID)
	return c.do(ctx, http.MethodDelete, path, body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("supportchat: %s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("supportchat: status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
