package userdir

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/psds-microservice/support-chat-service/internal/errs"
	"github.com/psds-microservice/support-chat-service/internal/model"
)

// Directory — поиск пользователя; в тестах подменяется стабом.
type Directory interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
}

// Client ходит в user-service за {id, email, role} (GET /api/v1/users/{id}).
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (c *Client) GetUser(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: user id is required", errs.ErrInvalidInput)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v1/users/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("userdir: new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userdir: request: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, errs.ErrUserNotFound
	default:
		return nil, fmt.Errorf("userdir: status %d for user %s", resp.StatusCode, id)
	}
	var u model.User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("userdir: decode: %w", err)
	}
	if u.ID == "" {
		u.ID = id
	}
	return &u, nil
}
