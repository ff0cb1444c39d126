package model

import "time"

type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in-progress"
	TicketStatusResolved   TicketStatus = "resolved"
	TicketStatusClosed     TicketStatus = "closed"
)

type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
	TicketPriorityUrgent TicketPriority = "urgent"
)

// Role — тип аккаунта из user-service.
type Role string

const (
	RoleUser    Role = "USER"
	RoleSupport Role = "SUPPORT"
	RoleAdmin   Role = "ADMIN"
)

// SenderType фиксируется в момент записи сообщения и больше не пересчитывается.
type SenderType string

const (
	SenderTypeUser    SenderType = "user"
	SenderTypeSupport SenderType = "support"
)

// SenderTypeFor определяет тип отправителя по роли на момент отправки.
func SenderTypeFor(r Role) SenderType {
	if r == RoleSupport || r == RoleAdmin {
		return SenderTypeSupport
	}
	return SenderTypeUser
}

// User — ответ user-service (аутентификация и регистрация вне этого сервиса).
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

type Ticket struct {
	ID          uint64         `gorm:"primaryKey" json:"id"`
	UserID      string         `gorm:"index;not null" json:"user_id"`
	UserEmail   string         `gorm:"type:varchar(255);not null" json:"user_email"`
	IssueType   string         `gorm:"type:varchar(64);not null" json:"issue_type"`
	Description string         `gorm:"type:text;not null" json:"description"`
	Status      TicketStatus   `gorm:"type:varchar(32);index;not null" json:"status"`
	Priority    TicketPriority `gorm:"type:varchar(32);index" json:"priority,omitempty"`
	AssignedTo  string         `gorm:"index" json:"assigned_to,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Ticket) TableName() string { return "support_tickets" }

// Message неизменяемо после записи: ни тела, ни senderType не правим.
type Message struct {
	ID         uint64     `gorm:"primaryKey" json:"id"`
	TicketID   uint64     `gorm:"index;not null" json:"ticket_id"`
	SenderID   string     `gorm:"index;not null" json:"sender_id"`
	SenderType SenderType `gorm:"type:varchar(16);not null" json:"sender_type"`
	Body       string     `gorm:"column:message;type:text;not null" json:"message"`
	CreatedAt  time.Time  `json:"created_at"`

	// Заполняются при отдаче наружу, в БД не хранятся.
	SenderEmail string `gorm:"-" json:"sender_email,omitempty"`
	SenderRole  Role   `gorm:"-" json:"sender_role,omitempty"`
	// ClientTag — корреляционная метка клиента, прозрачно проходит в broadcast.
	ClientTag string `gorm:"-" json:"client_tag,omitempty"`
}

func (Message) TableName() string { return "support_messages" }
