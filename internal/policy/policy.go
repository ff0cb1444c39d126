// Package policy — правила доступа к переписке тикета.
package policy

import "github.com/psds-microservice/support-chat-service/internal/model"

// CanAccess: читать и писать в тикет может владелец либо SUPPORT/ADMIN.
func CanAccess(t *model.Ticket, u *model.User) bool {
	if t == nil || u == nil {
		return false
	}
	return t.UserID == u.ID || IsSupport(u)
}

// CanClose: удалить тикет может только владелец. Саппорт и админ меняют
// статус/приоритет, но не закрывают-с-удалением за владельца.
func CanClose(t *model.Ticket, u *model.User) bool {
	return t != nil && u != nil && t.UserID == u.ID
}

func IsSupport(u *model.User) bool {
	return u != nil && (u.Role == model.RoleSupport || u.Role == model.RoleAdmin)
}
