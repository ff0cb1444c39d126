package supportchat

import (
	"sync"
	"time"
)

// Entry — строка видимой ленты. Pending-строки — локальное эхо, ещё не
// подтверждённое сервером.
type Entry struct {
	Message   Message
	Pending   bool
	ClientTag string
}

// Transcript сверяет оптимистичный рендер с ответами сервера: эхо рисуется
// сразу, подтверждение приходит через broadcast с тем же client_tag, при
// отказе последнее эхо снимается и текст возвращается в поле ввода.
type Transcript struct {
	mu        sync.Mutex
	entries   []Entry
	lastInput string
}

func NewTranscript() *Transcript {
	return &Transcript{}
}

// AppendLocal рисует эхо с локальным временем и запоминает исходный текст
// на случай отката.
func (t *Transcript) AppendLocal(tag, senderID string, ticketID uint64, body string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastInput = body
	t.entries = append(t.entries, Entry{
		Message: Message{
			TicketID:  ticketID,
			SenderID:  senderID,
			Body:      body,
			ClientTag: tag,
			CreatedAt: time.Now(),
		},
		Pending:   true,
		ClientTag: tag,
	})
}

// Apply обрабатывает сообщение от сервера. Если client_tag совпал с локальным
// эхом — эхо замещается серверной версией и не рендерится второй раз
// (возвращается false). Чужое сообщение добавляется в конец (true).
func (t *Transcript) Apply(m Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m.ClientTag != "" {
		for i := len(t.entries) - 1; i >= 0; i-- {
			if t.entries[i].Pending && t.entries[i].ClientTag == m.ClientTag {
				t.entries[i].Message = m
				t.entries[i].Pending = false
				return false
			}
		}
	}
	t.entries = append(t.entries, Entry{Message: m})
	return true
}

// Rollback снимает неподтверждённое эхо с данным тегом. Подтверждённые строки
// и чужие эхо не задеваются.
func (t *Transcript) Rollback(tag string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].Pending && t.entries[i].ClientTag == tag {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return true
		}
	}
	return false
}

// RollbackLast снимает самое свежее неподтверждённое эхо. Текст для
// восстановления поля ввода отдаёт RestoreInput.
func (t *Transcript) RollbackLast() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].Pending {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return true
		}
	}
	return false
}

// RestoreInput — текст последней отправки (для возврата в поле ввода после отката).
func (t *Transcript) RestoreInput() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastInput
}

// Entries — копия ленты в порядке рендера.
func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
