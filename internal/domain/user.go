package domain

import "time"

// Default settings applied to newly registered users.
const (
	DefaultLanguage = "en"
	DefaultTimezone = "Europe/Moscow"
	DefaultSendTime = "06:00"
)

// User holds per-chat subscription settings.
//
// SkipDays uses Monday=0 .. Sunday=6 indexing (local calendar weekday).
type User struct {
	ChatID    int64
	Language  string
	Timezone  string
	SendTime  string // "HH:MM", interpreted in Timezone
	SkipDays  []int
	Active    bool
	CreatedAt time.Time // UTC
}

// NewUser creates a user with default settings for the given chat.
func NewUser(chatID int64) *User {
	return &User{
		ChatID:    chatID,
		Language:  DefaultLanguage,
		Timezone:  DefaultTimezone,
		SendTime:  DefaultSendTime,
		SkipDays:  nil,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
}

// Skips reports whether the given weekday (Monday=0) is in the skip set.
func (u *User) Skips(weekday int) bool {
	for _, d := range u.SkipDays {
		if d == weekday {
			return true
		}
	}
	return false
}

// SentRecord is one entry of the append-only delivery audit log.
type SentRecord struct {
	ID        string // uuid
	ChatID    int64
	ContentID int
	SentAt    time.Time // UTC
}

// BotMessage references a message the bot sent to a chat.
// Kept so the conversational UI can clean up its own dialog.
type BotMessage struct {
	ChatID    int64
	MessageID int
	Kind      string // "principle", "menu", "test", ...
	SentAt    time.Time // UTC
}
