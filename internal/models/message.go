package models

import "time"

// Message is the persisted record. Content holds the ciphertext
// envelope exactly as stored ("ivHex:encryptedHex"); it is never
// mutated after creation except to append readers to ReadBy.
type Message struct {
	ID         string    `json:"id"`
	GroupID    string    `json:"group_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name,omitempty"`
	Content    string    `json:"content"`
	ReadBy     []string  `json:"read_by"`
	CreatedAt  time.Time `json:"created_at"`
}

func (m *Message) IsReadBy(userID string) bool {
	for _, reader := range m.ReadBy {
		if reader == userID {
			return true
		}
	}
	return false
}

// MarkReadBy appends userID to ReadBy if absent. Idempotent.
func (m *Message) MarkReadBy(userID string) {
	if !m.IsReadBy(userID) {
		m.ReadBy = append(m.ReadBy, userID)
	}
}

type Suggestion struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}
