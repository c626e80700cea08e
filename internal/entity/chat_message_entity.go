package entity

import "time"

type ChatMessage struct {
	From      string
	To        string
	Content   string
	Timestamp time.Time
}

// Counterpart returns the other participant as seen from userId.
func (m *ChatMessage) Counterpart(userId string) string {
	if m.From == userId {
		return m.To
	}
	return m.From
}

func (m *ChatMessage) Involves(userId string) bool {
	return m.From == userId || m.To == userId
}

// GroupByCounterpart buckets the messages of userId by the other participant,
// keeping the original order inside each bucket.
func GroupByCounterpart(userId string, messages []*ChatMessage) map[string][]*ChatMessage {
	grouped := make(map[string][]*ChatMessage)
	for _, m := range messages {
		if !m.Involves(userId) {
			continue
		}
		other := m.Counterpart(userId)
		grouped[other] = append(grouped[other], m)
	}
	return grouped
}
