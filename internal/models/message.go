// Package models defines core data structures for stored messages, queries, and search results.
package models

// RoleUnknown is the role given to imported messages whose author role is missing.
const RoleUnknown = "unknown"

// Message is one stored conversation message. Embedding is nil until the message has been embedded.
type Message struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Text           string    `json:"text"`
	Embedding      []float32 `json:"-"`
	CreateTime     *float64  `json:"create_time,omitempty"`
	UpdateTime     *float64  `json:"update_time,omitempty"`
}

// Stats summarises the contents of a vector store.
type Stats struct {
	TotalMessages          int64            `json:"total_messages"`
	MessagesWithEmbeddings int64            `json:"messages_with_embeddings"`
	RoleDistribution       map[string]int64 `json:"role_distribution"`
}

// NewStats returns an empty Stats whose role distribution serialises as {} rather than null.
func NewStats() *Stats {
	return &Stats{RoleDistribution: make(map[string]int64)}
}
