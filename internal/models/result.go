package models

// SearchResult is a stored message plus its similarity to the query.
type SearchResult struct {
	MessageID      string   `json:"message_id"`
	ConversationID string   `json:"conversation_id"`
	Role           string   `json:"role"`
	Text           string   `json:"text"`
	Similarity     float64  `json:"similarity"`
	CreateTime     *float64 `json:"create_time,omitempty"`
	UpdateTime     *float64 `json:"update_time,omitempty"`
}

// NewSearchResult copies the message fields of m into a result.
func NewSearchResult(m *Message, similarity float64) *SearchResult {
	return &SearchResult{
		MessageID:      m.MessageID,
		ConversationID: m.ConversationID,
		Role:           m.Role,
		Text:           m.Text,
		Similarity:     similarity,
		CreateTime:     m.CreateTime,
		UpdateTime:     m.UpdateTime,
	}
}

// SearchResponse is the envelope returned for a search. Query, Limit and Threshold echo
// the effective values after defaults were applied.
type SearchResponse struct {
	Query     string          `json:"query"`
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	Limit     int             `json:"limit"`
	Threshold float64         `json:"threshold"`
	Metric    string          `json:"metric"`
	QueryTime int64           `json:"query_time_ms"`
}
