package search

import (
	"strings"

	"github.com/hyperjump/recall/internal/config"
	"github.com/hyperjump/recall/internal/models"
)

// ProcessQuery trims the query text and filter values, then validates every field
// against the configured bounds. Nothing is clamped.
func ProcessQuery(query *models.SearchQuery, cfg *config.SearchConfig) error {
	query.Query = strings.TrimSpace(query.Query)
	query.Role = strings.TrimSpace(query.Role)
	query.ConversationID = strings.TrimSpace(query.ConversationID)
	return query.Validate(cfg.MaxLimit, cfg.Roles)
}
