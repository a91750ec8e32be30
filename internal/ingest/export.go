// Package ingest loads conversation exports into a vector store: it parses the export,
// extracts one message per mapping node, embeds the text in batches and upserts the rows.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/hyperjump/recall/internal/models"
)

const unknown = "unknown"

// Conversation is one exported conversation.
type Conversation struct {
	Title   string          `json:"title"`
	Mapping map[string]Node `json:"mapping"`
}

// Node is one entry of a conversation's message tree.
type Node struct {
	Message *ExportMessage `json:"message"`
}

// ExportMessage is the message payload of a node.
type ExportMessage struct {
	ID     string `json:"id"`
	Author struct {
		Role string `json:"role"`
	} `json:"author"`
	Content struct {
		Parts []json.RawMessage `json:"parts"`
	} `json:"content"`
	CreateTime *float64 `json:"create_time"`
	UpdateTime *float64 `json:"update_time"`
}

// ParseExport reads a JSON array of conversations or newline-delimited JSON objects.
func ParseExport(r io.Reader) ([]Conversation, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read export")
	}

	dec := json.NewDecoder(br)
	if first == '[' {
		var convs []Conversation
		if err := dec.Decode(&convs); err != nil {
			return nil, errors.Wrap(err, "decode conversation array")
		}
		return convs, nil
	}

	var convs []Conversation
	for {
		var c Conversation
		err := dec.Decode(&c)
		if err == io.EOF {
			return convs, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "decode conversation %d", len(convs)+1)
		}
		convs = append(convs, c)
	}
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// peekNonSpace skips a byte order mark and leading whitespace and returns the next byte
// without consuming it.
func peekNonSpace(br *bufio.Reader) (byte, error) {
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

// ExtractMessages returns the non-empty messages of c, in node-id order.
// Text is the message's string parts joined by a single space and trimmed; other
// part types (images, tool payloads) are ignored. Embeddings are left nil.
func ExtractMessages(c Conversation) []*models.Message {
	convID := c.Title
	if convID == "" {
		convID = unknown
	}

	nodeIDs := make([]string, 0, len(c.Mapping))
	for id := range c.Mapping {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)

	var out []*models.Message
	for _, nodeID := range nodeIDs {
		m := c.Mapping[nodeID].Message
		if m == nil {
			continue
		}
		text := joinParts(m.Content.Parts)
		if text == "" {
			continue
		}
		id := m.ID
		if id == "" {
			id = nodeID
		}
		role := m.Author.Role
		if role == "" {
			role = models.RoleUnknown
		}
		out = append(out, &models.Message{
			MessageID:      id,
			ConversationID: convID,
			Role:           role,
			Text:           text,
			CreateTime:     m.CreateTime,
			UpdateTime:     m.UpdateTime,
		})
	}
	return out
}

func joinParts(parts []json.RawMessage) string {
	var texts []string
	for _, raw := range parts {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			continue
		}
		texts = append(texts, s)
	}
	return strings.TrimSpace(strings.Join(texts, " "))
}
