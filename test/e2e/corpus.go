// Package e2e provides end-to-end tests over a generated conversation export.
package e2e

import (
	"encoding/json"
	"fmt"
	"io"
)

// Exchange is one user question and the assistant's answer in a conversation.
type Exchange struct {
	Title    string
	Question string
	Answer   string
}

// QueryTestCase is a query and the message id that must rank first for it.
type QueryTestCase struct {
	Query      string
	Role       string
	ExpectedID string
}

// Corpus holds the conversations and the queries asserted against them.
type Corpus struct {
	Exchanges     []Exchange
	TestCases     []QueryTestCase
	TotalMessages int
}

var topics = []Exchange{
	{"Python Guide", "what is python mostly used for", "Python is a high-level programming language used for web development and data science."},
	{"Kubernetes Docs", "how does kubernetes schedule pods", "Kubernetes container orchestration automates deployment and scaling of workloads."},
	{"React Tutorial", "when should I reach for react hooks", "React hooks and components enable building user interfaces without classes."},
	{"Go Language", "how does go handle concurrency", "Go golang concurrency is achieved with goroutines and channels."},
	{"PostgreSQL Manual", "can postgres store json documents", "PostgreSQL relational database supports JSON columns and full-text search."},
	{"Docker Handbook", "why are docker images portable", "Docker container images bundle dependencies so they are portable across environments."},
	{"Machine Learning", "how do models learn from data", "Machine learning algorithms learn patterns from labelled examples."},
	{"REST API Design", "which status code for a missing resource", "REST API endpoints return 404 when the requested resource does not exist."},
	{"Redis Cache", "is redis good for sessions", "Redis in-memory cache is commonly used for sessions and rate counters."},
	{"Terraform IaC", "is terraform declarative", "Terraform infrastructure as code describes the desired state declaratively."},
	{"gRPC Overview", "what transport does grpc use", "gRPC remote procedure calls use HTTP/2 and protocol buffers."},
	{"OAuth", "how does delegated access work", "OAuth 2.0 authorization lets a user grant an application scoped tokens."},
	{"Git Workflow", "how do I undo my last commit", "Use git reset --soft HEAD~1 to undo the last commit while keeping changes staged."},
	{"Passport Renewal", "how do I renew my passport", "Fill in the renewal form, attach a recent photo and mail it with your old passport."},
	{"Sourdough", "my sourdough starter smells like acetone", "An acetone smell means the starter is hungry; feed it twice a day at a warmer spot."},
	{"Budget Spreadsheet", "help me plan a monthly budget", "List fixed costs first, then set aside savings before allocating discretionary spending."},
	{"Trip Planning", "what visas do I need for japan", "Many passport holders can visit Japan visa free for up to ninety days as tourists."},
	{"Marathon Training", "how many long runs before a marathon", "Most plans build to three or four long runs of thirty kilometres before tapering."},
	{"Tomato Garden", "why are my tomato leaves turning yellow", "Yellow lower leaves on tomatoes usually point to nitrogen deficiency or overwatering."},
	{"Resume Review", "should my resume fit on one page", "Keep a resume to one page unless you have more than ten years of relevant experience."},
	{"Vector Database", "which distance should I use for embeddings", "Vector database similarity for normalized embeddings usually uses cosine distance."},
	{"Rate Limiting", "how do token buckets work", "A token bucket refills at a fixed rate and each request spends one token."},
	{"Coffee Brewing", "what grind size for french press", "Use a coarse grind for french press and steep for about four minutes."},
	{"Bike Repair", "my bike chain keeps slipping", "A slipping chain often means a worn chain or cassette, or a misadjusted derailleur."},
}

// BuildCorpus returns one conversation per topic and the queries that must find each answer.
func BuildCorpus() *Corpus {
	c := &Corpus{Exchanges: topics, TotalMessages: 2 * len(topics)}
	for i, ex := range topics {
		c.TestCases = append(c.TestCases,
			QueryTestCase{Query: ex.Answer, ExpectedID: answerID(i)},
			QueryTestCase{Query: ex.Question, Role: "user", ExpectedID: questionID(i)},
		)
	}
	return c
}

func questionID(i int) string { return fmt.Sprintf("msg-%02d-q", i) }
func answerID(i int) string   { return fmt.Sprintf("msg-%02d-a", i) }

type exportMessage struct {
	ID     string `json:"id"`
	Author struct {
		Role string `json:"role"`
	} `json:"author"`
	Content struct {
		ContentType string `json:"content_type"`
		Parts       []any  `json:"parts"`
	} `json:"content"`
	CreateTime float64 `json:"create_time"`
}

type exportNode struct {
	ID       string         `json:"id"`
	Message  *exportMessage `json:"message"`
	Parent   *string        `json:"parent"`
	Children []string       `json:"children"`
}

type exportConversation struct {
	Title   string                `json:"title"`
	Mapping map[string]exportNode `json:"mapping"`
}

func message(id, role, text string, at float64) *exportMessage {
	m := &exportMessage{ID: id, CreateTime: at}
	m.Author.Role = role
	m.Content.ContentType = "text"
	m.Content.Parts = []any{text}
	return m
}

func (c *Corpus) conversations() []exportConversation {
	convs := make([]exportConversation, 0, len(c.Exchanges))
	base := 1.7e9
	for i, ex := range c.Exchanges {
		root := "root"
		q, a := "node-q", "node-a"
		at := base + float64(i*60)
		convs = append(convs, exportConversation{
			Title: ex.Title,
			Mapping: map[string]exportNode{
				root: {ID: root, Children: []string{q}},
				q:    {ID: q, Parent: &root, Children: []string{a}, Message: message(questionID(i), "user", ex.Question, at)},
				a:    {ID: a, Parent: &q, Message: message(answerID(i), "assistant", ex.Answer, at+5)},
			},
		})
	}
	return convs
}

// WriteExport writes the corpus as a conversation export JSON array. Each conversation
// also carries an empty root node, which the loader must skip.
func (c *Corpus) WriteExport(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(c.conversations())
}

// WriteNDJSON writes the corpus with one conversation per line.
func (c *Corpus) WriteNDJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	for _, conv := range c.conversations() {
		if err := enc.Encode(conv); err != nil {
			return err
		}
	}
	return nil
}
