package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/hyperjump/recall/internal/apperr"
	"github.com/hyperjump/recall/internal/models"
	"github.com/hyperjump/recall/internal/vector"
)

// QdrantConfig configures a Qdrant collection as the vector store.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimensions int
	// Roles bounds the per-role counts in Stats; Qdrant has no GROUP BY.
	Roles []string
}

// Payload keys stored on every point.
const (
	payloadMessageID      = "message_id"
	payloadConversationID = "conversation_id"
	payloadRole           = "role"
	payloadText           = "text"
	payloadCreateTime     = "create_time"
	payloadUpdateTime     = "update_time"
)

// messageNamespace derives stable point ids from message ids.
var messageNamespace = uuid.MustParse("3f6c8a52-94a1-4c1e-9d0b-7f1e2d6a5b40")

// QdrantStore ranks against one Qdrant collection. A collection is created with a single
// distance function, so only that metric can be served.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	metric     vector.Metric
	dims       int
	roles      []string
	logger     *zap.Logger
}

// NewQdrantStore connects and reads the collection's vector parameters.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create qdrant client")
	}
	info, err := client.GetCollectionInfo(ctx, cfg.Collection)
	if err != nil {
		_ = client.Close()
		return nil, apperr.Wrap(apperr.StoreUnavailable, errors.Wrapf(err, "collection %s", cfg.Collection), "connect to qdrant")
	}
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		_ = client.Close()
		return nil, errors.Errorf("collection %s uses named vectors, which are not supported", cfg.Collection)
	}
	if cfg.Dimensions > 0 && int(params.GetSize()) != cfg.Dimensions {
		_ = client.Close()
		return nil, apperr.New(apperr.DimensionMismatch,
			"collection %s holds %d-dimensional vectors but the embedder produces %d", cfg.Collection, params.GetSize(), cfg.Dimensions)
	}
	metric, err := metricFromQdrant(params.GetDistance())
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &QdrantStore{
		client:     client,
		collection: cfg.Collection,
		metric:     metric,
		dims:       int(params.GetSize()),
		roles:      cfg.Roles,
		logger:     logger,
	}, nil
}

func metricFromQdrant(d qdrant.Distance) (vector.Metric, error) {
	switch d {
	case qdrant.Distance_Cosine:
		return vector.MetricCosine, nil
	case qdrant.Distance_Euclid:
		return vector.MetricL2, nil
	case qdrant.Distance_Dot:
		return vector.MetricInnerProduct, nil
	}
	return "", errors.Errorf("unsupported qdrant distance %s", d.String())
}

func metricToQdrant(m vector.Metric) qdrant.Distance {
	switch m {
	case vector.MetricL2:
		return qdrant.Distance_Euclid
	case vector.MetricInnerProduct:
		return qdrant.Distance_Dot
	default:
		return qdrant.Distance_Cosine
	}
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func buildQdrantFilter(f Filter) *qdrant.Filter {
	var conds []*qdrant.Condition
	if f.Role != "" {
		conds = append(conds, keywordCondition(payloadRole, f.Role))
	}
	if f.ConversationID != "" {
		conds = append(conds, keywordCondition(payloadConversationID, f.ConversationID))
	}
	if len(conds) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: conds}
}

// RankBySimilarity runs a filtered nearest-neighbour query. Qdrant reports cosine and dot
// as similarities and euclid as a distance; scores are converted to raw metric values.
func (s *QdrantStore) RankBySimilarity(ctx context.Context, q Query) ([]Candidate, error) {
	if q.Metric != s.metric {
		return nil, apperr.New(apperr.InvalidParameter,
			"collection %s is configured for %s distance, %s is not available", s.collection, s.metric, q.Metric)
	}
	if len(q.Vector) != s.dims {
		return nil, apperr.New(apperr.DimensionMismatch,
			"query has %d dimensions, collection %s holds %d", len(q.Vector), s.collection, s.dims)
	}
	limit := uint64(q.Limit + rankFetchAhead)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(q.Vector...),
		Limit:          &limit,
		Filter:         buildQdrantFilter(q.Filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperr.Wrap(apperr.StoreUnavailable, errors.Wrap(err, "query points"), "qdrant rank by similarity")
	}

	out := make([]Candidate, 0, len(points))
	for _, p := range points {
		score := float64(p.GetScore())
		if s.metric == vector.MetricCosine {
			score = 1 - score
		}
		out = append(out, Candidate{Message: messageFromPayload(p.GetPayload()), Distance: score})
	}
	return rankCandidates(out, s.metric, q.Limit), nil
}

func messageFromPayload(p map[string]*qdrant.Value) *models.Message {
	m := &models.Message{
		MessageID:      p[payloadMessageID].GetStringValue(),
		ConversationID: p[payloadConversationID].GetStringValue(),
		Role:           p[payloadRole].GetStringValue(),
		Text:           p[payloadText].GetStringValue(),
	}
	if v, ok := p[payloadCreateTime]; ok {
		f := v.GetDoubleValue()
		m.CreateTime = &f
	}
	if v, ok := p[payloadUpdateTime]; ok {
		f := v.GetDoubleValue()
		m.UpdateTime = &f
	}
	return m
}

// Stats counts points exactly. Every point carries a vector, so both totals agree;
// roles are counted per configured role.
func (s *QdrantStore) Stats(ctx context.Context) (*models.Stats, error) {
	exact := true
	total, err := s.client.Count(ctx, &qdrant.CountPoints{CollectionName: s.collection, Exact: &exact})
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, errors.Wrap(err, "count points"), "qdrant stats")
	}
	st := models.NewStats()
	st.TotalMessages = int64(total)
	st.MessagesWithEmbeddings = int64(total)
	for _, role := range s.roles {
		n, err := s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: s.collection,
			Filter:         &qdrant.Filter{Must: []*qdrant.Condition{keywordCondition(payloadRole, role)}},
			Exact:          &exact,
		})
		if err != nil {
			return nil, apperr.Wrap(apperr.StoreUnavailable, errors.Wrapf(err, "count role %s", role), "qdrant stats")
		}
		if n > 0 {
			st.RoleDistribution[role] = int64(n)
		}
	}
	return st, nil
}

// UpsertMessages writes embedded messages as points. Messages without an embedding are skipped.
func (s *QdrantStore) UpsertMessages(ctx context.Context, msgs []*models.Message) error {
	points := make([]*qdrant.PointStruct, 0, len(msgs))
	for _, m := range msgs {
		if m.Embedding == nil {
			continue
		}
		if len(m.Embedding) != s.dims {
			return apperr.New(apperr.DimensionMismatch,
				"message %s has %d dimensions, collection %s holds %d", m.MessageID, len(m.Embedding), s.collection, s.dims)
		}
		payload := map[string]any{
			payloadMessageID:      m.MessageID,
			payloadConversationID: m.ConversationID,
			payloadRole:           m.Role,
			payloadText:           m.Text,
		}
		if m.CreateTime != nil {
			payload[payloadCreateTime] = *m.CreateTime
		}
		if m.UpdateTime != nil {
			payload[payloadUpdateTime] = *m.UpdateTime
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(uuid.NewSHA1(messageNamespace, []byte(m.MessageID)).String()),
			Vectors: qdrant.NewVectors(m.Embedding...),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	if len(points) == 0 {
		return nil
	}
	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	return errors.Wrap(err, "upsert points")
}

// DeleteAll removes every point; an empty filter matches the whole collection.
func (s *QdrantStore) DeleteAll(ctx context.Context) error {
	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelectorFilter(&qdrant.Filter{}),
	})
	return errors.Wrap(err, "delete points")
}

// Ping calls the Qdrant health check.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, err, "qdrant health check")
	}
	return nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// MigrateQdrant creates the collection with the given metric if it does not exist, plus
// keyword payload indexes for the filter fields.
func MigrateQdrant(ctx context.Context, cfg QdrantConfig, metric vector.Metric) error {
	if cfg.Dimensions <= 0 {
		return errors.New("migrate: dimensions must be positive")
	}
	client, err := qdrant.NewClient(&qdrant.Config{Host: cfg.Host, Port: cfg.Port, APIKey: cfg.APIKey, UseTLS: cfg.UseTLS})
	if err != nil {
		return errors.Wrap(err, "create qdrant client")
	}
	defer client.Close()

	exists, err := client.CollectionExists(ctx, cfg.Collection)
	if err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, err, "qdrant collection exists")
	}
	if !exists {
		err := client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: cfg.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(cfg.Dimensions),
				Distance: metricToQdrant(metric),
			}),
		})
		if err != nil {
			return errors.Wrapf(err, "create collection %s", cfg.Collection)
		}
	}
	for _, field := range []string{payloadRole, payloadConversationID} {
		fieldType := qdrant.FieldType_FieldTypeKeyword
		wait := true
		_, err := client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: cfg.Collection,
			FieldName:      field,
			FieldType:      &fieldType,
			Wait:           &wait,
		})
		if err != nil {
			return errors.Wrapf(err, "index payload field %s", field)
		}
	}
	return nil
}
