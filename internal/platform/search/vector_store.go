package search

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fenwick-ai/ragchat-core/internal/platform/logger"
)

// VectorStore is the index C5's retrieval strategies query against and
// the indexing path writes to; RetrievalDoc.VectorID is the key shared
// between the relational truth and this index.
type VectorStore interface {
	Upsert(ctx context.Context, namespace string, vectors []Vector) error
	// QueryMatches returns IDs with their similarity scores (higher is better).
	QueryMatches(ctx context.Context, namespace string, q []float32, topK int, filter map[string]any) ([]VectorMatch, error)
	QueryIDs(ctx context.Context, namespace string, q []float32, topK int, filter map[string]any) ([]string, error)
	DeleteIDs(ctx context.Context, namespace string, ids []string) error
}

type Vector struct {
	ID       string
	Values   []float32
	Metadata map[string]any
}

type VectorMatch struct {
	ID    string
	Score float64
}

type vectorStore struct {
	log       *logger.Logger
	api       apiClient
	indexHost string
	nsPrefix  string
}

// NewVectorStore resolves PINECONE_INDEX_NAME/PINECONE_INDEX_HOST and
// PINECONE_NAMESPACE_PREFIX from the environment; if the host isn't set it
// bootstraps one via describe_index (fine for local/dev, avoid in prod).
func NewVectorStore(log *logger.Logger) (VectorStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	apiKey := strings.TrimSpace(os.Getenv("PINECONE_API_KEY"))
	indexName := strings.TrimSpace(os.Getenv("PINECONE_INDEX_NAME"))
	if indexName == "" {
		return nil, fmt.Errorf("missing PINECONE_INDEX_NAME")
	}
	host := strings.TrimSpace(os.Getenv("PINECONE_INDEX_HOST"))
	nsPrefix := strings.TrimSpace(os.Getenv("PINECONE_NAMESPACE_PREFIX"))
	if nsPrefix == "" {
		nsPrefix = "ragchat"
	}

	api, err := newRESTClient(log, apiConfig{APIKey: apiKey})
	if err != nil {
		return nil, err
	}

	if host == "" {
		desc, err := api.describeIndex(context.Background(), indexName)
		if err != nil {
			return nil, fmt.Errorf("describe_index failed: %w", err)
		}
		host = desc.Host
		log.Warn("PINECONE_INDEX_HOST not set; resolved via describe_index (avoid this in production)",
			"index_name", indexName, "index_host", host)
	}

	return &vectorStore{log: log.With("service", "search.VectorStore"), api: api, indexHost: host, nsPrefix: nsPrefix}, nil
}

func (s *vectorStore) Upsert(ctx context.Context, namespace string, vectors []Vector) error {
	rows := make([]vectorRow, len(vectors))
	for i, v := range vectors {
		rows[i] = vectorRow{ID: v.ID, Values: v.Values, Metadata: v.Metadata}
	}
	_, err := s.api.upsertVectors(ctx, s.indexHost, upsertRequest{Namespace: s.qualifyNamespace(namespace), Vectors: rows})
	return err
}

func (s *vectorStore) QueryMatches(ctx context.Context, namespace string, q []float32, topK int, filter map[string]any) ([]VectorMatch, error) {
	resp, err := s.api.query(ctx, s.indexHost, queryRequest{
		Namespace: s.qualifyNamespace(namespace),
		Vector:    q,
		TopK:      topK,
		Filter:    filter,
	})
	if err != nil {
		return nil, err
	}
	out := make([]VectorMatch, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if strings.TrimSpace(m.ID) == "" {
			continue
		}
		out = append(out, VectorMatch{ID: m.ID, Score: m.Score})
	}
	return out, nil
}

func (s *vectorStore) QueryIDs(ctx context.Context, namespace string, q []float32, topK int, filter map[string]any) ([]string, error) {
	matches, err := s.QueryMatches(ctx, namespace, q, topK, filter)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.ID)
	}
	return out, nil
}

func (s *vectorStore) DeleteIDs(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.api.deleteVectors(ctx, s.indexHost, deleteRequest{Namespace: s.qualifyNamespace(namespace), IDs: ids})
}

func (s *vectorStore) qualifyNamespace(ns string) string {
	ns = strings.TrimSpace(ns)
	if ns == "" {
		return s.nsPrefix
	}
	return s.nsPrefix + ":" + ns
}
