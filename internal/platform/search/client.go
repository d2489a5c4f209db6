// Package search talks to the Pinecone data/control plane: a namespaced
// vector index queried by C5's retrieval strategies and written to by
// the indexing path that derives RetrievalDoc rows from chat content.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fenwick-ai/ragchat-core/internal/platform/logger"
)

type apiClient interface {
	describeIndex(ctx context.Context, indexName string) (*indexDescription, error)
	upsertVectors(ctx context.Context, host string, req upsertRequest) (*upsertResponse, error)
	query(ctx context.Context, host string, req queryRequest) (*queryResponse, error)
	deleteVectors(ctx context.Context, host string, req deleteRequest) error
}

type apiConfig struct {
	APIKey     string
	APIVersion string
	BaseURL    string
	Timeout    time.Duration
}

type restClient struct {
	log  *logger.Logger
	cfg  apiConfig
	http *http.Client
}

func newRESTClient(log *logger.Logger, cfg apiConfig) (apiClient, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing vector index API key")
	}
	if strings.TrimSpace(cfg.APIVersion) == "" {
		cfg.APIVersion = "2025-10"
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.pinecone.io"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &restClient{log: log.With("client", "search.restClient"), cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

type indexDescription struct {
	Name      string `json:"name"`
	Host      string `json:"host"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
}

func (c *restClient) describeIndex(ctx context.Context, indexName string) (*indexDescription, error) {
	indexName = strings.TrimSpace(indexName)
	if indexName == "" {
		return nil, fmt.Errorf("indexName required")
	}
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/indexes/" + indexName
	out, err := doJSON[indexDescription](c, ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Host) == "" {
		return nil, fmt.Errorf("describe_index returned empty host")
	}
	return out, nil
}

type vectorRow struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type upsertRequest struct {
	Vectors   []vectorRow `json:"vectors"`
	Namespace string      `json:"namespace,omitempty"`
}

type upsertResponse struct {
	UpsertedCount int64 `json:"upsertedCount"`
}

func (c *restClient) upsertVectors(ctx context.Context, host string, req upsertRequest) (*upsertResponse, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, fmt.Errorf("host required")
	}
	if len(req.Vectors) == 0 {
		return &upsertResponse{}, nil
	}
	return doJSON[upsertResponse](c, ctx, "POST", "https://"+host+"/vectors/upsert", req)
}

type queryRequest struct {
	Namespace       string         `json:"namespace,omitempty"`
	Vector          []float32      `json:"vector,omitempty"`
	TopK            int            `json:"topK"`
	Filter          map[string]any `json:"filter,omitempty"`
	IncludeValues   bool           `json:"includeValues,omitempty"`
	IncludeMetadata bool           `json:"includeMetadata,omitempty"`
}

type queryMatch struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

type queryResponse struct {
	Matches []queryMatch `json:"matches"`
}

func (c *restClient) query(ctx context.Context, host string, req queryRequest) (*queryResponse, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, fmt.Errorf("host required")
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}
	if len(req.Vector) == 0 {
		return nil, fmt.Errorf("query vector required")
	}
	return doJSON[queryResponse](c, ctx, "POST", "https://"+host+"/query", req)
}

type deleteRequest struct {
	IDs       []string `json:"ids,omitempty"`
	Namespace string   `json:"namespace,omitempty"`
}

func (c *restClient) deleteVectors(ctx context.Context, host string, req deleteRequest) error {
	host = strings.TrimSpace(host)
	if host == "" {
		return fmt.Errorf("host required")
	}
	if len(req.IDs) == 0 {
		return nil
	}
	_, err := doJSON[struct{}](c, ctx, "POST", "https://"+host+"/vectors/delete", req)
	return err
}

func doJSON[T any](c *restClient, ctx context.Context, method, url string, body any) (*T, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Api-Key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pinecone-Api-Version", c.cfg.APIVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("search index http %d: %s", resp.StatusCode, string(raw))
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("search index decode error: %w; raw=%s", err, string(raw))
	}
	return &out, nil
}
