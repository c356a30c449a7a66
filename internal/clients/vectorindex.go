package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const defaultIndexTimeout = 15 * time.Second

// IndexedDocument is a stored entry of the vector index.
type IndexedDocument struct {
	ID       string
	Document string
	Metadata map[string]any
}

// IndexMatch is a nearest-neighbor query hit. Distance is the raw index
// distance; callers convert it to a similarity.
type IndexMatch struct {
	ID       string
	Document string
	Metadata map[string]any
	Distance float64
}

// VectorIndex is the persistence dependency of the experience memory.
// The where maps are metadata equality filters evaluated server-side;
// nil means unfiltered.
type VectorIndex interface {
	Add(ctx context.Context, id string, embedding []float64, document string, metadata map[string]any) error
	Query(ctx context.Context, embedding []float64, topK int, where map[string]any) ([]IndexMatch, error)
	Get(ctx context.Context, id string) (*IndexedDocument, error)
	List(ctx context.Context, where map[string]any, limit int) ([]IndexedDocument, error)
	UpdateMetadata(ctx context.Context, id string, document string, metadata map[string]any) error
	Count(ctx context.Context) (int, error)
	Reset(ctx context.Context) error
}

// ChromaIndex implements VectorIndex against a Chroma-compatible HTTP
// API. The collection is created on first use if it does not exist.
type ChromaIndex struct {
	baseURL    string
	collection string
	httpClient *http.Client

	mu           sync.Mutex
	collectionID string
}

func NewChromaIndex(baseURL, collection string, timeout time.Duration) *ChromaIndex {
	if timeout <= 0 {
		timeout = defaultIndexTimeout
	}
	return &ChromaIndex{
		baseURL:    baseURL,
		collection: collection,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type chromaCollection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ensureCollection resolves and caches the collection id, creating the
// collection when missing.
func (c *ChromaIndex) ensureCollection(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.collectionID != "" {
		return c.collectionID, nil
	}

	reqBody := map[string]any{
		"name":          c.collection,
		"get_or_create": true,
	}

	var col chromaCollection
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/collections", reqBody, &col); err != nil {
		return "", errors.Wrap(err, "failed to get or create collection")
	}
	if col.ID == "" {
		return "", errors.New("vector index returned collection without id")
	}

	c.collectionID = col.ID
	return c.collectionID, nil
}

// Add stores one embedded document.
func (c *ChromaIndex) Add(ctx context.Context, id string, embedding []float64, document string, metadata map[string]any) error {
	colID, err := c.ensureCollection(ctx)
	if err != nil {
		return err
	}

	reqBody := map[string]any{
		"ids":        []string{id},
		"embeddings": [][]float64{embedding},
		"documents":  []string{document},
		"metadatas":  []map[string]any{metadata},
	}
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/v1/collections/%s/add", colID), reqBody, nil)
}

type chromaQueryResponse struct {
	IDs       [][]string         `json:"ids"`
	Documents [][]string         `json:"documents"`
	Metadatas [][]map[string]any `json:"metadatas"`
	Distances [][]float64        `json:"distances"`
}

// Query returns the topK nearest documents to the embedding, optionally
// restricted to entries whose metadata matches where.
func (c *ChromaIndex) Query(ctx context.Context, embedding []float64, topK int, where map[string]any) ([]IndexMatch, error) {
	colID, err := c.ensureCollection(ctx)
	if err != nil {
		return nil, err
	}

	reqBody := map[string]any{
		"query_embeddings": [][]float64{embedding},
		"n_results":        topK,
		"include":          []string{"documents", "metadatas", "distances"},
	}
	if len(where) > 0 {
		reqBody["where"] = where
	}

	var resp chromaQueryResponse
	if err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/v1/collections/%s/query", colID), reqBody, &resp); err != nil {
		return nil, errors.Wrap(err, "vector query failed")
	}
	if len(resp.IDs) == 0 {
		return nil, nil
	}

	matches := make([]IndexMatch, 0, len(resp.IDs[0]))
	for i, id := range resp.IDs[0] {
		match := IndexMatch{ID: id}
		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) {
			match.Document = resp.Documents[0][i]
		}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			match.Metadata = resp.Metadatas[0][i]
		}
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			match.Distance = resp.Distances[0][i]
		}
		matches = append(matches, match)
	}
	return matches, nil
}

type chromaGetResponse struct {
	IDs       []string         `json:"ids"`
	Documents []string         `json:"documents"`
	Metadatas []map[string]any `json:"metadatas"`
}

// Get fetches one document by id, returning nil when it does not exist.
func (c *ChromaIndex) Get(ctx context.Context, id string) (*IndexedDocument, error) {
	docs, err := c.get(ctx, []string{id}, nil, 0)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return &docs[0], nil
}

// List fetches stored documents filtered by metadata equality. A nil where
// matches everything, limit <= 0 means unbounded.
func (c *ChromaIndex) List(ctx context.Context, where map[string]any, limit int) ([]IndexedDocument, error) {
	return c.get(ctx, nil, where, limit)
}

func (c *ChromaIndex) get(ctx context.Context, ids []string, where map[string]any, limit int) ([]IndexedDocument, error) {
	colID, err := c.ensureCollection(ctx)
	if err != nil {
		return nil, err
	}

	reqBody := map[string]any{
		"include": []string{"documents", "metadatas"},
	}
	if len(ids) > 0 {
		reqBody["ids"] = ids
	}
	if len(where) > 0 {
		reqBody["where"] = where
	}
	if limit > 0 {
		reqBody["limit"] = limit
	}

	var resp chromaGetResponse
	if err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/v1/collections/%s/get", colID), reqBody, &resp); err != nil {
		return nil, errors.Wrap(err, "vector get failed")
	}

	docs := make([]IndexedDocument, 0, len(resp.IDs))
	for i, id := range resp.IDs {
		doc := IndexedDocument{ID: id}
		if i < len(resp.Documents) {
			doc.Document = resp.Documents[i]
		}
		if i < len(resp.Metadatas) {
			doc.Metadata = resp.Metadatas[i]
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// UpdateMetadata replaces the document text and metadata of an entry.
func (c *ChromaIndex) UpdateMetadata(ctx context.Context, id string, document string, metadata map[string]any) error {
	colID, err := c.ensureCollection(ctx)
	if err != nil {
		return err
	}

	reqBody := map[string]any{
		"ids":       []string{id},
		"documents": []string{document},
		"metadatas": []map[string]any{metadata},
	}
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/v1/collections/%s/update", colID), reqBody, nil)
}

// Count returns the number of stored documents.
func (c *ChromaIndex) Count(ctx context.Context) (int, error) {
	colID, err := c.ensureCollection(ctx)
	if err != nil {
		return 0, err
	}

	var count int
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/v1/collections/%s/count", colID), nil, &count); err != nil {
		return 0, errors.Wrap(err, "vector count failed")
	}
	return count, nil
}

// Reset drops and recreates the collection.
func (c *ChromaIndex) Reset(ctx context.Context) error {
	if _, err := c.ensureCollection(ctx); err != nil {
		return err
	}

	if err := c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/collections/%s", c.collection), nil, nil); err != nil {
		return errors.Wrap(err, "failed to delete collection")
	}

	c.mu.Lock()
	c.collectionID = ""
	c.mu.Unlock()

	_, err := c.ensureCollection(ctx)
	return err
}

func (c *ChromaIndex) doJSON(ctx context.Context, method, path string, reqBody, out any) error {
	var body io.Reader
	if reqBody != nil {
		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return errors.Wrap(err, "failed to marshal request")
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "failed to create HTTP request")
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "HTTP request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("vector index returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return errors.Wrap(err, "failed to unmarshal response")
		}
	}
	return nil
}
