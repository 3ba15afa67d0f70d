// Package cmsclient talks to the stackd admin API the way the CMS sort view
// does, and satisfies reorder.Collaborator.
package cmsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"stackd/api/internal/ranking"
)

const defaultTimeout = 15 * time.Second

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

type Option func(*Client)

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type listResponse struct {
	Data []map[string]any `json:"data"`
}

// ListAll fetches the whole collection unpaged. The server already orders by
// rank; the session sorts again anyway.
func (c *Client) ListAll(ctx context.Context, collection string) ([]ranking.Item, error) {
	endpoint := c.collectionURL(collection) + "?all=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var body listResponse
	if err := c.do(req, &body); err != nil {
		return nil, err
	}

	items := make([]ranking.Item, 0, len(body.Data))
	for i, raw := range body.Data {
		id, _ := raw["id"].(string)
		if id == "" {
			return nil, fmt.Errorf("item %d of %s has no id", i, collection)
		}
		rank, err := rankOf(raw["rankingIndex"])
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", id, err)
		}
		items = append(items, ranking.Item{ID: id, Rank: rank, Payload: raw})
	}
	c.logger.Debug("listed collection", zap.String("collection", collection), zap.Int("items", len(items)))
	return items, nil
}

func rankOf(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case string:
		return strconv.ParseFloat(v, 64)
	case nil:
		return 0, fmt.Errorf("missing rankingIndex")
	default:
		return 0, fmt.Errorf("unexpected rankingIndex %T", value)
	}
}

// UpdateRank sends a PATCH whose multipart form carries only rankingIndex,
// so no other field of the item changes.
func (c *Client) UpdateRank(ctx context.Context, collection, itemID string, rank float64) error {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("rankingIndex", strconv.FormatFloat(rank, 'f', -1, 64)); err != nil {
		return err
	}
	if err := form.Close(); err != nil {
		return err
	}

	endpoint := c.collectionURL(collection) + "/" + url.PathEscape(itemID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	if err := c.do(req, nil); err != nil {
		return err
	}
	c.logger.Debug("rank updated", zap.String("collection", collection), zap.String("item_id", itemID), zap.Float64("rank", rank))
	return nil
}

func (c *Client) collectionURL(collection string) string {
	return c.baseURL + "/api/" + url.PathEscape(collection)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{Status: resp.StatusCode}
	var payload struct {
		Code    string `json:"code"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		apiErr.Code = payload.Code
		apiErr.Message = firstNonBlank(payload.Error, payload.Message)
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
