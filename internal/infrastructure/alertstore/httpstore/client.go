package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"targetwatch/internal/application/port"
	"targetwatch/internal/domain"
)

const defaultTimeout = 10 * time.Second

// Client 远端提醒服务 REST 客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ port.AlertStore = (*Client)(nil)

// alertDTO 远端 snake_case 报文
type alertDTO struct {
	ID              int64      `json:"id"`
	Ticker          string     `json:"ticker"`
	Kind            string     `json:"kind"`
	ThresholdValue  float64    `json:"threshold_value"`
	Trailing        bool       `json:"trailing"`
	Active          bool       `json:"active"`
	CreatedAt       time.Time  `json:"created_at"`
	LastTriggeredAt *time.Time `json:"last_triggered_at"`
}

type keyDTO struct {
	Ticker         string  `json:"ticker"`
	Kind           string  `json:"kind"`
	ThresholdValue float64 `json:"threshold_value"`
	Trailing       bool    `json:"trailing"`
}

func (d alertDTO) toDomain() domain.AlertRecord {
	return domain.AlertRecord{
		ID:              d.ID,
		Ticker:          domain.NormalizeTicker(d.Ticker),
		Kind:            domain.AlertKind(d.Kind),
		Threshold:       d.ThresholdValue,
		Trailing:        d.Trailing,
		Active:          d.Active,
		CreatedAt:       d.CreatedAt,
		LastTriggeredAt: d.LastTriggeredAt,
	}
}

// New 创建客户端；timeout <= 0 时使用默认 10s
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// NewWithHTTPClient uses the given client as-is, e.g. one from httptest.
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: hc}
}

// List GET /alerts
func (c *Client) List(ctx context.Context, filter port.AlertFilter) ([]domain.AlertRecord, error) {
	params := url.Values{}
	if filter.Active != nil {
		params.Set("active", strconv.FormatBool(*filter.Active))
	}
	if t := domain.NormalizeTicker(filter.Ticker); t != "" {
		params.Set("ticker", t)
	}
	if filter.Kind != "" {
		params.Set("kind", string(filter.Kind))
	}
	if filter.Trailing != nil {
		params.Set("trailing", strconv.FormatBool(*filter.Trailing))
	}

	body, err := c.do(ctx, http.MethodGet, "/alerts", params, nil)
	if err != nil {
		return nil, err
	}

	var dtos []alertDTO
	if err := json.Unmarshal(body, &dtos); err != nil {
		return nil, fmt.Errorf("decode alerts: %w", err)
	}
	out := make([]domain.AlertRecord, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, d.toDomain())
	}
	return out, nil
}

// Activate POST /alerts/activate
func (c *Client) Activate(ctx context.Context, key domain.AlertKey) (domain.AlertRecord, error) {
	return c.mutate(ctx, "/alerts/activate", key)
}

// Deactivate POST /alerts/deactivate；空响应视为无操作成功
func (c *Client) Deactivate(ctx context.Context, key domain.AlertKey) (domain.AlertRecord, error) {
	return c.mutate(ctx, "/alerts/deactivate", key)
}

func (c *Client) mutate(ctx context.Context, path string, key domain.AlertKey) (domain.AlertRecord, error) {
	payload, err := json.Marshal(keyDTO{
		Ticker:         domain.NormalizeTicker(key.Ticker),
		Kind:           string(key.Kind),
		ThresholdValue: key.Threshold,
		Trailing:       key.Trailing,
	})
	if err != nil {
		return domain.AlertRecord{}, err
	}

	body, err := c.do(ctx, http.MethodPost, path, nil, payload)
	if err != nil {
		return domain.AlertRecord{}, err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return domain.AlertRecord{
			Ticker:    domain.NormalizeTicker(key.Ticker),
			Kind:      key.Kind,
			Threshold: key.Threshold,
			Trailing:  key.Trailing,
		}, nil
	}

	var dto alertDTO
	if err := json.Unmarshal(trimmed, &dto); err != nil {
		return domain.AlertRecord{}, fmt.Errorf("decode alert: %w", err)
	}
	return dto.toDomain(), nil
}

// do 发送请求；传输失败包装为 ErrStoreUnavailable，非 2xx 返回 StatusError
func (c *Client) do(ctx context.Context, method, path string, params url.Values, payload []byte) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s %s: %v", port.ErrStoreUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", port.ErrStoreUnavailable, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &port.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
