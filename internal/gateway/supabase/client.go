// Package supabase реализует шлюз поверх HTTP API хостинга:
// PostgREST для таблиц, edge functions для процедур и storage API для файлов.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/linemk/naijahub/internal/auth"
	"github.com/linemk/naijahub/internal/gateway"
	"github.com/pkg/errors"
)

var (
	_ gateway.Tables     = (*Client)(nil)
	_ gateway.Procedures = (*Client)(nil)
	_ gateway.Blobs      = (*Client)(nil)
)

type Config struct {
	URL        string
	AnonKey    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Client struct {
	log        *slog.Logger
	baseURL    string
	anonKey    string
	httpClient *http.Client
}

func New(log *slog.Logger, cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase url is required")
	}
	if cfg.AnonKey == "" {
		return nil, fmt.Errorf("supabase anon key is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		log:        log.With(slog.String("component", "gateway/supabase")),
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		anonKey:    cfg.AnonKey,
		httpClient: httpClient,
	}, nil
}

// BaseURL корень проекта, его же использует realtime клиент.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) Select(ctx context.Context, q gateway.Query, dest any) error {
	const op = "supabase.Client.Select"

	params := selectParams(q)
	reqURL := c.baseURL + "/rest/v1/" + q.Table + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return gateway.NewQueryError(op, err)
	}
	c.setHeaders(req)

	return c.do(op, req, dest)
}

func (c *Client) Insert(ctx context.Context, table string, rows any, dest any) error {
	const op = "supabase.Client.Insert"

	body, err := json.Marshal(rows)
	if err != nil {
		return gateway.NewQueryError(op, fmt.Errorf("marshal rows: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rest/v1/"+table, bytes.NewReader(body))
	if err != nil {
		return gateway.NewQueryError(op, err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")

	return c.do(op, req, dest)
}

func (c *Client) Update(ctx context.Context, table string, f gateway.Filter, patch any, dest any) error {
	const op = "supabase.Client.Update"

	if f.Empty() {
		return gateway.NewQueryError(op, gateway.ErrUnfilteredWrite)
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return gateway.NewQueryError(op, fmt.Errorf("marshal patch: %w", err))
	}

	params := filterParams(f)
	reqURL := c.baseURL + "/rest/v1/" + table + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, reqURL, bytes.NewReader(body))
	if err != nil {
		return gateway.NewQueryError(op, err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")

	return c.do(op, req, dest)
}

func (c *Client) Delete(ctx context.Context, table string, f gateway.Filter) error {
	const op = "supabase.Client.Delete"

	if f.Empty() {
		return gateway.NewQueryError(op, gateway.ErrUnfilteredWrite)
	}

	params := filterParams(f)
	reqURL := c.baseURL + "/rest/v1/" + table + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, reqURL, nil)
	if err != nil {
		return gateway.NewQueryError(op, err)
	}
	c.setHeaders(req)
	req.Header.Set("Prefer", "return=minimal")

	return c.do(op, req, nil)
}

// Invoke вызывает edge function.
func (c *Client) Invoke(ctx context.Context, name string, payload any, dest any) error {
	const op = "supabase.Client.Invoke"

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return gateway.NewQueryError(op, fmt.Errorf("marshal payload: %w", err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/functions/v1/"+name, body)
	if err != nil {
		return gateway.NewQueryError(op, err)
	}
	c.setHeaders(req)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(op, req, dest)
}

func (c *Client) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error) {
	const op = "supabase.Client.Upload"

	reqURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, bucket, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(data))
	if err != nil {
		return "", gateway.NewQueryError(op, err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Cache-Control", "max-age=3600")
	req.Header.Set("x-upsert", "false")

	if err := c.do(op, req, nil); err != nil {
		return "", err
	}
	return c.PublicURL(bucket, path), nil
}

func (c *Client) PublicURL(bucket, path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.baseURL, bucket, path)
}

// setHeaders пробрасывает токен вызывающего, чтобы политики RLS видели пользователя,
// для анонимного чтения подставляется anon ключ.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("apikey", c.anonKey)
	token := c.anonKey
	if id, ok := auth.FromContext(req.Context()); ok && id.Token != "" {
		token = id.Token
	}
	req.Header.Set("Authorization", "Bearer "+token)
}

func (c *Client) do(op string, req *http.Request, dest any) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &gateway.Error{Kind: gateway.KindNetwork, Op: op, Err: errors.Wrap(err, "http request")}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &gateway.Error{Kind: gateway.KindNetwork, Op: op, Status: resp.StatusCode, Err: errors.Wrap(err, "read response")}
	}

	c.log.Debug("remote call",
		slog.String("op", op),
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
		slog.Int("status", resp.StatusCode),
		slog.String("duration", time.Since(start).String()),
	)

	if resp.StatusCode >= http.StatusBadRequest {
		return responseError(op, resp.StatusCode, body)
	}

	if dest == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return gateway.NewQueryError(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
