// Package realtime следит за лентой изменений таблиц объявлений и
// инвалидирует кэш объявлений затронутой вертикали, чтобы новые объявления
// появлялись без ожидания устаревания.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/linemk/naijahub/internal/cache"
	"github.com/linemk/naijahub/internal/domain/models"
	"github.com/linemk/naijahub/internal/lib/logger"
)

type Invalidator interface {
	Invalidate(prefixes ...cache.Key) int
}

type Config struct {
	URL            string // базовый url проекта, http(s)
	APIKey         string
	Heartbeat      time.Duration
	ReconnectDelay time.Duration
}

type Watcher struct {
	log    *slog.Logger
	cfg    Config
	inv    Invalidator
	keyFor func(models.Marketplace) cache.Key
	dialer websocket.Dialer
}

func NewWatcher(log *slog.Logger, cfg Config, inv Invalidator, keyFor func(models.Marketplace) cache.Key) *Watcher {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 25 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	return &Watcher{
		log:    log.With(slog.String("component", "realtime")),
		cfg:    cfg,
		inv:    inv,
		keyFor: keyFor,
		dialer: websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Run держит сессию до отмены ctx и переподключается после сбоев.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		err := w.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		w.log.Warn("realtime session ended", logger.Err(err), slog.String("retry_in", w.cfg.ReconnectDelay.String()))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.cfg.ReconnectDelay):
		}
	}
}

func (w *Watcher) socketURL() (string, error) {
	u, err := url.Parse(w.cfg.URL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/realtime/v1/websocket"
	q := u.Query()
	q.Set("apikey", w.cfg.APIKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
	ref  int
}

func (s *session) send(topic, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ref++
	ref := strconv.Itoa(s.ref)
	return s.conn.WriteJSON(message{Topic: topic, Event: event, Payload: data, Ref: ref, JoinRef: ref})
}

func topicFor(table string) string {
	return "realtime:public:" + table
}

func (w *Watcher) session(ctx context.Context) error {
	const op = "realtime.Watcher.session"

	socketURL, err := w.socketURL()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	conn, _, err := w.dialer.DialContext(ctx, socketURL, nil)
	if err != nil {
		return fmt.Errorf("%s: websocket dial: %w", op, err)
	}
	defer conn.Close()

	s := &session{conn: conn}
	for _, m := range models.Marketplaces {
		table := m.ListingsTable()
		join := map[string]any{
			"config": map[string]any{
				"postgres_changes": []map[string]string{
					{"event": "*", "schema": "public", "table": table},
				},
			},
		}
		if err := s.send(topicFor(table), "phx_join", join); err != nil {
			return fmt.Errorf("%s: join %s: %w", op, table, err)
		}
	}
	w.log.Info("realtime subscribed", slog.Int("tables", len(models.Marketplaces)))

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(w.cfg.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				if err := s.send("phoenix", "heartbeat", map[string]any{}); err != nil {
					w.log.Warn("heartbeat failed", logger.Err(err))
				}
			}
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(2 * w.cfg.Heartbeat))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%s: read: %w", op, err)
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		w.handle(msg)
	}
}

type change struct {
	Table string `json:"table"`
	Type  string `json:"type"`
}

func (w *Watcher) handle(msg message) {
	var c change
	switch msg.Event {
	case "postgres_changes":
		var payload struct {
			Data change `json:"data"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return
		}
		c = payload.Data
	case "INSERT", "UPDATE", "DELETE":
		if err := json.Unmarshal(msg.Payload, &c); err != nil {
			return
		}
		if c.Type == "" {
			c.Type = msg.Event
		}
	case "phx_reply":
		var reply struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(msg.Payload, &reply); err == nil && reply.Status == "error" {
			w.log.Warn("realtime join rejected", slog.String("topic", msg.Topic))
		}
		return
	default:
		return
	}

	if c.Table == "" {
		c.Table = strings.TrimPrefix(msg.Topic, "realtime:public:")
	}
	m, ok := models.MarketplaceForListingsTable(c.Table)
	if !ok {
		return
	}

	n := w.inv.Invalidate(w.keyFor(m))
	w.log.Debug("listing change",
		slog.String("marketplace", string(m)),
		slog.String("type", c.Type),
		slog.Int("invalidated", n),
	)
}
