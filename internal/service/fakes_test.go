package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/linemk/naijahub/internal/auth"
	"github.com/linemk/naijahub/internal/cache"
	"github.com/linemk/naijahub/internal/events"
	"github.com/linemk/naijahub/internal/gateway"
	"github.com/linemk/naijahub/internal/lib/logger/handlers/slogdiscard"
	"github.com/stretchr/testify/require"
)

type call struct {
	Op     string
	Table  string
	Query  gateway.Query
	Filter gateway.Filter
	Rows   any
}

func (c call) String() string { return c.Op + ":" + c.Table }

// fakeTables записывает все вызовы по порядку и отвечает заданными
// функциями. Запись без функции возвращает записанные строки с id.
type fakeTables struct {
	mu    sync.Mutex
	calls []call
	seq   int

	selectFn func(q gateway.Query) (any, error)
	insertFn func(table string, rows any) (any, error)
	updateFn func(table string, f gateway.Filter, patch any) (any, error)
	deleteFn func(table string, f gateway.Filter) error
}

func (f *fakeTables) record(c call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeTables) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.String()
	}
	return out
}

func (f *fakeTables) count(op, table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op == op && c.Table == table {
			n++
		}
	}
	return n
}

func (f *fakeTables) last(op string) call {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Op == op {
			return f.calls[i]
		}
	}
	return call{}
}

func (f *fakeTables) Select(_ context.Context, q gateway.Query, dest any) error {
	f.record(call{Op: "select", Table: q.Table, Query: q, Filter: q.Filter})
	if f.selectFn == nil {
		return decodeInto([]any{}, dest)
	}
	v, err := f.selectFn(q)
	if err != nil {
		return err
	}
	return decodeInto(v, dest)
}

func (f *fakeTables) Insert(_ context.Context, table string, rows any, dest any) error {
	f.record(call{Op: "insert", Table: table, Rows: rows})
	if f.insertFn != nil {
		v, err := f.insertFn(table, rows)
		if err != nil {
			return err
		}
		return decodeInto(v, dest)
	}
	return decodeInto(f.echo(table, rows), dest)
}

func (f *fakeTables) Update(_ context.Context, table string, flt gateway.Filter, patch any, dest any) error {
	f.record(call{Op: "update", Table: table, Filter: flt, Rows: patch})
	if f.updateFn == nil {
		return decodeInto([]any{}, dest)
	}
	v, err := f.updateFn(table, flt, patch)
	if err != nil {
		return err
	}
	return decodeInto(v, dest)
}

func (f *fakeTables) Delete(_ context.Context, table string, flt gateway.Filter) error {
	f.record(call{Op: "delete", Table: table, Filter: flt})
	if f.deleteFn == nil {
		return nil
	}
	return f.deleteFn(table, flt)
}

// echo возвращает строки как хранилище: с id и временем создания.
func (f *fakeTables) echo(table string, rows any) []map[string]any {
	var list []map[string]any
	data, _ := json.Marshal(rows)
	if err := json.Unmarshal(data, &list); err != nil {
		var one map[string]any
		_ = json.Unmarshal(data, &one)
		list = []map[string]any{one}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range list {
		f.seq++
		row["id"] = fmt.Sprintf("%s-%d", table, f.seq)
		row["created_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return list
}

func decodeInto(v any, dest any) error {
	if dest == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// rowsOf декодирует то, что сервис передал в Insert или Update.
func rowsOf(t *testing.T, v any) []map[string]any {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err)

	var list []map[string]any
	if json.Unmarshal(data, &list) == nil {
		return list
	}
	var one map[string]any
	require.NoError(t, json.Unmarshal(data, &one))
	return []map[string]any{one}
}

func filterValue(f gateway.Filter, column string) (any, bool) {
	for _, c := range f {
		if c.Column == column {
			return c.Value, true
		}
	}
	return nil, false
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func newCache() *cache.Cache {
	return cache.New(slogdiscard.NewDiscardLogger(), cache.Config{
		StaleTime:     time.Minute,
		RetryInterval: time.Millisecond,
	})
}

func as(userID string) context.Context {
	return auth.WithIdentity(context.Background(), auth.Identity{
		UserID: userID,
		Role:   auth.RoleAuthenticated,
		Token:  "token-" + userID,
	})
}
