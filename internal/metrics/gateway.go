package metrics

import (
	"context"
	"time"

	"github.com/linemk/naijahub/internal/gateway"
)

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if kind, ok := gateway.KindOf(err); ok {
		return kind.String()
	}
	return "error"
}

type instrumentedTables struct {
	next gateway.Tables
	m    *Metrics
}

// InstrumentTables считает и замеряет каждый вызов через t.
func (m *Metrics) InstrumentTables(t gateway.Tables) gateway.Tables {
	return &instrumentedTables{next: t, m: m}
}

func (t *instrumentedTables) Select(ctx context.Context, q gateway.Query, dest any) error {
	start := time.Now()
	err := t.next.Select(ctx, q, dest)
	t.m.observeGateway("select", q.Table, start, err)
	return err
}

func (t *instrumentedTables) Insert(ctx context.Context, table string, rows any, dest any) error {
	start := time.Now()
	err := t.next.Insert(ctx, table, rows, dest)
	t.m.observeGateway("insert", table, start, err)
	return err
}

func (t *instrumentedTables) Update(ctx context.Context, table string, f gateway.Filter, patch any, dest any) error {
	start := time.Now()
	err := t.next.Update(ctx, table, f, patch, dest)
	t.m.observeGateway("update", table, start, err)
	return err
}

func (t *instrumentedTables) Delete(ctx context.Context, table string, f gateway.Filter) error {
	start := time.Now()
	err := t.next.Delete(ctx, table, f)
	t.m.observeGateway("delete", table, start, err)
	return err
}

type instrumentedProcedures struct {
	next gateway.Procedures
	m    *Metrics
}

func (m *Metrics) InstrumentProcedures(p gateway.Procedures) gateway.Procedures {
	return &instrumentedProcedures{next: p, m: m}
}

func (p *instrumentedProcedures) Invoke(ctx context.Context, name string, payload any, dest any) error {
	start := time.Now()
	err := p.next.Invoke(ctx, name, payload, dest)
	p.m.observeGateway("invoke", name, start, err)
	return err
}
