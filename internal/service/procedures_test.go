package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/linemk/naijahub/internal/lib/logger/handlers/slogdiscard"
	"github.com/linemk/naijahub/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcedures struct {
	calls   []string
	results map[string]any
	err     error
}

func (p *fakeProcedures) Invoke(_ context.Context, name string, _ any, dest any) error {
	p.calls = append(p.calls, name)
	if p.err != nil {
		return p.err
	}
	return decodeInto(p.results[name], dest)
}

func TestProcedures_MapTokenCached(t *testing.T) {
	procs := &fakeProcedures{results: map[string]any{
		"get-mapbox-token": map[string]string{"token": "pk.test"},
	}}
	svc := service.NewProcedureService(slogdiscard.NewDiscardLogger(), procs, newCache())

	for range 2 {
		token, err := svc.MapToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "pk.test", token)
	}
	assert.Equal(t, []string{"get-mapbox-token"}, procs.calls)
}

func TestProcedures_MapTokenEmpty(t *testing.T) {
	procs := &fakeProcedures{results: map[string]any{"get-mapbox-token": map[string]string{}}}
	svc := service.NewProcedureService(slogdiscard.NewDiscardLogger(), procs, newCache())

	_, err := svc.MapToken(context.Background())
	assert.Error(t, err)
}

func TestProcedures_TriggerNewsIngestion(t *testing.T) {
	procs := &fakeProcedures{results: map[string]any{
		"fetch-nigerian-news": map[string]any{"inserted": 12},
	}}
	svc := service.NewProcedureService(slogdiscard.NewDiscardLogger(), procs, newCache())

	_, err := svc.TriggerNewsIngestion(context.Background())
	assert.ErrorIs(t, err, service.ErrAuthRequired)
	assert.Empty(t, procs.calls)

	out, err := svc.TriggerNewsIngestion(as("u1"))
	require.NoError(t, err)
	assert.Equal(t, 12, out.Inserted)
	assert.Equal(t, []string{"fetch-nigerian-news"}, procs.calls)

	procs.err = errors.New("edge function crashed")
	_, err = svc.TriggerNewsIngestion(as("u1"))
	assert.Error(t, err)
}
