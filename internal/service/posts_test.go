package service_test

import (
	"context"
	"testing"

	"github.com/linemk/naijahub/internal/domain/models"
	"github.com/linemk/naijahub/internal/gateway"
	"github.com/linemk/naijahub/internal/lib/logger/handlers/slogdiscard"
	"github.com/linemk/naijahub/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPosts_LatestRefreshedByIngestion(t *testing.T) {
	tables := &fakeTables{selectFn: func(q gateway.Query) (any, error) {
		return []map[string]any{{"id": "p-1", "title": "Naira steadies", "created_at": "2026-10-01T08:00:00Z"}}, nil
	}}
	procs := &fakeProcedures{results: map[string]any{"fetch-nigerian-news": map[string]any{"inserted": 3}}}
	c := newCache()
	log := slogdiscard.NewDiscardLogger()
	posts := service.NewPostService(log, tables, c)
	news := service.NewProcedureService(log, procs, c)

	for range 2 {
		got, err := posts.Latest(context.Background(), 0)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "Naira steadies", got[0].Title)
	}
	assert.Equal(t, 1, tables.count("select", models.PostsTable))

	_, err := news.TriggerNewsIngestion(as("u1"))
	require.NoError(t, err)

	_, err = posts.Latest(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, tables.count("select", models.PostsTable))
}

func TestPosts_LatestLimit(t *testing.T) {
	tables := &fakeTables{}
	svc := service.NewPostService(slogdiscard.NewDiscardLogger(), tables, newCache())

	for _, tc := range []struct {
		name      string
		requested int
		want      int
	}{
		{"default", 0, 20},
		{"as asked", 5, 5},
		{"capped", 500, 100},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Latest(context.Background(), tc.requested)
			require.NoError(t, err)

			q := tables.last("select").Query
			assert.Equal(t, tc.want, q.Limit)
			require.Len(t, q.Order, 1)
			assert.Equal(t, gateway.Order{Column: "created_at", Desc: true}, q.Order[0])
		})
	}
}
