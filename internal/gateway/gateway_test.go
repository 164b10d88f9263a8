package gateway_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/linemk/naijahub/internal/gateway"
	"github.com/stretchr/testify/assert"
)

func TestFilter_BuildersDoNotAlias(t *testing.T) {
	base := gateway.Where().Eq("seller_id", "u-1")
	active := base.Eq("status", "active")
	sold := base.Eq("status", "sold")

	assert.Len(t, base, 1)
	assert.Equal(t, "active", active[1].Value)
	assert.Equal(t, "sold", sold[1].Value)
}

func TestFilter_Conditions(t *testing.T) {
	f := gateway.Where().
		ILike("title", "iphone").
		Gte("price", 10).
		In("id", "a", "b").
		IsNull("read_at")

	assert.Equal(t, gateway.Filter{
		{Column: "title", Op: gateway.OpILike, Value: "iphone"},
		{Column: "price", Op: gateway.OpGte, Value: 10},
		{Column: "id", Op: gateway.OpIn, Value: []any{"a", "b"}},
		{Column: "read_at", Op: gateway.OpIs, Value: nil},
	}, f)
	assert.False(t, f.Empty())
	assert.True(t, gateway.Where().Empty())
}

func TestRelation_Name(t *testing.T) {
	assert.Equal(t, "comments", gateway.Relation{Table: "comments"}.Name())
	assert.Equal(t, "likes", gateway.Relation{Table: "tech_marketplace_likes", Alias: "likes"}.Name())
}

func TestError_Kind(t *testing.T) {
	err := fmt.Errorf("service: %w", &gateway.Error{Kind: gateway.KindAuth, Op: "select", Code: "42501", Message: "denied"})

	kind, ok := gateway.KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, gateway.KindAuth, kind)
	assert.True(t, gateway.IsKind(err, gateway.KindAuth))
	assert.False(t, gateway.IsKind(err, gateway.KindNetwork))
	assert.Contains(t, err.Error(), "auth error (42501): denied")

	_, ok = gateway.KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, gateway.IsTransient(fmt.Errorf("load: %w", &gateway.Error{Kind: gateway.KindNetwork, Op: "select"})))
	assert.False(t, gateway.IsTransient(gateway.NewQueryError("select", errors.New("decode rows"))))
	assert.False(t, gateway.IsTransient(&gateway.Error{Kind: gateway.KindAuth, Op: "select"}))
	assert.False(t, gateway.IsTransient(errors.New("not found")))
}
