package postgres_test

import (
	"context"
	"errors"
	"net"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/linemk/naijahub/internal/auth"
	"github.com/linemk/naijahub/internal/gateway"
	"github.com/linemk/naijahub/internal/gateway/postgres"
	"github.com/linemk/naijahub/internal/lib/logger/handlers/slogdiscard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const setClaims = `SELECT set_config('request.jwt.claims', $1, true)`

func newStore(t *testing.T) (*postgres.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return postgres.New(slogdiscard.NewDiscardLogger(), db), mock
}

func userCtx() context.Context {
	return auth.WithIdentity(context.Background(), auth.Identity{UserID: "u-1", Role: "authenticated", Token: "tok"})
}

func expectClaims(mock sqlmock.Sqlmock, claims string) {
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(setClaims)).WithArgs(claims).WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestSelect_SimpleQuery(t *testing.T) {
	store, mock := newStore(t)

	expectClaims(mock, `{"role":"anon"}`)
	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT row_to_json(q) FROM (SELECT t.* FROM "comments" AS t WHERE t."target_type" = $1 AND t."target_id" = $2 ORDER BY t."created_at" DESC LIMIT 10) AS q`,
	)).WithArgs("listing", "l-1").
		WillReturnRows(sqlmock.NewRows([]string{"row_to_json"}).
			AddRow(`{"id":"c-1","rating":5}`).
			AddRow(`{"id":"c-2","rating":null}`))
	mock.ExpectCommit()

	var rows []struct {
		ID     string `json:"id"`
		Rating *int   `json:"rating"`
	}
	err := store.Select(context.Background(), gateway.Query{
		Table:  "comments",
		Filter: gateway.Where().Eq("target_type", "listing").Eq("target_id", "l-1"),
		Order:  []gateway.Order{{Column: "created_at", Desc: true}},
		Limit:  10,
	}, &rows)
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, 5, *rows[0].Rating)
	assert.Nil(t, rows[1].Rating)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelect_EmbedsRelations(t *testing.T) {
	store, mock := newStore(t)

	expectClaims(mock, `{"sub":"u-1","role":"authenticated"}`)
	mock.ExpectQuery(
		regexp.QuoteMeta(`SELECT row_to_json(q) FROM (SELECT t.*, (SELECT COALESCE(json_agg(row_to_json(x1)), '[]'::json) FROM (SELECT r1."id" FROM "tech_marketplace_likes" AS r1 WHERE r1."listing_id" = t.id) AS x1) AS "likes"`)+
			".*"+regexp.QuoteMeta(`(SELECT r2.* FROM "marketplace_messages" AS r2 WHERE r2."chat_id" = r1.id) AS x2) AS "messages" FROM "marketplace_chats" AS r1 WHERE r1."listing_id" = t.id AND r1."marketplace_type" = $1) AS x1) AS "chats"`)+
			".*"+regexp.QuoteMeta(`WHERE t."seller_id" = $2`),
	).WithArgs("tech", "u-1").
		WillReturnRows(sqlmock.NewRows([]string{"row_to_json"}).
			AddRow(`{"id":"l-1","likes":[{"id":"k-1"},{"id":"k-2"}],"chats":[{"id":"c-1","messages":[{"id":"m-1","read_at":null}]}]}`))
	mock.ExpectCommit()

	var rows []struct {
		ID    string           `json:"id"`
		Likes []map[string]any `json:"likes"`
		Chats []struct {
			Messages []map[string]any `json:"messages"`
		} `json:"chats"`
	}
	err := store.Select(userCtx(), gateway.Query{
		Table:  "tech_marketplace_listings",
		Filter: gateway.Where().Eq("seller_id", "u-1"),
		Relations: []gateway.Relation{
			{Table: "tech_marketplace_likes", Alias: "likes", ForeignKey: "listing_id", Columns: "id"},
			{
				Table: "marketplace_chats", Alias: "chats", ForeignKey: "listing_id",
				Filter: gateway.Where().Eq("marketplace_type", "tech"),
				Nested: []gateway.Relation{{Table: "marketplace_messages", Alias: "messages", ForeignKey: "chat_id"}},
			},
		},
	}, &rows)
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.Len(t, rows[0].Likes, 2)
	require.Len(t, rows[0].Chats, 1)
	assert.Len(t, rows[0].Chats[0].Messages, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelect_ToOneRelation(t *testing.T) {
	store, mock := newStore(t)

	expectClaims(mock, `{"sub":"u-1","role":"authenticated"}`)
	mock.ExpectQuery(regexp.QuoteMeta(
		`(SELECT row_to_json(x1) FROM (SELECT r1.* FROM "auto_marketplace_listings" AS r1 WHERE r1.id = t."listing_id" LIMIT 1) AS x1) AS "listing"`,
	)).WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"row_to_json"}).AddRow(`{"id":"ci-1","listing":{"id":"l-1"}}`))
	mock.ExpectCommit()

	var rows []map[string]any
	err := store.Select(userCtx(), gateway.Query{
		Table:     "auto_marketplace_cart_items",
		Filter:    gateway.Where().Eq("user_id", "u-1"),
		Relations: []gateway.Relation{{Table: "auto_marketplace_listings", Alias: "listing", ForeignKey: "listing_id", ToOne: true}},
	}, &rows)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelect_ILikeAndIn(t *testing.T) {
	store, mock := newStore(t)

	expectClaims(mock, `{"role":"anon"}`)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE t."title" ILIKE $1 AND t."status" = ANY($2)`)).
		WithArgs(`%50\%%`, `{"active","pending"}`).
		WillReturnRows(sqlmock.NewRows([]string{"row_to_json"}))
	mock.ExpectCommit()

	var rows []map[string]any
	err := store.Select(context.Background(), gateway.Query{
		Table:  "beauty_marketplace_listings",
		Filter: gateway.Where().ILike("title", "50%").In("status", "active", "pending"),
	}, &rows)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelect_ChatsOfListings(t *testing.T) {
	store, mock := newStore(t)

	expectClaims(mock, `{"sub":"u-1","role":"authenticated"}`)
	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT row_to_json(q) FROM (SELECT t."id", t."listing_id", (SELECT COALESCE(json_agg(row_to_json(x1)), '[]'::json) FROM (SELECT r1."id", r1."read_at" FROM "marketplace_messages" AS r1 WHERE r1."chat_id" = t.id) AS x1) AS "messages" FROM "marketplace_chats" AS t WHERE t."marketplace_type" = $1 AND t."listing_id" = ANY($2)) AS q`,
	)).WithArgs("tech", `{"l-1","l-2"}`).
		WillReturnRows(sqlmock.NewRows([]string{"row_to_json"}).
			AddRow(`{"id":"c-1","listing_id":"l-2","messages":[{"id":"m-1","read_at":null}]}`))
	mock.ExpectCommit()

	var rows []struct {
		ListingID string           `json:"listing_id"`
		Messages  []map[string]any `json:"messages"`
	}
	err := store.Select(userCtx(), gateway.Query{
		Table:   "marketplace_chats",
		Columns: "id,listing_id",
		Filter:  gateway.Where().Eq("marketplace_type", "tech").In("listing_id", "l-1", "l-2"),
		Relations: []gateway.Relation{
			{Table: "marketplace_messages", Alias: "messages", ForeignKey: "chat_id", Columns: "id,read_at"},
		},
	}, &rows)
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.Equal(t, "l-2", rows[0].ListingID)
	assert.Len(t, rows[0].Messages, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_MultipleRowsOneStatement(t *testing.T) {
	store, mock := newStore(t)

	expectClaims(mock, `{"sub":"u-1","role":"authenticated"}`)
	mock.ExpectQuery(regexp.QuoteMeta(
		`INSERT INTO "tech_marketplace_order_items" AS t ("listing_id", "order_id", "price", "quantity") VALUES ($1, $2, $3, $4), ($5, $6, $7, $8) RETURNING row_to_json(t)`,
	)).WithArgs("l-1", "o-1", "1000", "2", "l-2", "o-1", "500", "1").
		WillReturnRows(sqlmock.NewRows([]string{"row_to_json"}).
			AddRow(`{"id":"i-1","order_id":"o-1"}`).
			AddRow(`{"id":"i-2","order_id":"o-1"}`))
	mock.ExpectCommit()

	type item struct {
		OrderID   string `json:"order_id"`
		ListingID string `json:"listing_id"`
		Quantity  int    `json:"quantity"`
		Price     string `json:"price"`
	}
	var out []struct {
		ID string `json:"id"`
	}
	err := store.Insert(userCtx(), "tech_marketplace_order_items", []item{
		{OrderID: "o-1", ListingID: "l-1", Quantity: 2, Price: "1000"},
		{OrderID: "o-1", ListingID: "l-2", Quantity: 1, Price: "500"},
	}, &out)
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate(t *testing.T) {
	store, mock := newStore(t)

	expectClaims(mock, `{"sub":"u-1","role":"authenticated"}`)
	mock.ExpectQuery(regexp.QuoteMeta(
		`UPDATE "tech_marketplace_listings" AS t SET "status" = $1 WHERE t."id" = $2 RETURNING row_to_json(t)`,
	)).WithArgs("sold", "l-1").
		WillReturnRows(sqlmock.NewRows([]string{"row_to_json"}).AddRow(`{"id":"l-1","status":"sold"}`))
	mock.ExpectCommit()

	var out []map[string]any
	err := store.Update(userCtx(), "tech_marketplace_listings", gateway.Where().Eq("id", "l-1"), map[string]any{"status": "sold"}, &out)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "sold", out[0]["status"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAndDelete_RequireFilter(t *testing.T) {
	store, mock := newStore(t)

	err := store.Update(userCtx(), "tech_marketplace_listings", nil, map[string]any{"status": "sold"}, nil)
	assert.ErrorIs(t, err, gateway.ErrUnfilteredWrite)
	assert.True(t, gateway.IsKind(err, gateway.KindQuery))

	err = store.Delete(userCtx(), "tech_marketplace_cart_items", gateway.Where())
	assert.ErrorIs(t, err, gateway.ErrUnfilteredWrite)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete(t *testing.T) {
	store, mock := newStore(t)

	expectClaims(mock, `{"sub":"u-1","role":"authenticated"}`)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "tech_marketplace_cart_items" AS t WHERE t."user_id" = $1`)).
		WithArgs("u-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	err := store.Delete(userCtx(), "tech_marketplace_cart_items", gateway.Where().Eq("user_id", "u-1"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRowLevelSecurityViolationIsAuth(t *testing.T) {
	store, mock := newStore(t)

	expectClaims(mock, `{"sub":"u-1","role":"authenticated"}`)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "comments"`)).
		WillReturnError(&pq.Error{Code: "42501", Message: "new row violates row-level security policy"})
	mock.ExpectRollback()

	err := store.Insert(userCtx(), "comments", map[string]any{"content": "hi"}, nil)
	require.Error(t, err)
	assert.True(t, gateway.IsKind(err, gateway.KindAuth))

	var gerr *gateway.Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, "42501", gerr.Code)
	assert.Equal(t, "postgres.Store.Insert", gerr.Op)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConstraintViolationIsQuery(t *testing.T) {
	store, mock := newStore(t)

	expectClaims(mock, `{"sub":"u-1","role":"authenticated"}`)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "tech_marketplace_orders"`)).
		WillReturnError(&pq.Error{Code: "23514", Message: "check constraint"})
	mock.ExpectRollback()

	err := store.Insert(userCtx(), "tech_marketplace_orders", map[string]any{"total_amount": "-1"}, nil)
	assert.True(t, gateway.IsKind(err, gateway.KindQuery))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectionFailureIsNetwork(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectBegin().WillReturnError(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")})

	var rows []map[string]any
	err := store.Select(context.Background(), gateway.Query{Table: "comments"}, &rows)
	assert.True(t, gateway.IsKind(err, gateway.KindNetwork))
	assert.NoError(t, mock.ExpectationsWereMet())
}
