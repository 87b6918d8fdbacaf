package tenant

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quibex/botmother/internal/db"
)

type fakeFinder struct {
	bots map[int64]*db.Bot
}

func (f *fakeFinder) GetRoutableBot(id int64) (*db.Bot, error) {
	if b, ok := f.bots[id]; ok {
		return b, nil
	}
	return nil, db.ErrNotFound
}

func newTestResolver(t *testing.T, finder Finder, open Opener) (*Resolver, *sqlx.DB) {
	t.Helper()
	// A handle is enough; resolver tests never issue queries.
	motherDB := sqlx.NewDb(&sql.DB{}, "postgres")
	return NewResolver(finder, open, motherDB, "mother", "100:mother-token", 777, zap.NewNop()), motherDB
}

func TestResolveMotherWhenNoTenantID(t *testing.T) {
	r, motherDB := newTestResolver(t, &fakeFinder{}, nil)

	b := r.Resolve(0)
	assert.False(t, b.IsTenant)
	assert.Equal(t, "100:mother-token", b.Token)
	assert.Equal(t, int64(777), b.AdminID)
	assert.Same(t, motherDB, b.DB)
	assert.Equal(t, "mother", b.DBName)
}

func TestResolveUnknownTenantFallsBackToMother(t *testing.T) {
	r, motherDB := newTestResolver(t, &fakeFinder{}, nil)

	b := r.Resolve(42)
	assert.False(t, b.IsTenant)
	assert.Same(t, motherDB, b.DB)
}

func TestResolveTenantOverridesCredentialAndDatabase(t *testing.T) {
	tenantDB := sqlx.NewDb(&sql.DB{}, "postgres")
	finder := &fakeFinder{bots: map[int64]*db.Bot{
		5: {
			ID:          5,
			BotToken:    "200:tenant-token",
			AdminUserID: 999,
			Status:      db.StatusActive,
			DBName:      sql.NullString{String: "bot_5", Valid: true},
		},
	}}

	opened := 0
	open := func(name string) (*sqlx.DB, error) {
		opened++
		require.Equal(t, "bot_5", name)
		return tenantDB, nil
	}

	r, _ := newTestResolver(t, finder, open)

	b := r.Resolve(5)
	assert.True(t, b.IsTenant)
	assert.Equal(t, "200:tenant-token", b.Token)
	assert.Equal(t, int64(999), b.AdminID)
	assert.Same(t, tenantDB, b.DB)
	assert.Equal(t, "bot_5", b.DBName)

	// Idempotent: resolving again yields the same binding without reopening.
	b2 := r.Resolve(5)
	assert.Equal(t, b.Token, b2.Token)
	assert.Same(t, b.DB, b2.DB)
	assert.Equal(t, 1, opened)
}

func TestResolveTenantDatabaseFailureFallsBackToMotherDB(t *testing.T) {
	finder := &fakeFinder{bots: map[int64]*db.Bot{
		5: {
			ID:          5,
			BotToken:    "200:tenant-token",
			AdminUserID: 999,
			Status:      db.StatusActive,
			DBName:      sql.NullString{String: "bot_5", Valid: true},
		},
	}}
	open := func(name string) (*sqlx.DB, error) {
		return nil, errors.New("connection refused")
	}

	r, motherDB := newTestResolver(t, finder, open)

	b := r.Resolve(5)
	assert.True(t, b.IsTenant, "request still runs in tenant identity")
	assert.Equal(t, "200:tenant-token", b.Token)
	assert.Same(t, motherDB, b.DB, "database binding falls back to mother")
	assert.Equal(t, "mother", b.DBName)
}

func TestResolveTenantWithoutOwnDatabaseKeepsMotherDB(t *testing.T) {
	finder := &fakeFinder{bots: map[int64]*db.Bot{
		7: {ID: 7, BotToken: "300:t", AdminUserID: 1, Status: db.StatusActive},
	}}

	r, motherDB := newTestResolver(t, finder, nil)

	b := r.Resolve(7)
	assert.True(t, b.IsTenant)
	assert.Same(t, motherDB, b.DB)
}
