package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	subscriptiondomain "github.com/smallbiznis/classifieds/internal/subscription/domain"
	"github.com/smallbiznis/classifieds/internal/tier"
	"github.com/smallbiznis/classifieds/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*gorm.DB, *snowflake.Node) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(&subscriptiondomain.Subscription{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	return conn, node
}

func row(node *snowflake.Node, userID, ref string) *subscriptiondomain.Subscription {
	return &subscriptiondomain.Subscription{
		ID:                     node.Generate(),
		UserID:                 userID,
		Tier:                   tier.Basic,
		Status:                 subscriptiondomain.StatusActive,
		BillingSubscriptionRef: ref,
		CreatedAt:              t0,
		UpdatedAt:              t0,
	}
}

func TestSubscriptionRefIsUniqueWhenSet(t *testing.T) {
	conn, node := setup(t)
	repo := Provide()
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, conn, row(node, "u1", "sub_1")))
	err := repo.Insert(ctx, conn, row(node, "u2", "sub_1"))
	require.Error(t, err)
	assert.True(t, db.IsDuplicateKeyErr(err), "got %v", err)

	require.NoError(t, repo.Insert(ctx, conn, row(node, "u3", "")))
	require.NoError(t, repo.Insert(ctx, conn, row(node, "u4", "")))

	sub, err := repo.FindByProviderRefForUpdate(ctx, conn, "sub_1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "u1", sub.UserID)

	sub, err = repo.FindByProviderRefForUpdate(ctx, conn, "  ")
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestUpdateWritesPatchAndTimestamp(t *testing.T) {
	conn, node := setup(t)
	repo := Provide()
	ctx := context.Background()

	sub := row(node, "u1", "sub_1")
	require.NoError(t, repo.Insert(ctx, conn, sub))

	status := subscriptiondomain.StatusPastDue
	since := t0.Add(time.Hour)
	at := t0.Add(2 * time.Hour)
	require.NoError(t, repo.Update(ctx, conn, sub.ID, subscriptiondomain.Patch{Status: &status, PastDueSince: &since}, at))

	got, err := repo.FindByUserID(ctx, conn, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, subscriptiondomain.StatusPastDue, got.Status)
	require.NotNil(t, got.PastDueSince)
	assert.True(t, got.PastDueSince.Equal(since))
	assert.True(t, got.UpdatedAt.Equal(at))
	assert.Equal(t, tier.Basic, got.Tier)

	require.NoError(t, repo.Update(ctx, conn, sub.ID, subscriptiondomain.Patch{}, t0.Add(3*time.Hour)))
	got, err = repo.FindByUserID(ctx, conn, "u1")
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(at), "an empty patch must not touch the row")
}
