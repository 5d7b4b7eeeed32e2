package database_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadforge/mission-service/internal/database"
	"github.com/leadforge/mission-service/internal/database/dbtest"
)

func TestSchemaDeclaresCoreTables(t *testing.T) {
	schema := database.Schema()
	for _, table := range []string{"mission_tasks", "quota_ledger", "contact_ledger", "lead_locks", "mission_logs", "campaigns", "campaign_leads", "missions"} {
		assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS "+table)
	}
	assert.Contains(t, schema, "UNIQUE (organization_id, idempotency_key)")
}

func TestMigrateIsRepeatable(t *testing.T) {
	pool := dbtest.NewPool(t)
	ctx := context.Background()

	// dbtest already migrated once.
	require.NoError(t, database.Migrate(ctx, pool))
	require.NoError(t, database.Status(ctx, pool))

	var n int
	err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM information_schema.tables WHERE table_name = 'mission_tasks'`).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
