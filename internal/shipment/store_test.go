package shipment_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/shipmark-io/shipmark/internal/platform/database"
	"github.com/shipmark-io/shipmark/internal/shipment"
	"github.com/shipmark-io/shipmark/internal/tenant"
)

func setupTestDB(t *testing.T) (*database.Pool, func()) {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("shipmark_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2),
		),
	)
	require.NoError(t, err)

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := database.Connect(ctx, connStr, 5)
	require.NoError(t, err)

	err = database.RunMigrations(ctx, pool, "../../migrations")
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}

	return pool, cleanup
}

func createTenant(t *testing.T, pool *database.Pool, slug string) string {
	t.Helper()
	tn, err := tenant.NewStore(pool).Create(context.Background(), "Test "+slug, slug, "permissive")
	require.NoError(t, err)
	return tn.ID
}

func TestStore_OrderShipmentLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	tenantID := createTenant(t, pool, "acme-shipping")
	store := shipment.NewStore()
	ctx := context.Background()

	err := database.WithTenantConnection(ctx, pool, tenantID, func(ctx context.Context, q database.Querier) error {
		order, err := store.UpsertOrder(ctx, q, "ORD-1001", "Maria P", "C-1", 25.50, "EUR")
		require.NoError(t, err)
		assert.Equal(t, "ORD-1001", order.ExternalID)

		// Upsert is idempotent by (tenant, external_id) and refreshes fields.
		again, err := store.UpsertOrder(ctx, q, "ORD-1001", "Maria Papadopoulou", "C-1", 27.00, "EUR")
		require.NoError(t, err)
		assert.Equal(t, order.ID, again.ID)
		assert.InDelta(t, 27.00, again.TotalAmount, 0.001)

		sh, err := store.UpsertShipment(ctx, q, order.ID, "acs", "TRACK123", "VOUCHER-9")
		require.NoError(t, err)
		assert.Equal(t, shipment.StatusPending, sh.Status)

		// Tracking event dedup on the (shipment, happened_at, status) triple.
		happened := time.Now().UTC().Truncate(time.Second)
		entry := shipment.StatusHistoryEntry{
			ShipmentID: sh.ID,
			Status:     shipment.StatusInTransit,
			Location:   "Athens hub",
			HappenedAt: happened,
		}
		inserted, err := store.InsertHistoryEntry(ctx, q, entry)
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = store.InsertHistoryEntry(ctx, q, entry)
		require.NoError(t, err)
		assert.False(t, inserted)

		latest, err := store.LatestHistoryEntry(ctx, q, sh.ID)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, shipment.StatusInTransit, latest.Status)

		// Matching prefers external_id, then falls back to tracking fields.
		matched, err := store.FindOrderByTracking(ctx, q, "TRACK123")
		require.NoError(t, err)
		assert.Equal(t, order.ID, matched.ID)

		matched, err = store.FindOrderByTracking(ctx, q, "VOUCHER-9")
		require.NoError(t, err)
		assert.Equal(t, order.ID, matched.ID)

		_, err = store.FindOrderByTracking(ctx, q, "NOPE")
		assert.ErrorIs(t, err, shipment.ErrOrderNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_TenantIsolation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	tenantA := createTenant(t, pool, "tenant-a")
	tenantB := createTenant(t, pool, "tenant-b")
	store := shipment.NewStore()
	ctx := context.Background()

	err := database.WithTenantConnection(ctx, pool, tenantA, func(ctx context.Context, q database.Querier) error {
		order, err := store.UpsertOrder(ctx, q, "ORD-A", "Customer A", "", 10, "EUR")
		require.NoError(t, err)
		_, err = store.UpsertShipment(ctx, q, order.ID, "acs", "TRACK-A", "")
		return err
	})
	require.NoError(t, err)

	// Tenant B cannot see tenant A's order through any match path.
	err = database.WithTenantConnection(ctx, pool, tenantB, func(ctx context.Context, q database.Querier) error {
		_, err := store.FindOrderByTracking(ctx, q, "ORD-A")
		assert.ErrorIs(t, err, shipment.ErrOrderNotFound)

		_, err = store.FindOrderByTracking(ctx, q, "TRACK-A")
		assert.ErrorIs(t, err, shipment.ErrOrderNotFound)
		return nil
	})
	require.NoError(t, err)
}
