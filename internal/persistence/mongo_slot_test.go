package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

func setupTestMongo(t *testing.T, guestID string) *MongoSlot {
	if testing.Short() {
		t.Skip("skipping MongoDB container test in short mode")
	}
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := ConnectMongoDB(ctx, uri, "testdb")
	require.NoError(t, err)

	slot := NewMongoSlot(db, guestID)
	require.NoError(t, slot.CreateIndexes(ctx, 24*time.Hour))
	return slot
}

func TestMongoSlot_Lifecycle(t *testing.T) {
	slot := setupTestMongo(t, "guest-7")
	ctx := context.Background()

	_, err := slot.Read(ctx)
	assert.ErrorIs(t, err, ErrSlotEmpty)

	require.NoError(t, slot.Write(ctx, []byte("first")))
	require.NoError(t, slot.Write(ctx, []byte("second")))

	got, err := slot.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	require.NoError(t, slot.Clear(ctx))
	_, err = slot.Read(ctx)
	assert.ErrorIs(t, err, ErrSlotEmpty)
}

func TestMongoSlot_AdapterRoundTrip(t *testing.T) {
	slot := setupTestMongo(t, "guest-8")
	a := NewAdapter(slot, nil)

	a.Save(sampleSnapshot())
	got, ok := a.Load()

	require.True(t, ok)
	assert.Equal(t, 3, got.ItemCount)
}
