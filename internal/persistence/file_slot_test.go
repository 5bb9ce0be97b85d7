package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSlot_ReadMissing(t *testing.T) {
	slot := NewFileSlot(filepath.Join(t.TempDir(), "cart.json"))

	_, err := slot.Read(context.Background())
	assert.ErrorIs(t, err, ErrSlotEmpty)
}

func TestFileSlot_WriteReadClear(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "cart.json")
	slot := NewFileSlot(path)

	require.NoError(t, slot.Write(ctx, []byte(`{"items":[]}`)))
	require.NoError(t, slot.Write(ctx, []byte(`{"items":[],"itemCount":0}`)))

	got, err := slot.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"items":[],"itemCount":0}`, string(got))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")

	require.NoError(t, slot.Clear(ctx))
	require.NoError(t, slot.Clear(ctx))
	_, err = slot.Read(ctx)
	assert.ErrorIs(t, err, ErrSlotEmpty)
}

func TestFileSlot_AdapterRoundTrip(t *testing.T) {
	a := NewAdapter(NewFileSlot(filepath.Join(t.TempDir(), "cart.json")), nil)
	a.Save(sampleSnapshot())

	got, ok := a.Load()
	require.True(t, ok)
	assert.Equal(t, 3, got.ItemCount)
}
