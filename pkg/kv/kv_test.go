package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryJSONHelpers(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	var out struct{ Name string }
	found, err := GetJSON(ctx, store, "missing", &out)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, SetJSON(ctx, store, "profile", struct{ Name string }{"dev"}))
	found, err = GetJSON(ctx, store, "profile", &out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "dev", out.Name)

	require.NoError(t, store.Remove(ctx, "profile"))
	values, err := store.Get(ctx, "profile")
	require.NoError(t, err)
	require.Empty(t, values)
}

func TestGetJSONReportsCorruptValue(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.Set(ctx, map[string][]byte{"k": []byte("{")}))
	var out map[string]any
	_, err := GetJSON(ctx, store, "k", &out)
	require.Error(t, err)
}
