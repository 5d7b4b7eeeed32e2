package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	key := BuildReportKey("org_1", "msn_1", time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC), "rpt_1")
	assert.Equal(t, "reports/org_1/msn_1/2026-03-04/rpt_1.xlsx", key)

	require.NoError(t, s.Put(ctx, key, []byte("workbook"), &Metadata{ContentType: "application/test", MissionID: "msn_1"}))

	ok, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "workbook", string(got))

	info, err := s.GetInfo(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(8), info.Size)
	assert.Equal(t, ComputeChecksum([]byte("workbook")), info.Checksum)
	assert.Equal(t, "application/test", info.ContentType)
	require.NotNil(t, info.Metadata)
	assert.Equal(t, "msn_1", info.Metadata.MissionID)

	keys, err := s.List(ctx, "reports/org_1/")
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys, "metadata files are not listed")

	require.NoError(t, s.Delete(ctx, key))
	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocalStorageStaysInBase(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	s, err := NewLocalStorage(base)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "../../escape.txt", []byte("x"), nil))
	keys, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"escape.txt"}, keys)
}

func TestNewRejectsUnknownType(t *testing.T) {
	_, err := New("s3", t.TempDir())
	assert.Error(t, err)
}
