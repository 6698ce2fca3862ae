package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vltier/meshcore-keygen/internal/keygen"
	"github.com/vltier/meshcore-keygen/pkg/types"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "keys.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func candidate(t *testing.T, fill byte) *types.Candidate {
	t.Helper()
	var seed [32]byte
	for i := range seed {
		seed[i] = fill
	}
	kp := keygen.Derive(seed)
	return &types.Candidate{
		Key:      kp,
		Pattern:  "prefix ab",
		Attempts: 12345,
		FoundAt:  time.Now(),
		Source:   "cpu",
	}
}

func TestStoreAndExists(t *testing.T) {
	s := setupStore(t)
	c := candidate(t, 0x01)

	exists, err := s.ExistsByPublicKey(c.Key.PublicHex())
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.Store(c))

	exists, err = s.ExistsByPublicKey(c.Key.PublicHex())
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStoreRejectsDuplicatePublicKey(t *testing.T) {
	s := setupStore(t)
	c := candidate(t, 0x02)
	require.NoError(t, s.Store(c))
	assert.Error(t, s.Store(c))
}

func TestStoreBatch(t *testing.T) {
	s := setupStore(t)
	cands := []*types.Candidate{candidate(t, 0x03), candidate(t, 0x04), candidate(t, 0x05)}
	require.NoError(t, s.StoreBatch(cands))

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Total)
	assert.Equal(t, int64(0), st.InUse)
	assert.NotEmpty(t, st.Machine)
}

func TestFindByPrefix(t *testing.T) {
	s := setupStore(t)
	c := candidate(t, 0x06)
	require.NoError(t, s.Store(c))

	recs, err := s.FindByPrefix(c.Key.PublicHex()[:4], 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, c.Key.PublicHex(), recs[0].PublicKey)
	assert.Equal(t, c.Key.PublicHex()[:8], recs[0].FirstChars)
	assert.Equal(t, c.Key.PublicHex()[56:], recs[0].LastChars)

	recs, err = s.FindByPrefix("zzzz", 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestFindByPattern(t *testing.T) {
	s := setupStore(t)
	require.NoError(t, s.Store(candidate(t, 0x07)))

	recs, err := s.FindByPattern("prefix ab", 0)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	recs, err = s.FindByPattern("vanity 8", 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestAllPublicKeys(t *testing.T) {
	s := setupStore(t)
	a, b := candidate(t, 0x08), candidate(t, 0x09)
	require.NoError(t, s.StoreBatch([]*types.Candidate{a, b}))

	keys, err := s.AllPublicKeys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.Key.PublicHex(), b.Key.PublicHex()}, keys)
}

func TestTags(t *testing.T) {
	s := setupStore(t)
	c := candidate(t, 0x0a)
	require.NoError(t, s.Store(c))

	recs, err := s.FindByPrefix(c.Key.PublicHex()[:8], 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	id := recs[0].ID

	require.NoError(t, s.AddTag(id, "repeater"))
	require.NoError(t, s.AddTag(id, "backup"))
	require.NoError(t, s.AddTag(id, "repeater")) // idempotent

	tags, err := s.Tags(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"repeater", "backup"}, tags)

	require.NoError(t, s.RemoveTag(id, "repeater"))
	tags, err = s.Tags(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"backup"}, tags)
}

func TestTagsUnknownID(t *testing.T) {
	s := setupStore(t)
	err := s.AddTag("no-such-id", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetInUse(t *testing.T) {
	s := setupStore(t)
	c := candidate(t, 0x0b)
	require.NoError(t, s.Store(c))

	recs, err := s.FindByPrefix(c.Key.PublicHex()[:8], 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	require.NoError(t, s.SetInUse(recs[0].ID, true))
	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.InUse)
}

func TestMachineHashStable(t *testing.T) {
	s := setupStore(t)
	assert.Len(t, s.MachineHash(), 16)
	assert.Equal(t, s.MachineHash(), machineHash())
}
