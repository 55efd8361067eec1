package trie

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"gavel/storage"
)

func TestCommitPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	db1, err := storage.NewLevelDB(dir)
	require.NoError(t, err)

	tr, err := NewTrie(db1, nil)
	require.NoError(t, err)

	key := crypto.Keccak256Hash([]byte("escrow/0x01"))
	value := []byte("record-v1")

	require.NoError(t, tr.Update(key.Bytes(), value))
	root, err := tr.Commit(common.Hash{}, 0)
	require.NoError(t, err)
	require.Equal(t, root, tr.Root())

	db1.Close()

	db2, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()

	restored, err := NewTrie(db2, root.Bytes())
	require.NoError(t, err)

	got, err := restored.Get(key.Bytes())
	require.NoError(t, err)
	require.Equal(t, value, got)
}

func TestResetDropsUncommittedWrites(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	tr, err := NewTrie(db, nil)
	require.NoError(t, err)

	key := crypto.Keccak256Hash([]byte("k"))
	require.NoError(t, tr.Update(key.Bytes(), []byte("committed")))
	root, err := tr.Commit(common.Hash{}, 0)
	require.NoError(t, err)

	require.NoError(t, tr.Update(key.Bytes(), []byte("speculative")))
	require.NoError(t, tr.Reset(root))

	got, err := tr.Get(key.Bytes())
	require.NoError(t, err)
	require.Equal(t, []byte("committed"), got)
}

func TestRootTracksCommits(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	tr, err := NewTrie(db, nil)
	require.NoError(t, err)
	empty := tr.Root()

	key := crypto.Keccak256Hash([]byte("k"))
	require.NoError(t, tr.Update(key.Bytes(), []byte("v")))
	require.NotEqual(t, empty, tr.Hash())

	root, err := tr.Commit(empty, 1)
	require.NoError(t, err)
	require.NotEqual(t, empty, root)
	require.Equal(t, root, tr.Root())
}
