package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendTxAndReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.wal")

	w, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, w.AppendTx(1, []Record{
		CreateNode(100, 1, 0),
		SetNodeProperty(0, "name", []byte{0x04, 5, 0, 0, 0, 'A', 'l', 'i', 'c', 'e'}),
	}))
	require.NoError(t, w.Close())

	w2, err := Open(path)
	require.NoError(t, err)
	defer w2.Close()

	txs, err := w2.ReadAll()
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, uint64(1), txs[0].TxID)
	require.Len(t, txs[0].Ops, 2)
	require.Equal(t, RecCreateNode, txs[0].Ops[0].Type)
}

func TestUncommittedTxDiscarded(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.wal")

	w, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(BeginTx(1)))
	require.NoError(t, w.Append(CreateNode(1, 0, 0)))
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	w2, err := Open(path)
	require.NoError(t, err)
	defer w2.Close()

	txs, err := w2.ReadAll()
	require.NoError(t, err)
	require.Len(t, txs, 0)
}

func TestTrailingPartialRecordIgnored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.wal")

	w, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.AppendTx(1, []Record{CreateNode(1, 0, 0)}))
	require.NoError(t, w.Close())

	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0600)
	require.NoError(t, err)
	// Append a truncated header (crash mid-write of the next record).
	_, err = f.Write([]byte{0x10, 0x00})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w2, err := Open(path)
	require.NoError(t, err)
	defer w2.Close()

	txs, err := w2.ReadAll()
	require.NoError(t, err)
	require.Len(t, txs, 1)
}

func TestChecksumMismatchReported(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.wal")

	w, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.AppendTx(1, []Record{CreateNode(1, 0, 0)}))
	require.NoError(t, w.Close())

	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	require.NoError(t, err)
	// Flip a byte inside the first record's body, after the frame header.
	_, err = f.WriteAt([]byte{0xFF}, frameHeaderSize+2)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w2, err := Open(path)
	require.NoError(t, err)
	defer w2.Close()

	_, err = w2.ReadAll()
	require.Error(t, err)
}
