package wal

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/nervusdb/nervusdb/errkind"
)

// frameHeaderSize is the on-disk length+CRC prefix before each record body:
// u32 length (LE) ‖ u32 CRC32 of body (LE).
const frameHeaderSize = 8

// WAL is NervusDB's append-only transaction log. Every write
// transaction is durably recorded here, fsynced, before it is published to
// in-memory state.
type WAL struct {
	mu   sync.Mutex
	file *os.File
	path string
	size int64
}

// Open opens (creating if necessary) the WAL file at path.
func Open(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindIoError, "open wal", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errkind.Wrap(errkind.KindIoError, "stat wal", err)
	}
	return &WAL{file: f, path: path, size: info.Size()}, nil
}

// Append serializes and writes r to the end of the log. It does not fsync;
// callers bracketing a transaction call Sync once after CommitTx.
func (w *WAL) Append(r Record) error {
	body := encodeBody(r)
	frame := make([]byte, frameHeaderSize+len(body))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(body)))
	binary.LittleEndian.PutUint32(frame[4:8], crc32.ChecksumIEEE(body))
	copy(frame[frameHeaderSize:], body)

	w.mu.Lock()
	defer w.mu.Unlock()
	n, err := w.file.WriteAt(frame, w.size)
	if err != nil {
		return errkind.Wrap(errkind.KindIoError, "append wal record", err)
	}
	w.size += int64(n)
	return nil
}

// AppendTx writes BeginTx(txid), the given ops, and CommitTx(txid) as one
// sequential run and fsyncs once at the end, per the commit contract in
// the commit contract: the WAL is fsynced before the in-memory state is
// published.
func (w *WAL) AppendTx(txid uint64, ops []Record) error {
	if err := w.Append(BeginTx(txid)); err != nil {
		return err
	}
	for _, op := range ops {
		if err := w.Append(op); err != nil {
			return err
		}
	}
	if err := w.Append(CommitTx(txid)); err != nil {
		return err
	}
	return w.Sync()
}

// Sync fsyncs the WAL file.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		return errkind.Wrap(errkind.KindIoError, "fsync wal", err)
	}
	return nil
}

// Size returns the current logical length of the WAL file.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Truncate discards all WAL content (used after a checkpoint/compaction has
// made the log's effects durable elsewhere).
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Truncate(0); err != nil {
		return errkind.Wrap(errkind.KindIoError, "truncate wal", err)
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return errkind.Wrap(errkind.KindIoError, "seek wal", err)
	}
	w.size = 0
	return nil
}

// Close syncs and closes the WAL file.
func (w *WAL) Close() error {
	if err := w.Sync(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Tx is one committed transaction recovered from the log: its id and the
// ordered list of operations bracketed by BeginTx/CommitTx.
type Tx struct {
	TxID uint64
	Ops  []Record
}

// ReadAll streams the WAL from the start and returns the ordered sequence
// of committed transactions. Uncommitted (BeginTx without a
// matching CommitTx) runs are discarded, matching abort-on-crash semantics.
// A trailing partial record (truncated length, CRC, or body — a crash
// between records) is silently ignored. A record whose body fails its CRC
// check is reported as a checksum error at that byte offset. Any other
// sequencing violation (nested BeginTx, orphan CommitTx, unknown type) is a
// protocol error.
func (w *WAL) ReadAll() ([]Tx, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var txs []Tx
	var pending []Record
	var pendingTxID uint64
	inTx := false

	var offset int64
	for {
		header := make([]byte, frameHeaderSize)
		n, err := w.file.ReadAt(header, offset)
		if err != nil && err != io.EOF {
			return nil, errkind.Wrap(errkind.KindIoError, "read wal header", err)
		}
		if n < frameHeaderSize {
			// Truncated length/CRC header: crash between records.
			break
		}
		length := binary.LittleEndian.Uint32(header[0:4])
		wantCRC := binary.LittleEndian.Uint32(header[4:8])

		body := make([]byte, length)
		bn, err := w.file.ReadAt(body, offset+frameHeaderSize)
		if bn < int(length) {
			// Truncated body: crash mid-record.
			break
		}
		if err != nil && err != io.EOF {
			return nil, errkind.Wrap(errkind.KindIoError, "read wal body", err)
		}

		if crc32.ChecksumIEEE(body) != wantCRC {
			return nil, errkind.New(errkind.KindWalChecksumMismatch, errOffset(offset))
		}

		rec, err := decodeBody(body)
		if err != nil {
			return nil, err
		}

		switch rec.Type {
		case RecBeginTx:
			if inTx {
				return nil, errkind.New(errkind.KindWalProtocol, "nested BeginTx")
			}
			inTx = true
			pendingTxID = rec.TxID
			pending = nil
		case RecCommitTx:
			if !inTx || rec.TxID != pendingTxID {
				return nil, errkind.New(errkind.KindWalProtocol, "CommitTx without matching BeginTx")
			}
			txs = append(txs, Tx{TxID: pendingTxID, Ops: pending})
			inTx = false
			pending = nil
		case RecCheckpoint:
			// Checkpoint markers don't belong to a transaction.
		default:
			if !inTx {
				return nil, errkind.New(errkind.KindWalProtocol, "operation outside BeginTx/CommitTx")
			}
			pending = append(pending, rec)
		}

		offset += frameHeaderSize + int64(length)
	}

	return txs, nil
}

func errOffset(off int64) string {
	return "checksum mismatch at offset " + strconv.FormatInt(off, 10)
}
