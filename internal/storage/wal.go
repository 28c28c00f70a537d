// Package storage implements the durable substrate every collection's
// in-memory state is backed by: a per-collection WAL, immutable
// on-disk segments, and a manifest tying them together. Grounded on
// original_source/barq-storage/src/lib.rs, generalized from a single
// flat collection layout to the full per-tenant/per-collection tree
// spec.md §4.7 describes.
package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/gofrs/flock"

	"github.com/barqdb/barq/pkg/document"
)

// WalOpKind discriminates a WalEntry's operation.
type WalOpKind uint8

const (
	WalOpInsert WalOpKind = iota
	WalOpDelete
)

// WalEntry is one line of wal.log: a single mutating operation plus
// the monotonic LSN (log sequence number) it occupies within the
// collection's WAL.
type WalEntry struct {
	LSN      uint64          `json:"lsn"`
	Op       WalOpKind       `json:"op"`
	Document *document.Document `json:"document,omitempty"` // Insert
	Text     string          `json:"text,omitempty"`       // Insert, indexed text field
	ID       *document.ID    `json:"id,omitempty"`          // Delete
}

// Wal wraps a single collection's append-only wal.log. Cross-process
// exclusivity comes from an OS-level advisory lock
// (github.com/gofrs/flock, the teacher's own file-locking dependency,
// originally backing its daemon pidfile) held for the Wal's lifetime;
// within a single process, mu serializes Append/Truncate/Size against
// each other so concurrent goroutines calling Engine.Insert/Delete on
// the same collection don't race on nextLSN or interleave writes.
// Fsync before acknowledging the write matches spec.md §5's "WAL file:
// exclusive append lock, fsync before ack."
type Wal struct {
	path    string
	file    *os.File
	lock    *flock.Flock
	mu      sync.Mutex
	nextLSN uint64

	// flushMu serializes Engine.flush attempts against each other. flush
	// releases mu for the duration of its segment-write IO (so Insert/
	// Delete are never blocked for that long), which means two
	// concurrently-triggered flushes could otherwise race on the same
	// segment sequence number and manifest swap.
	flushMu sync.Mutex
}

// OpenWal opens (creating if absent) the WAL at path and takes its
// lock. It does not scan the file: nextLSN starts at 0, and callers
// that replayed an existing WAL with ReplayWal set it with SetNextLSN.
func OpenWal(path string) (*Wal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: open wal: %w", err)
	}
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: lock wal: %w", err)
	}
	return &Wal{path: path, file: f, lock: lock}, nil
}

// SetNextLSN is called after replay establishes the tail LSN.
func (w *Wal) SetNextLSN(n uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextLSN = n
}

// NextLSN reports the LSN the next Append would assign.
func (w *Wal) NextLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextLSNLocked()
}

// nextLSNLocked is NextLSN's body for callers that already hold w.mu
// (Engine.Flush).
func (w *Wal) nextLSNLocked() uint64 { return w.nextLSN }

// Lock and Unlock expose w's in-process mutex to callers (Engine)
// that need to hold it across a sequence spanning more than one Wal
// call — e.g. Engine.Insert's mutate-then-append sequence, and
// Engine.flush's snapshot section and its final re-read, manifest
// swap and truncate section.
func (w *Wal) Lock()   { w.mu.Lock() }
func (w *Wal) Unlock() { w.mu.Unlock() }

// Append writes entry (assigning the next LSN) and fsyncs before
// returning, so a successful Append is durable before the write
// protocol's caller acknowledges the op.
func (w *Wal) Append(entry WalEntry) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendLocked(entry)
}

// appendLocked is Append's body for callers that already hold w.mu
// across a larger sequence (Engine.Insert/Delete, which must not let a
// Flush interleave between the in-memory mutation and its WAL entry).
func (w *Wal) appendLocked(entry WalEntry) (uint64, error) {
	entry.LSN = w.nextLSN
	line, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("storage: marshal wal entry: %w", err)
	}
	if _, err := w.file.Write(append(line, '\n')); err != nil {
		return 0, fmt.Errorf("storage: append wal: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return 0, fmt.Errorf("storage: fsync wal: %w", err)
	}
	w.nextLSN++
	return entry.LSN, nil
}

// AppendReplicated writes entry verbatim, preserving its LSN rather
// than assigning the next one, and advances nextLSN past it if
// needed. Used on a replication follower applying entries shipped
// from the primary, which already carry their LSN.
func (w *Wal) AppendReplicated(entry WalEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendReplicatedLocked(entry)
}

// appendReplicatedLocked is AppendReplicated's body for callers that
// already hold w.mu (Engine.ApplyReplicated, for the same reason
// appendLocked exists).
func (w *Wal) appendReplicatedLocked(entry WalEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("storage: marshal replicated wal entry: %w", err)
	}
	if _, err := w.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("storage: append replicated wal entry: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("storage: fsync replicated wal entry: %w", err)
	}
	if entry.LSN+1 > w.nextLSN {
		w.nextLSN = entry.LSN + 1
	}
	return nil
}

// Size reports the current WAL file size in bytes, used to decide
// when to trigger a flush-to-segment per spec.md §4.7's
// flush_threshold.
func (w *Wal) Size() (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sizeLocked()
}

// sizeLocked is Size's body for callers that already hold w.mu
// (Engine.needsFlushLocked, called from within Insert/Delete's
// locked section).
func (w *Wal) sizeLocked() (int64, error) {
	info, err := w.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Truncate replaces the WAL file's contents with the given entries
// (re-serialized), used after a flush consumes a prefix of the log.
// Writes to a temp file and renames atomically. Engine.flush calls it
// under w.Lock(), in the same locked section that re-reads the entries
// appended since its snapshot; Truncate itself does not re-acquire the lock, so it
// must only be called either under an explicit Lock/Unlock pair or
// when no concurrent Wal access is possible (e.g. during Close).
func (w *Wal) Truncate(remaining []WalEntry) error {
	tmp := w.path + ".compact.tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("storage: create wal compact temp: %w", err)
	}
	bw := bufio.NewWriter(f)
	for _, e := range remaining {
		line, err := json.Marshal(e)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("storage: marshal wal entry: %w", err)
		}
		if _, err := bw.Write(append(line, '\n')); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("storage: write wal compact temp: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := w.file.Close(); err != nil {
		return fmt.Errorf("storage: close wal before rename: %w", err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		return fmt.Errorf("storage: rename wal compact temp: %w", err)
	}
	newFile, err := os.OpenFile(w.path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("storage: reopen wal after compact: %w", err)
	}
	w.file = newFile
	return nil
}

// entriesFromLocked returns every WalEntry currently on disk with LSN
// greater than or equal to fromLSN, in order. Used by Engine.flush to
// recover the entries appended during its unlocked segment-write
// window, which are not in the new segment's snapshot and so must
// survive the following Truncate rather than being dropped with the
// rest of the prefix. Caller holds w.mu.
func (w *Wal) entriesFromLocked(fromLSN uint64) ([]WalEntry, error) {
	var entries []WalEntry
	_, _, err := ReplayWal(w.path, func(entry WalEntry) error {
		if entry.LSN >= fromLSN {
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: read wal entries from lsn %d: %w", fromLSN, err)
	}
	return entries, nil
}

// Close releases the WAL file and its lock.
func (w *Wal) Close() error {
	lockErr := w.lock.Unlock()
	fileErr := w.file.Close()
	if fileErr != nil {
		return fileErr
	}
	return lockErr
}

// ReplayWal reads every WalEntry in path, applying apply to each in
// order. The reader tolerates a truncated last line (a line that
// fails to unmarshal, or a partial line with no trailing newline): it
// stops there and returns the byte offset of the last good entry so
// the caller can truncate the file to that point, per spec.md §4.7's
// open-protocol corrupt-tail handling.
func ReplayWal(path string, apply func(WalEntry) error) (lastGoodOffset int64, maxLSN uint64, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("storage: open wal for replay: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	var offset int64
	for {
		line, readErr := reader.ReadBytes('\n')
		hasNewline := len(line) > 0 && line[len(line)-1] == '\n'
		trimmed := line
		if hasNewline {
			trimmed = line[:len(line)-1]
		}

		if len(trimmed) == 0 {
			if readErr != nil {
				break
			}
			offset += int64(len(line))
			continue
		}

		var entry WalEntry
		if unmarshalErr := json.Unmarshal(trimmed, &entry); unmarshalErr != nil {
			// Malformed or partial final line: stop here, leaving offset at
			// the last known-good boundary.
			break
		}
		if !hasNewline {
			// A full JSON object with no trailing newline is itself an
			// incomplete write (the writer crashed mid-flush); it parsed
			// only because ReadBytes returned EOF at a lucky boundary,
			// so still treat it as the truncated tail and do not apply it.
			break
		}

		if applyErr := apply(entry); applyErr != nil {
			return offset, maxLSN, applyErr
		}
		if entry.LSN > maxLSN {
			maxLSN = entry.LSN
		}
		offset += int64(len(line))

		if readErr != nil {
			break
		}
	}

	return offset, maxLSN, nil
}
