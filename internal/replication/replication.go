// Package replication ships WAL entries from a collection's primary
// to its followers and applies them idempotently on the receiving
// side. There is no consensus here: if the primary is lost, an
// operator promotes a follower through the cluster admin API.
package replication

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/barqdb/barq/internal/storage"
)

// StreamKey identifies the WAL stream a sequence number belongs to.
type StreamKey struct {
	Tenant     string
	Collection string
}

func (k StreamKey) String() string { return k.Tenant + "/" + k.Collection }

// Entry is one WAL entry in flight, tagged with the stream it
// belongs to so a single connection can multiplex many collections.
type Entry struct {
	Stream StreamKey
	Wal    storage.WalEntry
}

// OffsetTable is the primary's in-memory record of each follower's
// highest acknowledged sequence number per stream, guarding replay:
// on reconnect a follower reports its last-applied seq# and the
// primary resumes shipping from there.
type OffsetTable struct {
	mu      sync.RWMutex
	offsets map[string]map[StreamKey]uint64 // follower node id -> stream -> acked LSN
}

// NewOffsetTable returns an empty table.
func NewOffsetTable() *OffsetTable {
	return &OffsetTable{offsets: make(map[string]map[StreamKey]uint64)}
}

// Ack records that follower has applied up through lsn for stream.
// Acks only move forward: an out-of-order or duplicate ack below the
// current watermark is ignored, consistent with at-least-once
// delivery where a follower may re-report a stale offset after a
// reconnect race.
func (t *OffsetTable) Ack(follower string, stream StreamKey, lsn uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	streams, ok := t.offsets[follower]
	if !ok {
		streams = make(map[StreamKey]uint64)
		t.offsets[follower] = streams
	}
	if lsn > streams[stream] {
		streams[stream] = lsn
	}
}

// LastAcked returns the highest LSN follower has acknowledged for
// stream, or 0 if the follower has never acked that stream.
func (t *OffsetTable) LastAcked(follower string, stream StreamKey) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.offsets[follower][stream]
}

// Followers returns the set of follower ids the table has ever seen
// an ack from.
func (t *OffsetTable) Followers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.offsets))
	for id := range t.offsets {
		ids = append(ids, id)
	}
	return ids
}

// Source reads WAL entries a follower hasn't seen yet. Engine
// satisfies this through EntriesSince.
type Source interface {
	EntriesSince(tenant, name string, afterLSN uint64) ([]storage.WalEntry, error)
}

// Sink applies a shipped entry on the receiving side. Engine
// satisfies this through ApplyReplicated.
type Sink interface {
	ApplyReplicated(tenant, name string, entry storage.WalEntry) error
}

// Primary ships WAL entries to registered followers and tracks their
// acknowledged offsets.
type Primary struct {
	source  Source
	offsets *OffsetTable
}

// NewPrimary wraps source for shipping.
func NewPrimary(source Source) *Primary {
	return &Primary{source: source, offsets: NewOffsetTable()}
}

// Offsets exposes the follower offset table for inspection (e.g. by
// an admin endpoint reporting replication lag).
func (p *Primary) Offsets() *OffsetTable { return p.offsets }

// EntriesFor returns the entries follower needs to catch up stream,
// based on its last acknowledged LSN.
func (p *Primary) EntriesFor(follower string, stream StreamKey) ([]Entry, error) {
	fromLSN := p.offsets.LastAcked(follower, stream)
	walEntries, err := p.source.EntriesSince(stream.Tenant, stream.Collection, fromLSN)
	if err != nil {
		return nil, fmt.Errorf("replication: read entries for %s: %w", stream, err)
	}
	entries := make([]Entry, len(walEntries))
	for i, w := range walEntries {
		entries[i] = Entry{Stream: stream, Wal: w}
	}
	return entries, nil
}

// Ack records follower's acknowledgment that it has applied through
// lsn for stream.
func (p *Primary) Ack(follower string, stream StreamKey, lsn uint64) {
	p.offsets.Ack(follower, stream, lsn)
}

// Follower applies shipped entries to its local engine and tracks
// what it has applied, so reconnect can resume from Entry.Wal.LSN
// rather than replaying from scratch.
type Follower struct {
	sink Sink

	mu      sync.Mutex
	applied map[StreamKey]uint64
}

// NewFollower wraps sink for receiving shipped entries.
func NewFollower(sink Sink) *Follower {
	return &Follower{sink: sink, applied: make(map[StreamKey]uint64)}
}

// Apply applies entry to the local engine. Applying an entry whose
// LSN is at or below what's already applied for its stream is a
// no-op acknowledgment, not an error — the common at-least-once
// redelivery case.
func (f *Follower) Apply(entry Entry) error {
	f.mu.Lock()
	last := f.applied[entry.Stream]
	f.mu.Unlock()
	if entry.Wal.LSN < last {
		return nil
	}

	if err := f.sink.ApplyReplicated(entry.Stream.Tenant, entry.Stream.Collection, entry.Wal); err != nil {
		return fmt.Errorf("replication: apply %s lsn %d: %w", entry.Stream, entry.Wal.LSN, err)
	}

	f.mu.Lock()
	if entry.Wal.LSN >= f.applied[entry.Stream] {
		f.applied[entry.Stream] = entry.Wal.LSN + 1
	}
	f.mu.Unlock()
	return nil
}

// LastApplied returns the highest LSN applied for stream (0 if none),
// the value it reports back to the primary as its acknowledgment.
func (f *Follower) LastApplied(stream StreamKey) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if applied, ok := f.applied[stream]; ok && applied > 0 {
		return applied - 1
	}
	return 0
}

// Ship runs a single catch-up round for follower on stream: fetch
// whatever entries it's missing from the primary, apply them through
// follower, and ack back. Callers drive repeated rounds (e.g. from a
// poll loop or in response to a primary write notification).
func Ship(ctx context.Context, primary *Primary, follower *Follower, followerID string, stream StreamKey) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	entries, err := primary.EntriesFor(followerID, stream)
	if err != nil {
		return 0, err
	}
	for _, entry := range entries {
		if err := follower.Apply(entry); err != nil {
			return 0, err
		}
	}
	primary.Ack(followerID, stream, follower.LastApplied(stream))
	return len(entries), nil
}

// PollLoop repeatedly calls Ship at interval until ctx is cancelled,
// used to drive a follower's catch-up independent of any network
// transport (the transport itself — how entries and acks actually
// cross the wire between nodes — is out of scope here; this models
// the shipping protocol and its idempotent-apply guarantee).
func PollLoop(ctx context.Context, primary *Primary, follower *Follower, followerID string, stream StreamKey, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := Ship(ctx, primary, follower, followerID, stream); err != nil {
				return err
			}
		}
	}
}
