package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/barqdb/barq/internal/errors"
	"github.com/barqdb/barq/pkg/catalog"
	"github.com/barqdb/barq/pkg/collection"
	"github.com/barqdb/barq/pkg/document"
)

// defaultFlushThresholdBytes is spec.md §4.7's default flush_threshold
// (16 MiB).
const defaultFlushThresholdBytes = 16 << 20

// Quota bounds a tenant's resource usage. MaxCollections is checked by
// CreateCollection (ErrQuotaExceeded) and MaxQPS by every Insert and
// Delete (ErrQPSExceeded); MaxDiskBytes and MaxMemoryBytes are stored
// and persisted but not enforced.
type Quota struct {
	MaxCollections int
	MaxDiskBytes   int64
	MaxMemoryBytes int64
	MaxQPS         int
}

// ErrQuotaExceeded is raised by CreateCollection when the tenant
// already holds Quota.MaxCollections collections.
var ErrQuotaExceeded = errors.QuotaExceeded(errors.ErrCodeQuotaCollections, "storage: tenant quota exceeded", nil)

// Engine owns the on-disk layout for every tenant/collection: WAL,
// segments, and manifest, plus the in-memory Catalog those files
// rehydrate into. Grounded on original_source/barq-storage/src/lib.rs
// generalized to the full per-tenant/per-collection tree.
type Engine struct {
	root    string
	catalog *catalog.Catalog

	mu             sync.Mutex
	wals           map[string]*Wal // key: tenant + "/" + name
	flushThreshold int64
	quotas         map[string]Quota
	qpsGates       map[string]*qpsGate // key: tenant
	quotaStore     *quotaStore
}

// Open rehydrates every collection found under root/tenants/*/collections/*
// (schema -> manifest segments -> WAL tail), per spec.md §4.7's open
// protocol, and returns a ready Engine.
func Open(root string) (*Engine, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create engine root: %w", err)
	}
	qs, err := openQuotaStore(root)
	if err != nil {
		return nil, err
	}
	quotas, err := qs.loadAll()
	if err != nil {
		qs.close()
		return nil, err
	}

	e := &Engine{
		root:           root,
		catalog:        catalog.New(),
		wals:           make(map[string]*Wal),
		flushThreshold: defaultFlushThresholdBytes,
		quotas:         quotas,
		qpsGates:       make(map[string]*qpsGate),
		quotaStore:     qs,
	}

	tenantsDir := filepath.Join(root, "tenants")
	tenantEntries, err := os.ReadDir(tenantsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return e, nil
		}
		return nil, fmt.Errorf("storage: list tenants: %w", err)
	}

	for _, tenantEntry := range tenantEntries {
		if !tenantEntry.IsDir() {
			continue
		}
		tenant := tenantEntry.Name()
		collectionsDir := filepath.Join(tenantsDir, tenant, "collections")
		collEntries, err := os.ReadDir(collectionsDir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("storage: list collections for tenant %s: %w", tenant, err)
		}
		for _, collEntry := range collEntries {
			if !collEntry.IsDir() {
				continue
			}
			if err := e.openCollection(tenant, collEntry.Name()); err != nil {
				return nil, err
			}
		}
	}

	return e, nil
}

func (e *Engine) collectionDir(tenant, name string) string {
	return filepath.Join(e.root, "tenants", tenant, "collections", name)
}

func (e *Engine) walKey(tenant, name string) string { return tenant + "/" + name }

// openCollection implements the three-step open protocol for one
// collection directory: load schema, apply manifest segments in
// order, then replay the WAL suffix from the manifest's tail LSN on
// (the first LSN no segment absorbed), truncating at the first
// malformed WAL entry.
func (e *Engine) openCollection(tenant, name string) error {
	dir := e.collectionDir(tenant, name)

	schemaBytes, err := os.ReadFile(filepath.Join(dir, "schema.json"))
	if err != nil {
		return fmt.Errorf("storage: read schema for %s/%s: %w", tenant, name, err)
	}
	var schema document.CollectionSchema
	if err := json.Unmarshal(schemaBytes, &schema); err != nil {
		return fmt.Errorf("storage: parse schema for %s/%s: %w", tenant, name, err)
	}

	coll, err := e.catalog.CreateCollection(schema)
	if err != nil {
		return fmt.Errorf("storage: reconstruct collection %s/%s: %w", tenant, name, err)
	}

	manifestPath := filepath.Join(dir, "manifest.json")
	manifest, err := LoadManifest(manifestPath)
	if err != nil {
		return err
	}

	// A corrupt segment is quarantined, not fatal to the rest of the
	// collection: it is renamed aside and dropped from the manifest so a
	// later open doesn't retry it, while every other segment and the WAL
	// tail still load normally, per spec.md §7/§8.
	liveSegments := make([]ManifestSegment, 0, len(manifest.Segments))
	quarantined := false
	for _, seg := range manifest.Segments {
		_, docs, err := ReadSegment(filepath.Join(dir, seg.Path))
		if err != nil {
			slog.Warn("storage: quarantining corrupt segment",
				slog.String("tenant", tenant), slog.String("collection", name),
				slog.String("segment", seg.Path), slog.String("error", err.Error()))
			if qerr := quarantineSegment(dir, seg.Path); qerr != nil {
				slog.Warn("storage: failed to rename quarantined segment aside",
					slog.String("segment", seg.Path), slog.String("error", qerr.Error()))
			}
			quarantined = true
			continue
		}
		for _, doc := range docs {
			if err := coll.Insert(doc, textOf(schema, doc), true); err != nil {
				return fmt.Errorf("storage: apply segment record for %s/%s: %w", tenant, name, err)
			}
		}
		liveSegments = append(liveSegments, seg)
	}
	if quarantined {
		manifest.Segments = liveSegments
		if err := SaveManifest(manifestPath, manifest); err != nil {
			return fmt.Errorf("storage: rewrite manifest after quarantining segment for %s/%s: %w", tenant, name, err)
		}
	}

	walPath := filepath.Join(dir, "wal.log")
	lastGoodOffset, maxLSN, err := ReplayWal(walPath, func(entry WalEntry) error {
		if entry.LSN < manifest.TailLSN {
			return nil // already absorbed by a segment
		}
		return e.applyEntry(coll, schema, entry)
	})
	if err != nil {
		return fmt.Errorf("storage: replay wal for %s/%s: %w", tenant, name, err)
	}

	if err := truncateFileToOffset(walPath, lastGoodOffset); err != nil {
		return fmt.Errorf("storage: truncate corrupt wal tail for %s/%s: %w", tenant, name, err)
	}

	wal, err := OpenWal(walPath)
	if err != nil {
		return err
	}
	nextLSN := manifest.TailLSN
	if maxLSN+1 > nextLSN {
		nextLSN = maxLSN + 1
	}
	wal.SetNextLSN(nextLSN)
	e.wals[e.walKey(tenant, name)] = wal

	return nil
}

// quarantineSegment renames a corrupt segment file aside so it is
// neither read again on the next open nor silently deleted — an
// operator can still recover it for forensics.
func quarantineSegment(dir, relPath string) error {
	src := filepath.Join(dir, relPath)
	return os.Rename(src, src+".quarantined")
}

func truncateFileToOffset(path string, offset int64) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	return f.Truncate(offset)
}

func (e *Engine) applyEntry(coll *collection.Collection, schema document.CollectionSchema, entry WalEntry) error {
	switch entry.Op {
	case WalOpInsert:
		if entry.Document == nil {
			return fmt.Errorf("storage: wal insert entry missing document")
		}
		return coll.Insert(*entry.Document, entry.Text, true)
	case WalOpDelete:
		if entry.ID == nil {
			return fmt.Errorf("storage: wal delete entry missing id")
		}
		_, err := coll.Delete(*entry.ID)
		return err
	default:
		return fmt.Errorf("storage: unknown wal op %d", entry.Op)
	}
}

func textOf(schema document.CollectionSchema, doc document.Document) string {
	field, ok := schema.TextField()
	if !ok || doc.Payload == nil || doc.Payload.Kind != document.ValueObject {
		return ""
	}
	if v, ok := doc.Payload.Object[field.Name]; ok && v.Kind == document.ValueString {
		return v.Str
	}
	return ""
}

// CreateCollection creates dir/schema.json and an empty WAL for a new
// collection, then registers it in the catalog. Enforces the tenant's
// MaxCollections quota at admission.
func (e *Engine) CreateCollection(schema document.CollectionSchema) (*collection.Collection, error) {
	tenant := schema.TenantID
	if tenant == "" {
		tenant = document.DefaultTenantID
	}

	e.mu.Lock()
	if q, ok := e.quotas[tenant]; ok && q.MaxCollections > 0 {
		if len(e.catalog.CollectionNames(tenant)) >= q.MaxCollections {
			e.mu.Unlock()
			return nil, ErrQuotaExceeded
		}
	}
	e.mu.Unlock()

	dir := e.collectionDir(tenant, schema.Name)
	if err := os.MkdirAll(filepath.Join(dir, "segments"), 0o755); err != nil {
		return nil, fmt.Errorf("storage: create collection directory: %w", err)
	}
	schemaBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, "schema.json"), schemaBytes, 0o644); err != nil {
		return nil, fmt.Errorf("storage: write schema: %w", err)
	}

	coll, err := e.catalog.CreateCollection(schema)
	if err != nil {
		return nil, err
	}

	wal, err := OpenWal(filepath.Join(dir, "wal.log"))
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.wals[e.walKey(tenant, schema.Name)] = wal
	e.mu.Unlock()

	return coll, nil
}

// DropCollection removes the collection from the catalog and closes
// its WAL handle. The on-disk directory is left for an operator to
// remove explicitly (no data is deleted implicitly).
func (e *Engine) DropCollection(tenant, name string) error {
	if tenant == "" {
		tenant = document.DefaultTenantID
	}
	if err := e.catalog.DropCollection(tenant, name); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	key := e.walKey(tenant, name)
	if wal, ok := e.wals[key]; ok {
		wal.Close()
		delete(e.wals, key)
	}
	return nil
}

// Insert applies doc to the named collection's in-memory state, then
// appends a WalEntry and flushes if the WAL has grown past
// flushThreshold, per spec.md §4.7's write protocol. The mutation and
// WAL append run under the collection's WAL lock so a concurrent
// flush can never observe a collection snapshot and a WAL tail that
// disagree about whether this insert happened; the lock is released
// before a triggered flush's IO runs, per spec.md §5.
func (e *Engine) Insert(tenant, name string, doc document.Document, text string, upsert bool) error {
	if tenant == "" {
		tenant = document.DefaultTenantID
	}
	coll, err := e.catalog.Collection(tenant, name)
	if err != nil {
		return err
	}
	wal, err := e.walFor(tenant, name)
	if err != nil {
		return err
	}

	wal.Lock()
	if err := e.admit(tenant, wal); err != nil {
		wal.Unlock()
		return err
	}
	if err := coll.Insert(doc, text, upsert); err != nil {
		wal.Unlock()
		return err
	}
	if _, err := wal.appendLocked(WalEntry{Op: WalOpInsert, Document: &doc, Text: text}); err != nil {
		wal.Unlock()
		return err
	}
	needsFlush, err := e.needsFlushLocked(wal)
	wal.Unlock()
	if err != nil {
		return err
	}
	if needsFlush {
		return e.flush(tenant, name, coll, wal)
	}
	return nil
}

// Delete applies a delete to the named collection and WALs it, under
// the same WAL lock discipline as Insert.
func (e *Engine) Delete(tenant, name string, id document.ID) (bool, error) {
	if tenant == "" {
		tenant = document.DefaultTenantID
	}
	coll, err := e.catalog.Collection(tenant, name)
	if err != nil {
		return false, err
	}
	wal, err := e.walFor(tenant, name)
	if err != nil {
		return false, err
	}

	wal.Lock()
	if err := e.admit(tenant, wal); err != nil {
		wal.Unlock()
		return false, err
	}
	removed, err := coll.Delete(id)
	if err != nil || !removed {
		wal.Unlock()
		return removed, err
	}
	if _, err := wal.appendLocked(WalEntry{Op: WalOpDelete, ID: &id}); err != nil {
		wal.Unlock()
		return false, err
	}
	needsFlush, err := e.needsFlushLocked(wal)
	wal.Unlock()
	if err != nil {
		return true, err
	}
	if needsFlush {
		return true, e.flush(tenant, name, coll, wal)
	}
	return true, nil
}

// ApplyReplicated applies a WalEntry shipped from another node's
// primary (already carrying its LSN) to this engine's in-memory
// collection state and appends it to the local WAL verbatim. Insert
// and delete are both naturally idempotent (upsert-by-id, delete-if-
// present), so re-applying an entry the follower already has is
// harmless — this is what makes at-least-once delivery safe.
func (e *Engine) ApplyReplicated(tenant, name string, entry WalEntry) error {
	if tenant == "" {
		tenant = document.DefaultTenantID
	}
	coll, err := e.catalog.Collection(tenant, name)
	if err != nil {
		return err
	}
	wal, err := e.walFor(tenant, name)
	if err != nil {
		return err
	}

	wal.Lock()
	defer wal.Unlock()

	if err := e.applyEntry(coll, coll.Schema(), entry); err != nil {
		return err
	}
	return wal.appendReplicatedLocked(entry)
}

// EntriesSince returns every WalEntry still held in (tenant, name)'s
// WAL tail with LSN greater than afterLSN, in order, for a
// replication follower to catch up from. Entries already folded into
// a flushed segment are not retained by the WAL and so are not
// returned here — a follower that has fallen behind the last flush
// must be re-bootstrapped from a snapshot rather than WAL replay.
func (e *Engine) EntriesSince(tenant, name string, afterLSN uint64) ([]WalEntry, error) {
	if tenant == "" {
		tenant = document.DefaultTenantID
	}
	walPath := filepath.Join(e.collectionDir(tenant, name), "wal.log")

	var entries []WalEntry
	_, _, err := ReplayWal(walPath, func(entry WalEntry) error {
		if entry.LSN > afterLSN {
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: read wal tail for %s/%s: %w", tenant, name, err)
	}
	return entries, nil
}

// LastAppliedLSN returns the highest LSN this collection's WAL has
// recorded, i.e. nextLSN - 1 (0 if nothing has been written yet). A
// follower reports this as its offset acknowledgment.
func (e *Engine) LastAppliedLSN(tenant, name string) (uint64, error) {
	wal, err := e.walFor(tenant, name)
	if err != nil {
		return 0, err
	}
	next := wal.NextLSN()
	if next == 0 {
		return 0, nil
	}
	return next - 1, nil
}

func (e *Engine) walFor(tenant, name string) (*Wal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	wal, ok := e.wals[e.walKey(tenant, name)]
	if !ok {
		return nil, fmt.Errorf("storage: no open wal for %s/%s", tenant, name)
	}
	return wal, nil
}

// needsFlushLocked is called from within Insert/Delete, which already
// hold wal's lock for the duration of their own sequence — it just
// checks the size threshold; the caller releases the lock before
// conditionally invoking flush.
func (e *Engine) needsFlushLocked(wal *Wal) (bool, error) {
	size, err := wal.sizeLocked()
	if err != nil {
		return false, err
	}
	return size >= e.flushThreshold, nil
}

// Flush snapshots the collection's current state into a new segment
// and atomically swaps the manifest to reference only that segment.
func (e *Engine) Flush(tenant, name string) error {
	coll, err := e.catalog.Collection(tenant, name)
	if err != nil {
		return err
	}
	wal, err := e.walFor(tenant, name)
	if err != nil {
		return err
	}
	return e.flush(tenant, name, coll, wal)
}

// flush is Flush's body, shared with Insert/Delete's size-triggered
// path. Since Collection.Documents always returns the full current
// live set (not a delta), every flush's segment is already a complete
// snapshot: flush replaces manifest.Segments with the single new
// segment, rather than appending to it, and removes the files it
// supersedes — otherwise every flush would grow the segment count and
// duplicate the whole dataset on disk, the opposite of compaction.
//
// Per spec.md §5, the segment-write IO runs without holding wal's
// lock, so a flush never blocks Insert/Delete for the duration of
// that IO: wal is locked only to snapshot the collection and capture
// tailLSN, then again at the end to swap the manifest and truncate
// the WAL. flushMu serializes concurrent flush attempts against each
// other, since two flushes racing past the unlocked window could
// otherwise collide on the same segment sequence number. tailLSN is
// the first LSN the snapshot does not contain; any entries appended
// during the unlocked window (LSN >= tailLSN) are recovered via
// entriesFromLocked and survive the truncate.
func (e *Engine) flush(tenant, name string, coll *collection.Collection, wal *Wal) error {
	wal.flushMu.Lock()
	defer wal.flushMu.Unlock()

	dir := e.collectionDir(tenant, name)

	wal.Lock()
	docs, _ := coll.Documents()
	tailLSN := wal.nextLSNLocked()
	wal.Unlock()

	schemaHash, err := SchemaHash(coll.Schema())
	if err != nil {
		return err
	}

	manifestPath := filepath.Join(dir, "manifest.json")
	manifest, err := LoadManifest(manifestPath)
	if err != nil {
		return err
	}

	nextSeq := maxSegmentSeq(manifest.Segments) + 1
	segName := fmt.Sprintf("%06d.seg", nextSeq)
	segPath := filepath.Join(dir, "segments", segName)
	if err := WriteSegment(segPath, schemaHash, docs); err != nil {
		return err
	}
	superseded := manifest.Segments

	wal.Lock()
	defer wal.Unlock()

	remaining, err := wal.entriesFromLocked(tailLSN)
	if err != nil {
		return err
	}

	manifest.SchemaHash = schemaHash
	manifest.Segments = []ManifestSegment{{
		Seq:         nextSeq,
		Path:        filepath.Join("segments", segName),
		RecordCount: len(docs),
		MaxLSN:      tailLSN,
	}}
	manifest.TailLSN = tailLSN

	if err := SaveManifest(manifestPath, manifest); err != nil {
		return err
	}
	if err := wal.Truncate(remaining); err != nil {
		return err
	}

	for _, seg := range superseded {
		_ = os.Remove(filepath.Join(dir, seg.Path)) // best-effort; manifest is authoritative on which segments are live
	}
	return nil
}

// maxSegmentSeq returns the highest Seq in segments, 0 if empty, so
// flush can assign a strictly monotonic sequence number even though
// segments are replaced (not appended) on every flush.
func maxSegmentSeq(segments []ManifestSegment) uint64 {
	var max uint64
	for _, s := range segments {
		if s.Seq > max {
			max = s.Seq
		}
	}
	return max
}

// Compact merges every live segment for (tenant, name) into one,
// dropping overridden/deleted docs (the merge naturally only contains
// each document's current state, fetched from the live in-memory
// collection). flush already performs exactly this merge-and-replace
// on every call, so Compact is a thin alias exposing the same
// operation under its spec.md §4.7 name.
func (e *Engine) Compact(tenant, name string) error {
	return e.Flush(tenant, name)
}

// SetQuota installs tenant's resource limits and persists them so they
// survive a process restart.
func (e *Engine) SetQuota(tenant string, q Quota) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.quotas[tenant] = q
	delete(e.qpsGates, tenant) // next qpsGateFor call rebuilds it against the new MaxQPS
	return e.quotaStore.upsert(tenant, q)
}

// Catalog exposes the engine's underlying catalog for read access
// (search, listing) from the service boundary.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// Close flushes nothing (flush is explicit/size-triggered) but closes
// every open WAL handle and its lock.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	keys := make([]string, 0, len(e.wals))
	for k := range e.wals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var firstErr error
	for _, k := range keys {
		if err := e.wals[k].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := e.quotaStore.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
