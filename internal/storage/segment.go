package storage

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/barqdb/barq/pkg/document"
)

// segmentMagic is the fixed 8-byte magic header every segment file
// starts with, per spec.md §6's on-disk format.
var segmentMagic = [8]byte{'B', 'A', 'R', 'Q', 'S', 'E', 'G', 0}

const segmentVersion byte = 1

// SchemaHash returns a stable fingerprint of schema, stored in every
// segment and the manifest so readers can detect a schema/segment
// mismatch. Uses stdlib hash/crc32 — no ecosystem framing/checksum
// library appears anywhere in the pack outside bleve's own
// non-reusable internal segment format (see DESIGN.md).
func SchemaHash(schema document.CollectionSchema) (uint32, error) {
	b, err := json.Marshal(schema)
	if err != nil {
		return 0, err
	}
	return crc32.ChecksumIEEE(b), nil
}

// WriteSegment serializes docs (each as id + vector bytes + payload
// JSON) into a framed container at path: magic header, version byte,
// schema hash, record count, then contiguous records, then a CRC32
// footer over everything preceding it. Written to a temp file and
// renamed atomically so a reader never observes a partial segment.
func WriteSegment(path string, schemaHash uint32, docs []document.Document) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("storage: create segment temp file: %w", err)
	}

	crc := crc32.NewIEEE()
	w := io.MultiWriter(f, crc)
	bw := bufio.NewWriter(w)

	if _, err := bw.Write(segmentMagic[:]); err != nil {
		return abortSegment(f, tmp, err)
	}
	if err := bw.WriteByte(segmentVersion); err != nil {
		return abortSegment(f, tmp, err)
	}
	if err := binary.Write(bw, binary.BigEndian, schemaHash); err != nil {
		return abortSegment(f, tmp, err)
	}
	if err := binary.Write(bw, binary.BigEndian, uint64(len(docs))); err != nil {
		return abortSegment(f, tmp, err)
	}

	for _, doc := range docs {
		if err := writeRecord(bw, doc); err != nil {
			return abortSegment(f, tmp, err)
		}
	}

	if err := bw.Flush(); err != nil {
		return abortSegment(f, tmp, err)
	}

	footer := crc.Sum32()
	if err := binary.Write(f, binary.BigEndian, footer); err != nil {
		return abortSegment(f, tmp, err)
	}
	if err := f.Sync(); err != nil {
		return abortSegment(f, tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("storage: close segment temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("storage: rename segment into place: %w", err)
	}
	return nil
}

func abortSegment(f *os.File, tmp string, cause error) error {
	f.Close()
	os.Remove(tmp)
	return fmt.Errorf("storage: write segment: %w", cause)
}

func writeRecord(w io.Writer, doc document.Document) error {
	idBytes, err := json.Marshal(doc.ID)
	if err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(idBytes))); err != nil {
		return err
	}
	if _, err := w.Write(idBytes); err != nil {
		return err
	}

	if err := binary.Write(w, binary.BigEndian, uint32(len(doc.Vector))); err != nil {
		return err
	}
	for _, f32 := range doc.Vector {
		if err := binary.Write(w, binary.BigEndian, f32); err != nil {
			return err
		}
	}

	var payloadBytes []byte
	if doc.Payload != nil {
		payloadBytes, err = json.Marshal(doc.Payload)
		if err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(payloadBytes))); err != nil {
		return err
	}
	if len(payloadBytes) > 0 {
		if _, err := w.Write(payloadBytes); err != nil {
			return err
		}
	}
	return nil
}

// ReadSegment parses a file written by WriteSegment, verifying the
// magic header, version, and CRC32 footer before returning its
// records.
func ReadSegment(path string) (schemaHash uint32, docs []document.Document, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, fmt.Errorf("storage: read segment: %w", err)
	}
	if len(raw) < len(segmentMagic)+1+4+8+4 {
		return 0, nil, fmt.Errorf("storage: segment %s too short", path)
	}

	body := raw[:len(raw)-4]
	wantFooter := binary.BigEndian.Uint32(raw[len(raw)-4:])
	gotFooter := crc32.ChecksumIEEE(body)
	if gotFooter != wantFooter {
		return 0, nil, fmt.Errorf("storage: segment %s failed CRC32 check", path)
	}

	r := bufio.NewReader(bytes.NewReader(body))
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return 0, nil, err
	}
	if magic != segmentMagic {
		return 0, nil, fmt.Errorf("storage: segment %s has bad magic header", path)
	}
	version, err := r.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	if version != segmentVersion {
		return 0, nil, fmt.Errorf("storage: segment %s has unsupported version %d", path, version)
	}
	if err := binary.Read(r, binary.BigEndian, &schemaHash); err != nil {
		return 0, nil, err
	}
	var count uint64
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return 0, nil, err
	}

	docs = make([]document.Document, 0, count)
	for i := uint64(0); i < count; i++ {
		doc, err := readRecord(r)
		if err != nil {
			return 0, nil, fmt.Errorf("storage: read segment record %d: %w", i, err)
		}
		docs = append(docs, doc)
	}
	return schemaHash, docs, nil
}

func readRecord(r *bufio.Reader) (document.Document, error) {
	var idLen uint32
	if err := binary.Read(r, binary.BigEndian, &idLen); err != nil {
		return document.Document{}, err
	}
	idBytes := make([]byte, idLen)
	if _, err := io.ReadFull(r, idBytes); err != nil {
		return document.Document{}, err
	}
	var id document.ID
	if err := json.Unmarshal(idBytes, &id); err != nil {
		return document.Document{}, err
	}

	var vecLen uint32
	if err := binary.Read(r, binary.BigEndian, &vecLen); err != nil {
		return document.Document{}, err
	}
	vec := make(document.Vector, vecLen)
	for i := range vec {
		if err := binary.Read(r, binary.BigEndian, &vec[i]); err != nil {
			return document.Document{}, err
		}
	}

	var payloadLen uint32
	if err := binary.Read(r, binary.BigEndian, &payloadLen); err != nil {
		return document.Document{}, err
	}
	var payload *document.Value
	if payloadLen > 0 {
		buf := make([]byte, payloadLen)
		if _, err := io.ReadFull(r, buf); err != nil {
			return document.Document{}, err
		}
		var v document.Value
		if err := json.Unmarshal(buf, &v); err != nil {
			return document.Document{}, err
		}
		payload = &v
	}

	return document.Document{ID: id, Vector: vec, Payload: payload}, nil
}
