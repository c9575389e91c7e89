// ============================================================================
// Eventbus Pipe Wire Protocol
// ============================================================================
//
// Package: internal/corelet/wire
// File: wire.go
// Purpose: Encode/decode the length-prefixed records that cross the task
// pipe and health pipe between the worker-process pool and a worker
// process (spec.md §6).
//
// Framing: length(uint32, big-endian) || payload. The big-endian uint32
// length is written with encoding/binary because spec.md §6 mandates that
// exact wire shape for the single length field - no ecosystem framing
// library expresses a spec-mandated constant more directly than the stdlib
// call that writes it. The payload is a JSON Record holding the kind, the
// JSON body and a CRC32 checksum; google.golang.org/protobuf's low-level
// protowire helpers varint-encode the kind only as checksum input - the framing
// discipline (checksum a stable record, write it whole) is carried over
// from internal/storage/wal/checksum.go and utils.go, repurposed from
// on-disk WAL entries to in-flight pipe records.
//
// ============================================================================

package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// Kind tags a record on either pipe.
type Kind uint64

const (
	KindRegister         Kind = iota + 1 // pool -> worker: TaskRequest{handler_locator only}
	KindTask                             // pool -> worker: TaskRequest{event, handler_locator}
	KindResult                           // worker -> pool: TaskResult{event_id, success, data|exception}
	KindShutdown                         // pool -> worker (task pipe): ShutdownRequest
	KindShutdownAck                      // worker -> pool (task pipe): empty body

	KindPing             // pool -> worker (health pipe)
	KindPong             // worker -> pool (health pipe)
	KindAlive            // worker -> pool (health pipe)
	KindDied             // worker -> pool (health pipe)
	KindHealthShutdown   // pool -> worker (health pipe)
	KindShutdownComplete // worker -> pool (health pipe)
)

// Record is one self-describing pipe message: a kind tag plus a JSON body.
// Checksum guards against a truncated or corrupted read - CalculateChecksum
// mirrors wal.CalculateChecksum's "concatenate key fields, CRC32-IEEE" recipe.
type Record struct {
	Kind     Kind            `json:"kind"`
	Body     json.RawMessage `json:"body,omitempty"`
	Checksum uint32          `json:"checksum"`
}

// CalculateChecksum computes the CRC32-IEEE checksum over a record's kind
// and body, the pipe-protocol analogue of wal.CalculateChecksum.
func CalculateChecksum(kind Kind, body []byte) uint32 {
	buf := protowire.AppendVarint(nil, uint64(kind))
	buf = append(buf, body...)
	return crc32.ChecksumIEEE(buf)
}

// Encode marshals a payload into a Record of the given kind and writes it
// to w as length(uint32 big-endian) || json(Record).
func Encode(w io.Writer, kind Kind, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("wire: marshal body: %w", err)
	}
	rec := Record{Kind: kind, Body: body, Checksum: CalculateChecksum(kind, body)}
	framed, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("wire: marshal record: %w", err)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(framed)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if _, err := w.Write(framed); err != nil {
		return fmt.Errorf("wire: write payload: %w", err)
	}
	return nil
}

// ErrChecksumMismatch indicates a record's body does not match its checksum.
var ErrChecksumMismatch = fmt.Errorf("wire: checksum mismatch")

// Decode reads one length-prefixed record from r and verifies its checksum.
func Decode(r io.Reader) (Record, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Record{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Record{}, err
	}

	var rec Record
	if err := json.Unmarshal(buf, &rec); err != nil {
		return Record{}, fmt.Errorf("wire: unmarshal record: %w", err)
	}
	if CalculateChecksum(rec.Kind, rec.Body) != rec.Checksum {
		return Record{}, ErrChecksumMismatch
	}
	return rec, nil
}

// Unmarshal decodes a record's body into dst.
func (r Record) Unmarshal(dst any) error {
	if len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, dst)
}
