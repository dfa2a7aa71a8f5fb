package durable

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/engramdb/engram/record"
)

var logMagic = [4]byte{'E', 'G', 'L', '0'}

const (
	logVersion     = uint16(1)
	logHeaderLen   = 8 // magic + version + flags
	flagCompressed = uint16(1)
	entryHeaderLen = 9 // op(1) + len(4) + crc(4)
	maxEntryLen    = 64 << 20
)

type opType uint8

const (
	opPersist opType = iota + 1
	opUpdate
	opTombstone
)

// logEntry is the JSON payload of one framed log entry. Persist and update
// carry the full record; tombstone carries only the transition fields.
type logEntry struct {
	Record *record.Record `json:"record,omitempty"`

	ID       string    `json:"id,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	AuditRef string    `json:"audit_ref,omitempty"`
	At       time.Time `json:"at,omitempty"`
}

func writeLogHeader(w io.Writer, compressed bool) error {
	buf := make([]byte, logHeaderLen)
	copy(buf, logMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], logVersion)
	var flags uint16
	if compressed {
		flags |= flagCompressed
	}
	binary.LittleEndian.PutUint16(buf[6:8], flags)
	_, err := w.Write(buf)
	return err
}

// readLogHeader returns the compression flag. ok is false for an empty
// file (fresh log).
func readLogHeader(r io.Reader) (compressed, ok bool, err error) {
	buf := make([]byte, logHeaderLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF {
			return false, false, nil
		}
		return false, false, fmt.Errorf("durable: read log header: %w", err)
	}
	if [4]byte(buf[:4]) != logMagic {
		return false, false, fmt.Errorf("durable: invalid log magic")
	}
	if v := binary.LittleEndian.Uint16(buf[4:6]); v != logVersion {
		return false, false, fmt.Errorf("durable: unsupported log version %d", v)
	}
	flags := binary.LittleEndian.Uint16(buf[6:8])
	return flags&flagCompressed != 0, true, nil
}

// encodeEntry frames one entry: [op:1][len:4][crc32:4][payload].
func encodeEntry(op opType, e *logEntry, enc *zstd.Encoder) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("durable: marshal entry: %w", err)
	}
	if enc != nil {
		payload = enc.EncodeAll(payload, make([]byte, 0, len(payload)))
	}

	buf := make([]byte, entryHeaderLen+len(payload))
	buf[0] = byte(op)
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[5:9], crc32.ChecksumIEEE(payload))
	copy(buf[entryHeaderLen:], payload)
	return buf, nil
}

// hasLaterEntry reports whether a structurally valid frame starts
// anywhere after the first byte of b. Replay uses it to tell a torn tail
// (nothing committed follows the bad frame) from mid-log corruption
// (fsynced entries follow and must not be thrown away).
func hasLaterEntry(b []byte) bool {
	for i := 1; i+entryHeaderLen <= len(b); i++ {
		op := opType(b[i])
		if op < opPersist || op > opTombstone {
			continue
		}
		n := binary.LittleEndian.Uint32(b[i+1 : i+5])
		if n > maxEntryLen || i+entryHeaderLen+int(n) > len(b) {
			continue
		}
		sum := binary.LittleEndian.Uint32(b[i+5 : i+9])
		payload := b[i+entryHeaderLen : i+entryHeaderLen+int(n)]
		if crc32.ChecksumIEEE(payload) == sum {
			return true
		}
	}
	return false
}

// decodeEntry reads one framed entry. io.EOF (clean end) is returned
// as-is; a short or corrupt frame returns errTornEntry so replay can
// truncate the tail.
func decodeEntry(r io.Reader, dec *zstd.Decoder) (opType, *logEntry, error) {
	hdr := make([]byte, entryHeaderLen)
	if _, err := io.ReadFull(r, hdr); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, errTornEntry
	}

	op := opType(hdr[0])
	n := binary.LittleEndian.Uint32(hdr[1:5])
	sum := binary.LittleEndian.Uint32(hdr[5:9])
	if op < opPersist || op > opTombstone || n > maxEntryLen {
		return 0, nil, errTornEntry
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, errTornEntry
	}
	if crc32.ChecksumIEEE(payload) != sum {
		return 0, nil, errTornEntry
	}

	if dec != nil {
		var err error
		payload, err = dec.DecodeAll(payload, nil)
		if err != nil {
			return 0, nil, errTornEntry
		}
	}

	var e logEntry
	if err := json.Unmarshal(payload, &e); err != nil {
		return 0, nil, errTornEntry
	}
	return op, &e, nil
}
