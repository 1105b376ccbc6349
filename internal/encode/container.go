// Package encode is the capture backend: it turns rendered frames and the audio
// tap into container chunks (JPEG video, Opus audio) and reads artifacts back.
package encode

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// Artifact layout:
//
//	header: "PVIS" | version u8 | mime length u16 | mime
//	record: kind u8 | offset ns u64 | length u32 | payload
//
// All integers are big endian. Records appear in arrival order.
const (
	magic   = "PVIS"
	version = 1

	maxRecord = 64 << 20
)

// Track tags a record payload.
type Track byte

const (
	TrackVideo Track = 'V'
	TrackAudio Track = 'A'
)

// ErrBadArtifact is returned for data that is not a capture artifact.
var ErrBadArtifact = errors.New("not a partivision artifact")

// Record is one chunk read back from an artifact.
type Record struct {
	Track  Track
	Offset time.Duration
	Data   []byte
}

func headerChunk(mime string) []byte {
	b := make([]byte, 0, len(magic)+3+len(mime))
	b = append(b, magic...)
	b = append(b, version)
	b = binary.BigEndian.AppendUint16(b, uint16(len(mime)))
	return append(b, mime...)
}

func recordChunk(track Track, offset time.Duration, payload []byte) []byte {
	b := make([]byte, 0, 13+len(payload))
	b = append(b, byte(track))
	b = binary.BigEndian.AppendUint64(b, uint64(offset))
	b = binary.BigEndian.AppendUint32(b, uint32(len(payload)))
	return append(b, payload...)
}

// Reader iterates the records of an artifact.
type Reader struct {
	r    *bufio.Reader
	mime string
}

// NewReader validates the header.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	head := make([]byte, len(magic)+3)
	if _, err := io.ReadFull(br, head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArtifact, err)
	}
	if string(head[:len(magic)]) != magic {
		return nil, ErrBadArtifact
	}
	if head[len(magic)] != version {
		return nil, fmt.Errorf("%w: version %d", ErrBadArtifact, head[len(magic)])
	}
	mime := make([]byte, binary.BigEndian.Uint16(head[len(magic)+1:]))
	if _, err := io.ReadFull(br, mime); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArtifact, err)
	}
	return &Reader{r: br, mime: string(mime)}, nil
}

// MimeType returns the encoding recorded in the header.
func (r *Reader) MimeType() string { return r.mime }

// Next returns the next record or io.EOF.
func (r *Reader) Next() (Record, error) {
	var head [13]byte
	if _, err := io.ReadFull(r.r, head[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Record{}, fmt.Errorf("%w: truncated record", ErrBadArtifact)
		}
		return Record{}, err
	}
	n := binary.BigEndian.Uint32(head[9:])
	if n > maxRecord {
		return Record{}, fmt.Errorf("%w: record of %d bytes", ErrBadArtifact, n)
	}
	rec := Record{
		Track:  Track(head[0]),
		Offset: time.Duration(binary.BigEndian.Uint64(head[1:9])),
		Data:   make([]byte, n),
	}
	if _, err := io.ReadFull(r.r, rec.Data); err != nil {
		return Record{}, fmt.Errorf("%w: truncated payload", ErrBadArtifact)
	}
	return rec, nil
}
