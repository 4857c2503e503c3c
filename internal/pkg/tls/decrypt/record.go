package decrypt

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// RecordParser splits a TLS byte stream into records. Feed it the payload of
// each TCP segment of one direction in order.
type RecordParser struct {
	buffer []byte
}

// NewRecordParser creates a new TLS record parser.
func NewRecordParser() *RecordParser {
	return &RecordParser{
		buffer: make([]byte, 0, 16384),
	}
}

// ParseRecords appends data to the stream and returns every complete record.
// An incomplete trailing record stays buffered. On a framing error the
// buffer is dropped, since the stream cannot be resynchronized.
func (p *RecordParser) ParseRecords(data []byte) ([]*Record, error) {
	p.buffer = append(p.buffer, data...)

	var records []*Record
	for {
		record, remaining, err := parseStreamRecord(p.buffer)
		if errors.Is(err, ErrInsufficientData) {
			break
		}
		if err != nil {
			p.buffer = p.buffer[:0]
			return records, err
		}
		records = append(records, record)
		p.buffer = remaining
	}

	// Keep the backing array from growing with the whole stream.
	if len(p.buffer) == 0 {
		p.buffer = p.buffer[:0:cap(p.buffer)]
	} else if cap(p.buffer) > 4*MaxRecordSize {
		p.buffer = append([]byte(nil), p.buffer...)
	}
	return records, nil
}

// Reset clears the parser state.
func (p *RecordParser) Reset() {
	p.buffer = p.buffer[:0]
}

// BufferedBytes returns the number of bytes waiting in the buffer.
func (p *RecordParser) BufferedBytes() int {
	return len(p.buffer)
}

func parseStreamRecord(data []byte) (*Record, []byte, error) {
	if len(data) < RecordHeaderSize {
		return nil, data, ErrInsufficientData
	}

	contentType := data[0]
	version := binary.BigEndian.Uint16(data[1:3])
	length := int(binary.BigEndian.Uint16(data[3:5]))

	if !isValidContentType(contentType, false) {
		return nil, nil, fmt.Errorf("%w: invalid content type %d", ErrInvalidRecord, contentType)
	}
	// TLS 1.3 keeps 0x0301/0x0303 on the wire; anything 0x03xx is accepted.
	if data[1] != 0x03 || data[2] > 0x04 {
		return nil, nil, fmt.Errorf("%w: invalid version 0x%04x", ErrInvalidRecord, version)
	}
	if length > MaxRecordSize {
		return nil, nil, fmt.Errorf("%w: length %d exceeds max %d", ErrRecordTooLarge, length, MaxRecordSize)
	}

	recordLen := RecordHeaderSize + length
	if len(data) < recordLen {
		return nil, data, ErrInsufficientData
	}

	raw := make([]byte, recordLen)
	copy(raw, data[:recordLen])
	return &Record{
		ContentType: contentType,
		Version:     version,
		Header:      raw[:RecordHeaderSize],
		Fragment:    raw[RecordHeaderSize:],
	}, data[recordLen:], nil
}

// ParseSingleRecord parses one complete TLS record.
func ParseSingleRecord(data []byte) (*Record, error) {
	rec, _, err := parseStreamRecord(data)
	return rec, err
}

// ParseDatagram splits a UDP payload into DTLS records. cidLen is the
// connection id length carried by tls12_cid records of this direction.
func ParseDatagram(data []byte, cidLen int) ([]*Record, error) {
	var records []*Record
	for len(data) > 0 {
		rec, rest, err := parseDTLSRecord(data, cidLen)
		if err != nil {
			return records, err
		}
		records = append(records, rec)
		data = rest
	}
	return records, nil
}

// parseDTLSRecord parses
//
//	type(1) version(2) epoch(2) seq(6) [cid] length(2) fragment
func parseDTLSRecord(data []byte, cidLen int) (*Record, []byte, error) {
	if len(data) < DTLSRecordHeaderSize {
		return nil, nil, fmt.Errorf("%w: %d bytes left for a DTLS header", ErrInsufficientData, len(data))
	}

	contentType := data[0]
	if !isValidContentType(contentType, true) {
		return nil, nil, fmt.Errorf("%w: invalid content type %d", ErrInvalidRecord, contentType)
	}
	version := binary.BigEndian.Uint16(data[1:3])
	if !IsDTLS(version) {
		return nil, nil, fmt.Errorf("%w: invalid DTLS version 0x%04x", ErrInvalidRecord, version)
	}
	epoch := binary.BigEndian.Uint16(data[3:5])
	seq := uint64(data[5])<<40 | uint64(data[6])<<32 | uint64(data[7])<<24 |
		uint64(data[8])<<16 | uint64(data[9])<<8 | uint64(data[10])

	pos := 11
	var cid []byte
	if contentType == ContentTypeTLS12CID {
		if cidLen <= 0 {
			return nil, nil, fmt.Errorf("%w: tls12_cid record without negotiated connection id", ErrInvalidRecord)
		}
		if len(data) < pos+cidLen+2 {
			return nil, nil, fmt.Errorf("%w: truncated connection id", ErrInsufficientData)
		}
		cid = data[pos : pos+cidLen]
		pos += cidLen
	}

	length := int(binary.BigEndian.Uint16(data[pos : pos+2]))
	pos += 2
	if length > MaxRecordSize {
		return nil, nil, fmt.Errorf("%w: length %d exceeds max %d", ErrRecordTooLarge, length, MaxRecordSize)
	}
	if len(data) < pos+length {
		return nil, nil, fmt.Errorf("%w: record of %d bytes, %d left", ErrInsufficientData, length, len(data)-pos)
	}

	raw := make([]byte, pos+length)
	copy(raw, data[:pos+length])
	rec := &Record{
		ContentType: contentType,
		Version:     version,
		Epoch:       epoch,
		Seq:         seq,
		Header:      raw[:pos],
		Fragment:    raw[pos:],
	}
	if cid != nil {
		rec.CID = raw[11 : 11+cidLen]
	}
	return rec, data[pos+length:], nil
}

func isValidContentType(ct uint8, dtls bool) bool {
	switch ct {
	case ContentTypeChangeCipherSpec,
		ContentTypeAlert,
		ContentTypeHandshake,
		ContentTypeApplicationData,
		ContentTypeHeartbeat:
		return true
	case ContentTypeTLS12CID:
		return dtls
	default:
		return false
	}
}

// StreamReassembler keeps one RecordParser per direction of a TCP
// connection.
type StreamReassembler struct {
	parsers [2]*RecordParser
}

// NewStreamReassembler creates a new stream reassembler.
func NewStreamReassembler() *StreamReassembler {
	return &StreamReassembler{
		parsers: [2]*RecordParser{NewRecordParser(), NewRecordParser()},
	}
}

// Add feeds stream data sent by dir.
func (s *StreamReassembler) Add(dir Direction, data []byte) ([]*Record, error) {
	return s.parsers[dir].ParseRecords(data)
}

// Buffered returns the bytes buffered for dir.
func (s *StreamReassembler) Buffered(dir Direction) int {
	return s.parsers[dir].BufferedBytes()
}

// ResetDirection drops the bytes buffered for dir, after a gap in its
// stream.
func (s *StreamReassembler) ResetDirection(dir Direction) {
	s.parsers[dir].Reset()
}

// Reset clears both parsers.
func (s *StreamReassembler) Reset() {
	s.parsers[DirectionClient].Reset()
	s.parsers[DirectionServer].Reset()
}
