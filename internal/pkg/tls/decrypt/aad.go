package decrypt

import "encoding/binary"

// macSeq returns the 64-bit sequence field of the MAC and AAD pseudo-header.
// DTLS folds the epoch into its top 16 bits.
func (d *Decoder) macSeq(rec *Record, seq uint64) uint64 {
	if d.dtls {
		return uint64(rec.Epoch)<<48 | seq&0xffffffffffff
	}
	return seq
}

// pseudoHeader builds the header that precedes the content in the record MAC
// and the pre-1.3 AEAD additional data. length is the plaintext length (or
// IV plus ciphertext length for Encrypt-then-MAC).
//
//	SSL 3.0:     seq(8) type(1) length(2)
//	TLS/DTLS:    seq(8) type(1) version(2) length(2)
//	draft CID:   seq(8) 25 version(2) cid cid_len(1) length(2)
//	RFC 9146:    ff*8 25 cid_len(1) 25 version(2) epoch(2) seq(6) cid length(2)
func (d *Decoder) pseudoHeader(rec *Record, seq uint64, length int) []byte {
	cid := rec.ContentType == ContentTypeTLS12CID && d.cidMode != CIDNone
	if !cid {
		h := make([]byte, 0, 13)
		h = binary.BigEndian.AppendUint64(h, d.macSeq(rec, seq))
		h = append(h, rec.ContentType)
		if !d.ssl3 {
			h = binary.BigEndian.AppendUint16(h, rec.Version)
		}
		return binary.BigEndian.AppendUint16(h, uint16(length))
	}

	switch d.cidMode {
	case CIDRFC9146:
		h := make([]byte, 0, 23+len(rec.CID))
		h = append(h, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		h = append(h, ContentTypeTLS12CID, byte(len(rec.CID)), ContentTypeTLS12CID)
		h = binary.BigEndian.AppendUint16(h, rec.Version)
		h = binary.BigEndian.AppendUint16(h, rec.Epoch)
		h = append(h, byte(seq>>40), byte(seq>>32), byte(seq>>24), byte(seq>>16), byte(seq>>8), byte(seq))
		h = append(h, rec.CID...)
		return binary.BigEndian.AppendUint16(h, uint16(length))
	default:
		h := make([]byte, 0, 14+len(rec.CID))
		h = binary.BigEndian.AppendUint64(h, d.macSeq(rec, seq))
		h = append(h, ContentTypeTLS12CID)
		h = binary.BigEndian.AppendUint16(h, rec.Version)
		h = append(h, rec.CID...)
		h = append(h, byte(len(rec.CID)))
		return binary.BigEndian.AppendUint16(h, uint16(length))
	}
}

// tls13AdditionalData returns the TLS 1.3 AAD: the record header
// (opaque_type, legacy_record_version, length). Drafts before 25 used no
// additional data.
func (d *Decoder) tls13AdditionalData(rec *Record) []byte {
	if d.draft > 0 && d.draft < 25 {
		return nil
	}
	if len(rec.Header) == RecordHeaderSize {
		return rec.Header
	}
	h := make([]byte, 0, RecordHeaderSize)
	h = append(h, rec.ContentType)
	h = binary.BigEndian.AppendUint16(h, rec.Version)
	return binary.BigEndian.AppendUint16(h, uint16(len(rec.Fragment)))
}
