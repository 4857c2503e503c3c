package decrypt

import (
	"errors"

	"github.com/endorses/tlsdissect/internal/pkg/logger"
	"github.com/endorses/tlsdissect/internal/pkg/tls/decrypt/ciphers"
	"github.com/endorses/tlsdissect/internal/pkg/tls/suites"
)

// Options tunes the RecordDecryptor.
type Options struct {
	// IgnoreMAC keeps the plaintext of records whose MAC or padding check
	// failed. AEAD tag failures never yield plaintext.
	IgnoreMAC bool
}

// RecordDecryptor applies the record framing of a Decoder's suite and
// version. It holds no per-session state; all state lives in the Decoder.
type RecordDecryptor struct {
	opts Options
}

// NewRecordDecryptor creates a decryptor.
func NewRecordDecryptor(opts Options) *RecordDecryptor {
	return &RecordDecryptor{opts: opts}
}

// Decrypt decrypts one record with d. On failure the returned error is a
// *DecryptError; the Result is still returned and carries the status (and,
// for BadMAC under IgnoreMAC, the unverified plaintext).
func (rd *RecordDecryptor) Decrypt(d *Decoder, rec *Record) (*Result, error) {
	res := &Result{ContentType: rec.ContentType}
	if d == nil {
		res.Status = StatusMissingKeys
		return res, decryptErr(StatusMissingKeys, ErrMissingKeys, "")
	}
	switch d.state {
	case StateUninitialized:
		res.Status = StatusMissingKeys
		return res, decryptErr(StatusMissingKeys, ErrNotActive, "")
	case StateSuperseded:
		res.Status = StatusMissingKeys
		return res, decryptErr(StatusMissingKeys, ErrSuperseded, "")
	}

	seq := d.seq
	if d.dtls {
		seq = rec.Seq
	}
	res.Seq = seq

	var (
		plaintext []byte
		derr      *DecryptError
	)
	switch d.suite.Mode {
	case suites.ModeStream:
		plaintext, derr = rd.decryptStream(d, rec, seq)
		d.advance(seq)
	case suites.ModeCBC:
		plaintext, derr = rd.decryptCBC(d, rec, seq)
		d.advance(seq)
	case suites.ModeGCM, suites.ModeCCM, suites.ModeCCM8, suites.ModeChaCha20Poly1305:
		plaintext, derr = rd.decryptAEAD(d, rec, seq)
		if derr == nil {
			d.advance(seq)
		}
	default:
		derr = decryptErr(StatusUnsupportedCipher, ErrUnsupportedCipher, "mode %s", d.suite.Mode)
	}

	if derr != nil {
		res.Status = derr.Status
		if derr.Status == StatusBadMAC && rd.opts.IgnoreMAC && plaintext != nil {
			res.Plaintext = plaintext
		}
		logger.Debug("record decryption failed",
			"suite", d.suite.Name,
			"seq", seq,
			"status", derr.Status.String(),
			"error", derr.Err)
		return res, derr
	}

	if d.tls13 || rec.ContentType == ContentTypeTLS12CID {
		inner, ctype, ok := stripInnerPlaintext(plaintext)
		if !ok {
			res.Status = StatusMalformed
			return res, decryptErr(StatusMalformed, ErrMalformed, "inner plaintext has no content type")
		}
		plaintext = inner
		res.ContentType = ctype
	}

	if d.compression != CompressionNull {
		if d.inflater == nil {
			res.Status = StatusDecompressFailed
			return res, decryptErr(StatusDecompressFailed, ErrDecompress, "compression method %d", d.compression)
		}
		out, err := d.inflater.inflate(plaintext)
		if err != nil {
			res.Status = StatusDecompressFailed
			return res, &DecryptError{Status: StatusDecompressFailed, Err: err}
		}
		plaintext = out
	}

	res.Plaintext = plaintext
	if d.unverified {
		res.Status = StatusMissingKeys
		return res, decryptErr(StatusMissingKeys, ErrMissingKeys, "NULL cipher record passed through, MAC not verified")
	}
	res.Status = StatusOK
	return res, nil
}

// advance moves the sequence number past seq.
func (d *Decoder) advance(seq uint64) {
	if seq+1 > d.seq {
		d.seq = seq + 1
	}
}

// decryptStream handles RC4 and NULL: keystream, then a trailing MAC.
func (rd *RecordDecryptor) decryptStream(d *Decoder, rec *Record, seq uint64) ([]byte, *DecryptError) {
	data, err := d.cipher.Decrypt(rec.Fragment, nil, nil)
	if err != nil {
		return nil, decryptErr(StatusMalformed, ErrMalformed, "%v", err)
	}
	if d.unverified {
		macLen := d.suite.MACLen()
		if len(data) < macLen {
			return nil, decryptErr(StatusMalformed, ErrMalformed, "record of %d bytes shorter than MAC", len(data))
		}
		return data[:len(data)-macLen], nil
	}
	if d.mac == nil {
		return data, nil
	}

	macLen := d.mac.Size()
	if len(data) < macLen {
		return nil, decryptErr(StatusMalformed, ErrMalformed, "record of %d bytes shorter than MAC", len(data))
	}
	content := data[:len(data)-macLen]
	tag := data[len(data)-macLen:]
	if !d.mac.Verify(d.pseudoHeader(rec, seq, len(content)), content, tag) {
		return content, decryptErr(StatusBadMAC, ErrBadMAC, "")
	}
	return content, nil
}

// decryptCBC handles block ciphers with MAC-then-encrypt or
// Encrypt-then-MAC, explicit (TLS 1.1+, DTLS) or chained (SSL 3.0, TLS 1.0)
// IVs.
func (rd *RecordDecryptor) decryptCBC(d *Decoder, rec *Record, seq uint64) ([]byte, *DecryptError) {
	bs := d.suite.BlockSize()
	macLen := 0
	if d.mac != nil {
		macLen = d.mac.Size()
	}

	frag := rec.Fragment
	ivLen := 0
	if d.explicitIV() {
		ivLen = bs
	}

	var etmTag []byte
	if d.etm && d.mac != nil {
		if len(frag) < ivLen+bs+macLen {
			return nil, decryptErr(StatusMalformed, ErrMalformed, "record of %d bytes too short for IV, block and MAC", len(frag))
		}
		etmTag = frag[len(frag)-macLen:]
		frag = frag[:len(frag)-macLen]
	}

	if len(frag) < ivLen+bs || (len(frag)-ivLen)%bs != 0 {
		return nil, decryptErr(StatusMalformed, ErrMalformed, "record of %d bytes is not IV plus whole blocks", len(rec.Fragment))
	}

	iv := d.iv
	ciphertext := frag
	if ivLen > 0 {
		iv = frag[:ivLen]
		ciphertext = frag[ivLen:]
	}

	macOK := true
	if etmTag != nil {
		macOK = d.mac.Verify(d.pseudoHeader(rec, seq, len(frag)), frag, etmTag)
		if !macOK && !rd.opts.IgnoreMAC {
			if ivLen == 0 {
				d.iv = ciphers.LastBlock(ciphertext, bs)
			}
			return nil, decryptErr(StatusBadMAC, ErrBadMAC, "encrypt-then-MAC")
		}
	}

	padded, err := d.cipher.Decrypt(ciphertext, iv, nil)
	if ivLen == 0 {
		d.iv = ciphers.LastBlock(ciphertext, bs)
	}
	if err != nil {
		return nil, decryptErr(StatusMalformed, ErrMalformed, "%v", err)
	}

	plaintext, err := ciphers.RemovePadding(padded, d.ssl3)
	if err != nil {
		return nil, decryptErr(StatusBadMAC, ErrBadMAC, "%v", err)
	}

	if etmTag != nil {
		if !macOK {
			return plaintext, decryptErr(StatusBadMAC, ErrBadMAC, "encrypt-then-MAC")
		}
		return plaintext, nil
	}
	if d.mac == nil {
		return plaintext, nil
	}

	if len(plaintext) < macLen {
		return nil, decryptErr(StatusBadMAC, ErrBadMAC, "record shorter than MAC")
	}
	content := plaintext[:len(plaintext)-macLen]
	tag := plaintext[len(plaintext)-macLen:]
	if !d.mac.Verify(d.pseudoHeader(rec, seq, len(content)), content, tag) {
		return content, decryptErr(StatusBadMAC, ErrBadMAC, "")
	}
	return content, nil
}

// decryptAEAD handles GCM, CCM, CCM_8 and ChaCha20-Poly1305 for every
// version. The nonce is salt(4)+explicit(8) for pre-1.3 GCM/CCM and
// iv(12) XOR seq otherwise.
func (rd *RecordDecryptor) decryptAEAD(d *Decoder, rec *Record, seq uint64) ([]byte, *DecryptError) {
	explicit := d.suite.ExplicitNonceLen()
	tagLen := d.suite.TagLen()
	frag := rec.Fragment
	if len(frag) < explicit+tagLen {
		return nil, decryptErr(StatusMalformed, ErrMalformed, "record of %d bytes shorter than nonce and tag", len(frag))
	}

	var nonce, aad []byte
	ciphertext := frag[explicit:]
	switch {
	case d.tls13:
		nonce = ciphers.XORNonce(d.iv, seq)
		aad = d.tls13AdditionalData(rec)
	case explicit > 0:
		nonce = ciphers.ImplicitNonce(d.iv, frag[:explicit])
		aad = d.pseudoHeader(rec, seq, len(ciphertext)-tagLen)
	default:
		nonce = ciphers.XORNonce(d.iv, d.macSeq(rec, seq))
		aad = d.pseudoHeader(rec, seq, len(ciphertext)-tagLen)
	}

	plaintext, err := d.cipher.Decrypt(ciphertext, nonce, aad)
	if err != nil {
		if errors.Is(err, ciphers.ErrAuthenticationFailed) {
			return nil, decryptErr(StatusAuthFailed, ErrAuthFailed, "")
		}
		return nil, decryptErr(StatusMalformed, ErrMalformed, "%v", err)
	}
	return plaintext, nil
}

// stripInnerPlaintext removes the zero padding of a TLS 1.3 or DTLS CID
// inner plaintext and returns the content and its real type.
func stripInnerPlaintext(p []byte) ([]byte, uint8, bool) {
	i := len(p) - 1
	for i >= 0 && p[i] == 0 {
		i--
	}
	if i < 0 {
		return nil, 0, false
	}
	return p[:i], p[i], true
}
