package dissect

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// isGREASE reports whether v is a GREASE value (RFC 8701), which
// fingerprints ignore.
func isGREASE(v uint16) bool {
	return v&0x0f0f == 0x0a0a && v>>8 == v&0xff
}

// JA3 returns the JA3 string and hash of a ClientHello:
//
//	MD5(SSLVersion,Ciphers,Extensions,EllipticCurves,EllipticCurveFormats)
func JA3(ch *ClientHello) (ja3String, ja3Hash string) {
	if ch == nil {
		return "", ""
	}
	formats := make([]string, 0, len(ch.ECPointFormats))
	for _, f := range ch.ECPointFormats {
		formats = append(formats, strconv.Itoa(int(f)))
	}
	ja3String = fmt.Sprintf("%d,%s,%s,%s,%s",
		ch.Version,
		joinValues(ch.CipherSuites),
		joinValues(ch.Extensions),
		joinValues(ch.SupportedGroups),
		strings.Join(formats, "-"))
	return ja3String, md5Hex(ja3String)
}

// JA3S returns the JA3S string and hash of a ServerHello:
//
//	MD5(SSLVersion,Cipher,Extensions)
func JA3S(sh *ServerHello) (ja3sString, ja3sHash string) {
	if sh == nil {
		return "", ""
	}
	ja3sString = fmt.Sprintf("%d,%d,%s", sh.Version, sh.CipherSuite, joinValues(sh.Extensions))
	return ja3sString, md5Hex(ja3sString)
}

// joinValues joins the non-GREASE values with dashes.
func joinValues(values []uint16) string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !isGREASE(v) {
			out = append(out, strconv.Itoa(int(v)))
		}
	}
	return strings.Join(out, "-")
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
