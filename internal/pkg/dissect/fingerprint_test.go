package dissect

import (
	"crypto/md5"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsGREASE(t *testing.T) {
	tests := []struct {
		v    uint16
		want bool
	}{
		{0x0a0a, true},
		{0x1a1a, true},
		{0xfafa, true},
		{0x0a1a, false},
		{0x1301, false},
		{0x0000, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isGREASE(tt.v), "0x%04x", tt.v)
	}
}

func TestJA3(t *testing.T) {
	ch := &ClientHello{
		Version:         0x0303,
		CipherSuites:    []uint16{0x0a0a, 4865, 49195},
		Extensions:      []uint16{0x1a1a, 0, 10, 11},
		SupportedGroups: []uint16{0x2a2a, 29, 23},
		ECPointFormats:  []uint8{0},
	}
	s, hash := JA3(ch)
	assert.Equal(t, "771,4865-49195,0-10-11,29-23,0", s)
	sum := md5.Sum([]byte(s))
	assert.Equal(t, hex.EncodeToString(sum[:]), hash)

	s, hash = JA3(nil)
	assert.Empty(t, s)
	assert.Empty(t, hash)
}

func TestJA3S(t *testing.T) {
	sh := &ServerHello{Version: 0x0303, CipherSuite: 0xc02f, Extensions: []uint16{65281, 0, 11}}
	s, hash := JA3S(sh)
	assert.Equal(t, "771,49199,65281-0-11", s)
	assert.Len(t, hash, 32)

	s, _ = JA3S(&ServerHello{Version: 0x0303, CipherSuite: 0x1301})
	assert.Equal(t, "771,4865,", s)
}
