package suites

import "sort"

// Protocol versions the registry needs to know about.
const (
	VersionSSL30  uint16 = 0x0300
	VersionTLS10  uint16 = 0x0301
	VersionTLS11  uint16 = 0x0302
	VersionTLS12  uint16 = 0x0303
	VersionDTLS10 uint16 = 0xfeff
	VersionDTLS12 uint16 = 0xfefd
)

var registry = map[uint16]*Descriptor{}

func reg(id uint16, name string, kex KeyExchange, bulk BulkCipher, digest Digest, mode Mode) {
	registry[id] = &Descriptor{
		ID:     id,
		Name:   name,
		Kex:    kex,
		Bulk:   bulk,
		Digest: digest,
		Mode:   mode,
		Export: exportSuites[id],
	}
}

// exportSuites is the fixed list of export-grade identifiers. RC2 members
// (0x0006, 0x0061) are listed for completeness but never registered.
var exportSuites = map[uint16]bool{
	0x0003: true, 0x0006: true, 0x0008: true, 0x000B: true,
	0x000E: true, 0x0011: true, 0x0014: true, 0x0017: true,
	0x0019: true, 0x0060: true, 0x0061: true, 0x0062: true,
	0x0063: true, 0x0064: true, 0x0065: true,
}

// IsExport reports whether id is one of the export-grade suites.
func IsExport(id uint16) bool {
	return exportSuites[id]
}

func init() {
	// NULL encryption
	reg(0x0000, "TLS_NULL_WITH_NULL_NULL", KexNull, BulkNull, DigestNone, ModeStream)
	reg(0x0001, "TLS_RSA_WITH_NULL_MD5", KexRSA, BulkNull, DigestMD5, ModeStream)
	reg(0x0002, "TLS_RSA_WITH_NULL_SHA", KexRSA, BulkNull, DigestSHA1, ModeStream)
	reg(0x002C, "TLS_PSK_WITH_NULL_SHA", KexPSK, BulkNull, DigestSHA1, ModeStream)
	reg(0x002D, "TLS_DHE_PSK_WITH_NULL_SHA", KexDHEPSK, BulkNull, DigestSHA1, ModeStream)
	reg(0x002E, "TLS_RSA_PSK_WITH_NULL_SHA", KexRSAPSK, BulkNull, DigestSHA1, ModeStream)
	reg(0x003B, "TLS_RSA_WITH_NULL_SHA256", KexRSA, BulkNull, DigestSHA256, ModeStream)
	reg(0x00B0, "TLS_PSK_WITH_NULL_SHA256", KexPSK, BulkNull, DigestSHA256, ModeStream)
	reg(0x00B1, "TLS_PSK_WITH_NULL_SHA384", KexPSK, BulkNull, DigestSHA384, ModeStream)
	reg(0x00B4, "TLS_DHE_PSK_WITH_NULL_SHA256", KexDHEPSK, BulkNull, DigestSHA256, ModeStream)
	reg(0x00B5, "TLS_DHE_PSK_WITH_NULL_SHA384", KexDHEPSK, BulkNull, DigestSHA384, ModeStream)
	reg(0x00B8, "TLS_RSA_PSK_WITH_NULL_SHA256", KexRSAPSK, BulkNull, DigestSHA256, ModeStream)
	reg(0x00B9, "TLS_RSA_PSK_WITH_NULL_SHA384", KexRSAPSK, BulkNull, DigestSHA384, ModeStream)
	reg(0xC001, "TLS_ECDH_ECDSA_WITH_NULL_SHA", KexECDH, BulkNull, DigestSHA1, ModeStream)
	reg(0xC006, "TLS_ECDHE_ECDSA_WITH_NULL_SHA", KexECDHE, BulkNull, DigestSHA1, ModeStream)
	reg(0xC00B, "TLS_ECDH_RSA_WITH_NULL_SHA", KexECDH, BulkNull, DigestSHA1, ModeStream)
	reg(0xC010, "TLS_ECDHE_RSA_WITH_NULL_SHA", KexECDHE, BulkNull, DigestSHA1, ModeStream)
	reg(0xC015, "TLS_ECDH_anon_WITH_NULL_SHA", KexECDHAnon, BulkNull, DigestSHA1, ModeStream)
	reg(0xC039, "TLS_ECDHE_PSK_WITH_NULL_SHA", KexECDHEPSK, BulkNull, DigestSHA1, ModeStream)
	reg(0xC03A, "TLS_ECDHE_PSK_WITH_NULL_SHA256", KexECDHEPSK, BulkNull, DigestSHA256, ModeStream)
	reg(0xC03B, "TLS_ECDHE_PSK_WITH_NULL_SHA384", KexECDHEPSK, BulkNull, DigestSHA384, ModeStream)

	// RC4
	reg(0x0003, "TLS_RSA_EXPORT_WITH_RC4_40_MD5", KexRSA, BulkRC4_40, DigestMD5, ModeStream)
	reg(0x0004, "TLS_RSA_WITH_RC4_128_MD5", KexRSA, BulkRC4_128, DigestMD5, ModeStream)
	reg(0x0005, "TLS_RSA_WITH_RC4_128_SHA", KexRSA, BulkRC4_128, DigestSHA1, ModeStream)
	reg(0x0017, "TLS_DH_anon_EXPORT_WITH_RC4_40_MD5", KexDHAnon, BulkRC4_40, DigestMD5, ModeStream)
	reg(0x0018, "TLS_DH_anon_WITH_RC4_128_MD5", KexDHAnon, BulkRC4_128, DigestMD5, ModeStream)
	reg(0x0060, "TLS_RSA_EXPORT1024_WITH_RC4_56_MD5", KexRSA, BulkRC4_56, DigestMD5, ModeStream)
	reg(0x0064, "TLS_RSA_EXPORT1024_WITH_RC4_56_SHA", KexRSA, BulkRC4_56, DigestSHA1, ModeStream)
	reg(0x0065, "TLS_DHE_DSS_EXPORT1024_WITH_RC4_56_SHA", KexDHE, BulkRC4_56, DigestSHA1, ModeStream)
	reg(0x0066, "TLS_DHE_DSS_WITH_RC4_128_SHA", KexDHE, BulkRC4_128, DigestSHA1, ModeStream)
	reg(0x008A, "TLS_PSK_WITH_RC4_128_SHA", KexPSK, BulkRC4_128, DigestSHA1, ModeStream)
	reg(0x008E, "TLS_DHE_PSK_WITH_RC4_128_SHA", KexDHEPSK, BulkRC4_128, DigestSHA1, ModeStream)
	reg(0x0092, "TLS_RSA_PSK_WITH_RC4_128_SHA", KexRSAPSK, BulkRC4_128, DigestSHA1, ModeStream)
	reg(0xC002, "TLS_ECDH_ECDSA_WITH_RC4_128_SHA", KexECDH, BulkRC4_128, DigestSHA1, ModeStream)
	reg(0xC007, "TLS_ECDHE_ECDSA_WITH_RC4_128_SHA", KexECDHE, BulkRC4_128, DigestSHA1, ModeStream)
	reg(0xC00C, "TLS_ECDH_RSA_WITH_RC4_128_SHA", KexECDH, BulkRC4_128, DigestSHA1, ModeStream)
	reg(0xC011, "TLS_ECDHE_RSA_WITH_RC4_128_SHA", KexECDHE, BulkRC4_128, DigestSHA1, ModeStream)
	reg(0xC016, "TLS_ECDH_anon_WITH_RC4_128_SHA", KexECDHAnon, BulkRC4_128, DigestSHA1, ModeStream)
	reg(0xC033, "TLS_ECDHE_PSK_WITH_RC4_128_SHA", KexECDHEPSK, BulkRC4_128, DigestSHA1, ModeStream)

	// DES and export DES
	reg(0x0008, "TLS_RSA_EXPORT_WITH_DES40_CBC_SHA", KexRSA, BulkDES40, DigestSHA1, ModeCBC)
	reg(0x0009, "TLS_RSA_WITH_DES_CBC_SHA", KexRSA, BulkDES, DigestSHA1, ModeCBC)
	reg(0x000B, "TLS_DH_DSS_EXPORT_WITH_DES40_CBC_SHA", KexDH, BulkDES40, DigestSHA1, ModeCBC)
	reg(0x000C, "TLS_DH_DSS_WITH_DES_CBC_SHA", KexDH, BulkDES, DigestSHA1, ModeCBC)
	reg(0x000E, "TLS_DH_RSA_EXPORT_WITH_DES40_CBC_SHA", KexDH, BulkDES40, DigestSHA1, ModeCBC)
	reg(0x000F, "TLS_DH_RSA_WITH_DES_CBC_SHA", KexDH, BulkDES, DigestSHA1, ModeCBC)
	reg(0x0011, "TLS_DHE_DSS_EXPORT_WITH_DES40_CBC_SHA", KexDHE, BulkDES40, DigestSHA1, ModeCBC)
	reg(0x0012, "TLS_DHE_DSS_WITH_DES_CBC_SHA", KexDHE, BulkDES, DigestSHA1, ModeCBC)
	reg(0x0014, "TLS_DHE_RSA_EXPORT_WITH_DES40_CBC_SHA", KexDHE, BulkDES40, DigestSHA1, ModeCBC)
	reg(0x0015, "TLS_DHE_RSA_WITH_DES_CBC_SHA", KexDHE, BulkDES, DigestSHA1, ModeCBC)
	reg(0x0019, "TLS_DH_anon_EXPORT_WITH_DES40_CBC_SHA", KexDHAnon, BulkDES40, DigestSHA1, ModeCBC)
	reg(0x001A, "TLS_DH_anon_WITH_DES_CBC_SHA", KexDHAnon, BulkDES, DigestSHA1, ModeCBC)
	reg(0x0062, "TLS_RSA_EXPORT1024_WITH_DES_CBC_SHA", KexRSA, BulkDES, DigestSHA1, ModeCBC)
	reg(0x0063, "TLS_DHE_DSS_EXPORT1024_WITH_DES_CBC_SHA", KexDHE, BulkDES, DigestSHA1, ModeCBC)

	// 3DES
	reg(0x000A, "TLS_RSA_WITH_3DES_EDE_CBC_SHA", KexRSA, Bulk3DES, DigestSHA1, ModeCBC)
	reg(0x000D, "TLS_DH_DSS_WITH_3DES_EDE_CBC_SHA", KexDH, Bulk3DES, DigestSHA1, ModeCBC)
	reg(0x0010, "TLS_DH_RSA_WITH_3DES_EDE_CBC_SHA", KexDH, Bulk3DES, DigestSHA1, ModeCBC)
	reg(0x0013, "TLS_DHE_DSS_WITH_3DES_EDE_CBC_SHA", KexDHE, Bulk3DES, DigestSHA1, ModeCBC)
	reg(0x0016, "TLS_DHE_RSA_WITH_3DES_EDE_CBC_SHA", KexDHE, Bulk3DES, DigestSHA1, ModeCBC)
	reg(0x001B, "TLS_DH_anon_WITH_3DES_EDE_CBC_SHA", KexDHAnon, Bulk3DES, DigestSHA1, ModeCBC)
	reg(0x008B, "TLS_PSK_WITH_3DES_EDE_CBC_SHA", KexPSK, Bulk3DES, DigestSHA1, ModeCBC)
	reg(0x008F, "TLS_DHE_PSK_WITH_3DES_EDE_CBC_SHA", KexDHEPSK, Bulk3DES, DigestSHA1, ModeCBC)
	reg(0x0093, "TLS_RSA_PSK_WITH_3DES_EDE_CBC_SHA", KexRSAPSK, Bulk3DES, DigestSHA1, ModeCBC)
	reg(0xC003, "TLS_ECDH_ECDSA_WITH_3DES_EDE_CBC_SHA", KexECDH, Bulk3DES, DigestSHA1, ModeCBC)
	reg(0xC008, "TLS_ECDHE_ECDSA_WITH_3DES_EDE_CBC_SHA", KexECDHE, Bulk3DES, DigestSHA1, ModeCBC)
	reg(0xC00D, "TLS_ECDH_RSA_WITH_3DES_EDE_CBC_SHA", KexECDH, Bulk3DES, DigestSHA1, ModeCBC)
	reg(0xC012, "TLS_ECDHE_RSA_WITH_3DES_EDE_CBC_SHA", KexECDHE, Bulk3DES, DigestSHA1, ModeCBC)
	reg(0xC017, "TLS_ECDH_anon_WITH_3DES_EDE_CBC_SHA", KexECDHAnon, Bulk3DES, DigestSHA1, ModeCBC)
	reg(0xC034, "TLS_ECDHE_PSK_WITH_3DES_EDE_CBC_SHA", KexECDHEPSK, Bulk3DES, DigestSHA1, ModeCBC)

	// AES-CBC with SHA-1
	reg(0x002F, "TLS_RSA_WITH_AES_128_CBC_SHA", KexRSA, BulkAES128, DigestSHA1, ModeCBC)
	reg(0x0030, "TLS_DH_DSS_WITH_AES_128_CBC_SHA", KexDH, BulkAES128, DigestSHA1, ModeCBC)
	reg(0x0031, "TLS_DH_RSA_WITH_AES_128_CBC_SHA", KexDH, BulkAES128, DigestSHA1, ModeCBC)
	reg(0x0032, "TLS_DHE_DSS_WITH_AES_128_CBC_SHA", KexDHE, BulkAES128, DigestSHA1, ModeCBC)
	reg(0x0033, "TLS_DHE_RSA_WITH_AES_128_CBC_SHA", KexDHE, BulkAES128, DigestSHA1, ModeCBC)
	reg(0x0034, "TLS_DH_anon_WITH_AES_128_CBC_SHA", KexDHAnon, BulkAES128, DigestSHA1, ModeCBC)
	reg(0x0035, "TLS_RSA_WITH_AES_256_CBC_SHA", KexRSA, BulkAES256, DigestSHA1, ModeCBC)
	reg(0x0036, "TLS_DH_DSS_WITH_AES_256_CBC_SHA", KexDH, BulkAES256, DigestSHA1, ModeCBC)
	reg(0x0037, "TLS_DH_RSA_WITH_AES_256_CBC_SHA", KexDH, BulkAES256, DigestSHA1, ModeCBC)
	reg(0x0038, "TLS_DHE_DSS_WITH_AES_256_CBC_SHA", KexDHE, BulkAES256, DigestSHA1, ModeCBC)
	reg(0x0039, "TLS_DHE_RSA_WITH_AES_256_CBC_SHA", KexDHE, BulkAES256, DigestSHA1, ModeCBC)
	reg(0x003A, "TLS_DH_anon_WITH_AES_256_CBC_SHA", KexDHAnon, BulkAES256, DigestSHA1, ModeCBC)
	reg(0x008C, "TLS_PSK_WITH_AES_128_CBC_SHA", KexPSK, BulkAES128, DigestSHA1, ModeCBC)
	reg(0x008D, "TLS_PSK_WITH_AES_256_CBC_SHA", KexPSK, BulkAES256, DigestSHA1, ModeCBC)
	reg(0x0090, "TLS_DHE_PSK_WITH_AES_128_CBC_SHA", KexDHEPSK, BulkAES128, DigestSHA1, ModeCBC)
	reg(0x0091, "TLS_DHE_PSK_WITH_AES_256_CBC_SHA", KexDHEPSK, BulkAES256, DigestSHA1, ModeCBC)
	reg(0x0094, "TLS_RSA_PSK_WITH_AES_128_CBC_SHA", KexRSAPSK, BulkAES128, DigestSHA1, ModeCBC)
	reg(0x0095, "TLS_RSA_PSK_WITH_AES_256_CBC_SHA", KexRSAPSK, BulkAES256, DigestSHA1, ModeCBC)
	reg(0xC004, "TLS_ECDH_ECDSA_WITH_AES_128_CBC_SHA", KexECDH, BulkAES128, DigestSHA1, ModeCBC)
	reg(0xC005, "TLS_ECDH_ECDSA_WITH_AES_256_CBC_SHA", KexECDH, BulkAES256, DigestSHA1, ModeCBC)
	reg(0xC009, "TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA", KexECDHE, BulkAES128, DigestSHA1, ModeCBC)
	reg(0xC00A, "TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA", KexECDHE, BulkAES256, DigestSHA1, ModeCBC)
	reg(0xC00E, "TLS_ECDH_RSA_WITH_AES_128_CBC_SHA", KexECDH, BulkAES128, DigestSHA1, ModeCBC)
	reg(0xC00F, "TLS_ECDH_RSA_WITH_AES_256_CBC_SHA", KexECDH, BulkAES256, DigestSHA1, ModeCBC)
	reg(0xC013, "TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA", KexECDHE, BulkAES128, DigestSHA1, ModeCBC)
	reg(0xC014, "TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA", KexECDHE, BulkAES256, DigestSHA1, ModeCBC)
	reg(0xC018, "TLS_ECDH_anon_WITH_AES_128_CBC_SHA", KexECDHAnon, BulkAES128, DigestSHA1, ModeCBC)
	reg(0xC019, "TLS_ECDH_anon_WITH_AES_256_CBC_SHA", KexECDHAnon, BulkAES256, DigestSHA1, ModeCBC)
	reg(0xC035, "TLS_ECDHE_PSK_WITH_AES_128_CBC_SHA", KexECDHEPSK, BulkAES128, DigestSHA1, ModeCBC)
	reg(0xC036, "TLS_ECDHE_PSK_WITH_AES_256_CBC_SHA", KexECDHEPSK, BulkAES256, DigestSHA1, ModeCBC)

	// AES-CBC with SHA-2
	reg(0x003C, "TLS_RSA_WITH_AES_128_CBC_SHA256", KexRSA, BulkAES128, DigestSHA256, ModeCBC)
	reg(0x003D, "TLS_RSA_WITH_AES_256_CBC_SHA256", KexRSA, BulkAES256, DigestSHA256, ModeCBC)
	reg(0x003E, "TLS_DH_DSS_WITH_AES_128_CBC_SHA256", KexDH, BulkAES128, DigestSHA256, ModeCBC)
	reg(0x003F, "TLS_DH_RSA_WITH_AES_128_CBC_SHA256", KexDH, BulkAES128, DigestSHA256, ModeCBC)
	reg(0x0040, "TLS_DHE_DSS_WITH_AES_128_CBC_SHA256", KexDHE, BulkAES128, DigestSHA256, ModeCBC)
	reg(0x0067, "TLS_DHE_RSA_WITH_AES_128_CBC_SHA256", KexDHE, BulkAES128, DigestSHA256, ModeCBC)
	reg(0x0068, "TLS_DH_DSS_WITH_AES_256_CBC_SHA256", KexDH, BulkAES256, DigestSHA256, ModeCBC)
	reg(0x0069, "TLS_DH_RSA_WITH_AES_256_CBC_SHA256", KexDH, BulkAES256, DigestSHA256, ModeCBC)
	reg(0x006A, "TLS_DHE_DSS_WITH_AES_256_CBC_SHA256", KexDHE, BulkAES256, DigestSHA256, ModeCBC)
	reg(0x006B, "TLS_DHE_RSA_WITH_AES_256_CBC_SHA256", KexDHE, BulkAES256, DigestSHA256, ModeCBC)
	reg(0x006C, "TLS_DH_anon_WITH_AES_128_CBC_SHA256", KexDHAnon, BulkAES128, DigestSHA256, ModeCBC)
	reg(0x006D, "TLS_DH_anon_WITH_AES_256_CBC_SHA256", KexDHAnon, BulkAES256, DigestSHA256, ModeCBC)
	reg(0x00AE, "TLS_PSK_WITH_AES_128_CBC_SHA256", KexPSK, BulkAES128, DigestSHA256, ModeCBC)
	reg(0x00AF, "TLS_PSK_WITH_AES_256_CBC_SHA384", KexPSK, BulkAES256, DigestSHA384, ModeCBC)
	reg(0x00B2, "TLS_DHE_PSK_WITH_AES_128_CBC_SHA256", KexDHEPSK, BulkAES128, DigestSHA256, ModeCBC)
	reg(0x00B3, "TLS_DHE_PSK_WITH_AES_256_CBC_SHA384", KexDHEPSK, BulkAES256, DigestSHA384, ModeCBC)
	reg(0x00B6, "TLS_RSA_PSK_WITH_AES_128_CBC_SHA256", KexRSAPSK, BulkAES128, DigestSHA256, ModeCBC)
	reg(0x00B7, "TLS_RSA_PSK_WITH_AES_256_CBC_SHA384", KexRSAPSK, BulkAES256, DigestSHA384, ModeCBC)
	reg(0xC023, "TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA256", KexECDHE, BulkAES128, DigestSHA256, ModeCBC)
	reg(0xC024, "TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA384", KexECDHE, BulkAES256, DigestSHA384, ModeCBC)
	reg(0xC025, "TLS_ECDH_ECDSA_WITH_AES_128_CBC_SHA256", KexECDH, BulkAES128, DigestSHA256, ModeCBC)
	reg(0xC026, "TLS_ECDH_ECDSA_WITH_AES_256_CBC_SHA384", KexECDH, BulkAES256, DigestSHA384, ModeCBC)
	reg(0xC027, "TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA256", KexECDHE, BulkAES128, DigestSHA256, ModeCBC)
	reg(0xC028, "TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA384", KexECDHE, BulkAES256, DigestSHA384, ModeCBC)
	reg(0xC029, "TLS_ECDH_RSA_WITH_AES_128_CBC_SHA256", KexECDH, BulkAES128, DigestSHA256, ModeCBC)
	reg(0xC02A, "TLS_ECDH_RSA_WITH_AES_256_CBC_SHA384", KexECDH, BulkAES256, DigestSHA384, ModeCBC)
	reg(0xC037, "TLS_ECDHE_PSK_WITH_AES_128_CBC_SHA256", KexECDHEPSK, BulkAES128, DigestSHA256, ModeCBC)
	reg(0xC038, "TLS_ECDHE_PSK_WITH_AES_256_CBC_SHA384", KexECDHEPSK, BulkAES256, DigestSHA384, ModeCBC)

	// AES-GCM
	reg(0x009C, "TLS_RSA_WITH_AES_128_GCM_SHA256", KexRSA, BulkAES128, DigestSHA256, ModeGCM)
	reg(0x009D, "TLS_RSA_WITH_AES_256_GCM_SHA384", KexRSA, BulkAES256, DigestSHA384, ModeGCM)
	reg(0x009E, "TLS_DHE_RSA_WITH_AES_128_GCM_SHA256", KexDHE, BulkAES128, DigestSHA256, ModeGCM)
	reg(0x009F, "TLS_DHE_RSA_WITH_AES_256_GCM_SHA384", KexDHE, BulkAES256, DigestSHA384, ModeGCM)
	reg(0x00A0, "TLS_DH_RSA_WITH_AES_128_GCM_SHA256", KexDH, BulkAES128, DigestSHA256, ModeGCM)
	reg(0x00A1, "TLS_DH_RSA_WITH_AES_256_GCM_SHA384", KexDH, BulkAES256, DigestSHA384, ModeGCM)
	reg(0x00A2, "TLS_DHE_DSS_WITH_AES_128_GCM_SHA256", KexDHE, BulkAES128, DigestSHA256, ModeGCM)
	reg(0x00A3, "TLS_DHE_DSS_WITH_AES_256_GCM_SHA384", KexDHE, BulkAES256, DigestSHA384, ModeGCM)
	reg(0x00A4, "TLS_DH_DSS_WITH_AES_128_GCM_SHA256", KexDH, BulkAES128, DigestSHA256, ModeGCM)
	reg(0x00A5, "TLS_DH_DSS_WITH_AES_256_GCM_SHA384", KexDH, BulkAES256, DigestSHA384, ModeGCM)
	reg(0x00A6, "TLS_DH_anon_WITH_AES_128_GCM_SHA256", KexDHAnon, BulkAES128, DigestSHA256, ModeGCM)
	reg(0x00A7, "TLS_DH_anon_WITH_AES_256_GCM_SHA384", KexDHAnon, BulkAES256, DigestSHA384, ModeGCM)
	reg(0x00A8, "TLS_PSK_WITH_AES_128_GCM_SHA256", KexPSK, BulkAES128, DigestSHA256, ModeGCM)
	reg(0x00A9, "TLS_PSK_WITH_AES_256_GCM_SHA384", KexPSK, BulkAES256, DigestSHA384, ModeGCM)
	reg(0x00AA, "TLS_DHE_PSK_WITH_AES_128_GCM_SHA256", KexDHEPSK, BulkAES128, DigestSHA256, ModeGCM)
	reg(0x00AB, "TLS_DHE_PSK_WITH_AES_256_GCM_SHA384", KexDHEPSK, BulkAES256, DigestSHA384, ModeGCM)
	reg(0x00AC, "TLS_RSA_PSK_WITH_AES_128_GCM_SHA256", KexRSAPSK, BulkAES128, DigestSHA256, ModeGCM)
	reg(0x00AD, "TLS_RSA_PSK_WITH_AES_256_GCM_SHA384", KexRSAPSK, BulkAES256, DigestSHA384, ModeGCM)
	reg(0xC02B, "TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256", KexECDHE, BulkAES128, DigestSHA256, ModeGCM)
	reg(0xC02C, "TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384", KexECDHE, BulkAES256, DigestSHA384, ModeGCM)
	reg(0xC02D, "TLS_ECDH_ECDSA_WITH_AES_128_GCM_SHA256", KexECDH, BulkAES128, DigestSHA256, ModeGCM)
	reg(0xC02E, "TLS_ECDH_ECDSA_WITH_AES_256_GCM_SHA384", KexECDH, BulkAES256, DigestSHA384, ModeGCM)
	reg(0xC02F, "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256", KexECDHE, BulkAES128, DigestSHA256, ModeGCM)
	reg(0xC030, "TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384", KexECDHE, BulkAES256, DigestSHA384, ModeGCM)
	reg(0xC031, "TLS_ECDH_RSA_WITH_AES_128_GCM_SHA256", KexECDH, BulkAES128, DigestSHA256, ModeGCM)
	reg(0xC032, "TLS_ECDH_RSA_WITH_AES_256_GCM_SHA384", KexECDH, BulkAES256, DigestSHA384, ModeGCM)
	reg(0xD001, "TLS_ECDHE_PSK_WITH_AES_128_GCM_SHA256", KexECDHEPSK, BulkAES128, DigestSHA256, ModeGCM)
	reg(0xD002, "TLS_ECDHE_PSK_WITH_AES_256_GCM_SHA384", KexECDHEPSK, BulkAES256, DigestSHA384, ModeGCM)

	// AES-CCM
	reg(0xC09C, "TLS_RSA_WITH_AES_128_CCM", KexRSA, BulkAES128, DigestSHA256, ModeCCM)
	reg(0xC09D, "TLS_RSA_WITH_AES_256_CCM", KexRSA, BulkAES256, DigestSHA256, ModeCCM)
	reg(0xC09E, "TLS_DHE_RSA_WITH_AES_128_CCM", KexDHE, BulkAES128, DigestSHA256, ModeCCM)
	reg(0xC09F, "TLS_DHE_RSA_WITH_AES_256_CCM", KexDHE, BulkAES256, DigestSHA256, ModeCCM)
	reg(0xC0A0, "TLS_RSA_WITH_AES_128_CCM_8", KexRSA, BulkAES128, DigestSHA256, ModeCCM8)
	reg(0xC0A1, "TLS_RSA_WITH_AES_256_CCM_8", KexRSA, BulkAES256, DigestSHA256, ModeCCM8)
	reg(0xC0A2, "TLS_DHE_RSA_WITH_AES_128_CCM_8", KexDHE, BulkAES128, DigestSHA256, ModeCCM8)
	reg(0xC0A3, "TLS_DHE_RSA_WITH_AES_256_CCM_8", KexDHE, BulkAES256, DigestSHA256, ModeCCM8)
	reg(0xC0A4, "TLS_PSK_WITH_AES_128_CCM", KexPSK, BulkAES128, DigestSHA256, ModeCCM)
	reg(0xC0A5, "TLS_PSK_WITH_AES_256_CCM", KexPSK, BulkAES256, DigestSHA256, ModeCCM)
	reg(0xC0A6, "TLS_DHE_PSK_WITH_AES_128_CCM", KexDHEPSK, BulkAES128, DigestSHA256, ModeCCM)
	reg(0xC0A7, "TLS_DHE_PSK_WITH_AES_256_CCM", KexDHEPSK, BulkAES256, DigestSHA256, ModeCCM)
	reg(0xC0A8, "TLS_PSK_WITH_AES_128_CCM_8", KexPSK, BulkAES128, DigestSHA256, ModeCCM8)
	reg(0xC0A9, "TLS_PSK_WITH_AES_256_CCM_8", KexPSK, BulkAES256, DigestSHA256, ModeCCM8)
	reg(0xC0AA, "TLS_PSK_DHE_WITH_AES_128_CCM_8", KexDHEPSK, BulkAES128, DigestSHA256, ModeCCM8)
	reg(0xC0AB, "TLS_PSK_DHE_WITH_AES_256_CCM_8", KexDHEPSK, BulkAES256, DigestSHA256, ModeCCM8)
	reg(0xC0AC, "TLS_ECDHE_ECDSA_WITH_AES_128_CCM", KexECDHE, BulkAES128, DigestSHA256, ModeCCM)
	reg(0xC0AD, "TLS_ECDHE_ECDSA_WITH_AES_256_CCM", KexECDHE, BulkAES256, DigestSHA256, ModeCCM)
	reg(0xC0AE, "TLS_ECDHE_ECDSA_WITH_AES_128_CCM_8", KexECDHE, BulkAES128, DigestSHA256, ModeCCM8)
	reg(0xC0AF, "TLS_ECDHE_ECDSA_WITH_AES_256_CCM_8", KexECDHE, BulkAES256, DigestSHA256, ModeCCM8)
	reg(0xD003, "TLS_ECDHE_PSK_WITH_AES_128_CCM_8_SHA256", KexECDHEPSK, BulkAES128, DigestSHA256, ModeCCM8)
	reg(0xD005, "TLS_ECDHE_PSK_WITH_AES_128_CCM_SHA256", KexECDHEPSK, BulkAES128, DigestSHA256, ModeCCM)

	// ChaCha20-Poly1305
	reg(0xCCA8, "TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256", KexECDHE, BulkChaCha20, DigestSHA256, ModeChaCha20Poly1305)
	reg(0xCCA9, "TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256", KexECDHE, BulkChaCha20, DigestSHA256, ModeChaCha20Poly1305)
	reg(0xCCAA, "TLS_DHE_RSA_WITH_CHACHA20_POLY1305_SHA256", KexDHE, BulkChaCha20, DigestSHA256, ModeChaCha20Poly1305)
	reg(0xCCAB, "TLS_PSK_WITH_CHACHA20_POLY1305_SHA256", KexPSK, BulkChaCha20, DigestSHA256, ModeChaCha20Poly1305)
	reg(0xCCAC, "TLS_ECDHE_PSK_WITH_CHACHA20_POLY1305_SHA256", KexECDHEPSK, BulkChaCha20, DigestSHA256, ModeChaCha20Poly1305)
	reg(0xCCAD, "TLS_DHE_PSK_WITH_CHACHA20_POLY1305_SHA256", KexDHEPSK, BulkChaCha20, DigestSHA256, ModeChaCha20Poly1305)
	reg(0xCCAE, "TLS_RSA_PSK_WITH_CHACHA20_POLY1305_SHA256", KexRSAPSK, BulkChaCha20, DigestSHA256, ModeChaCha20Poly1305)

	// TLS 1.3
	reg(0x1301, "TLS_AES_128_GCM_SHA256", KexTLS13, BulkAES128, DigestSHA256, ModeGCM)
	reg(0x1302, "TLS_AES_256_GCM_SHA384", KexTLS13, BulkAES256, DigestSHA384, ModeGCM)
	reg(0x1303, "TLS_CHACHA20_POLY1305_SHA256", KexTLS13, BulkChaCha20, DigestSHA256, ModeChaCha20Poly1305)
	reg(0x1304, "TLS_AES_128_CCM_SHA256", KexTLS13, BulkAES128, DigestSHA256, ModeCCM)
	reg(0x1305, "TLS_AES_128_CCM_8_SHA256", KexTLS13, BulkAES128, DigestSHA256, ModeCCM8)
}

// Lookup returns the descriptor registered for id.
func Lookup(id uint16) (*Descriptor, bool) {
	d, ok := registry[id]
	return d, ok
}

// LookupForVersion is Lookup restricted to suites usable with version.
// SSL 3.0 only defines MD5 and SHA-1 MACs, so suites built on SHA-2 digests
// or AEAD modes are rejected there. TLS 1.3 suites are rejected for every
// version that predates it.
func LookupForVersion(id, version uint16) (*Descriptor, bool) {
	d, ok := registry[id]
	if !ok {
		return nil, false
	}
	if d.IsTLS13() && isClassicVersion(version) {
		return nil, false
	}
	if version == VersionSSL30 {
		if d.Mode.IsAEAD() {
			return nil, false
		}
		switch d.Digest {
		case DigestNone, DigestMD5, DigestSHA1:
		default:
			return nil, false
		}
	}
	return d, true
}

func isClassicVersion(v uint16) bool {
	switch v {
	case VersionSSL30, VersionTLS10, VersionTLS11, VersionTLS12, VersionDTLS10, VersionDTLS12:
		return true
	}
	return false
}

// All returns every registered descriptor ordered by identifier.
func All() []*Descriptor {
	out := make([]*Descriptor, 0, len(registry))
	for _, d := range registry {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Name returns the suite name, or "UNKNOWN".
func Name(id uint16) string {
	if d, ok := registry[id]; ok {
		return d.Name
	}
	return "UNKNOWN"
}
