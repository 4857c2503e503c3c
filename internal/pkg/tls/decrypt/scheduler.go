package decrypt

import (
	"encoding/hex"
	"errors"

	"github.com/endorses/tlsdissect/internal/pkg/logger"
	"github.com/endorses/tlsdissect/internal/pkg/tls/keylog"
	"github.com/endorses/tlsdissect/internal/pkg/tls/secrets"
	"github.com/endorses/tlsdissect/internal/pkg/tls/suites"
)

// KeyScheduler turns cached secrets and handshake scalars into decoders.
type KeyScheduler struct {
	cache *secrets.Cache
	rsa   *RSAKeyring
	psk   []byte
}

// SchedulerOption configures a KeyScheduler.
type SchedulerOption func(*KeyScheduler)

// WithRSAKeys lets the scheduler decrypt RSA key exchanges.
func WithRSAKeys(keys *RSAKeyring) SchedulerOption {
	return func(ks *KeyScheduler) {
		ks.rsa = keys
	}
}

// WithPSK sets the pre-shared key used for plain PSK suites.
func WithPSK(psk []byte) SchedulerOption {
	return func(ks *KeyScheduler) {
		ks.psk = append([]byte(nil), psk...)
	}
}

// NewKeyScheduler creates a scheduler reading from cache.
func NewKeyScheduler(cache *secrets.Cache, opts ...SchedulerOption) *KeyScheduler {
	ks := &KeyScheduler{cache: cache}
	for _, opt := range opts {
		opt(ks)
	}
	return ks
}

// Cache returns the secret cache the scheduler reads.
func (ks *KeyScheduler) Cache() *secrets.Cache {
	return ks.cache
}

// Suite resolves the negotiated cipher suite of s.
func (ks *KeyScheduler) Suite(s *SessionState) (*suites.Descriptor, error) {
	suite, ok := suites.LookupForVersion(s.CipherSuite, s.Version)
	if !ok {
		if d, known := suites.Lookup(s.CipherSuite); known && d.IsTLS13() {
			return nil, keyErr(KindVersionMismatch, "%s negotiated for %s", d.Name, VersionName(s.Version))
		}
		return nil, keyErr(KindUnknownCipherSuite, "0x%04x for %s", s.CipherSuite, VersionName(s.Version))
	}
	return suite, nil
}

// DeriveMasterSecret returns the classic master secret of s, from the cache
// when a previous session (or the key log) provides it, otherwise from the
// pre-master secret. The result is stored in s and in the cache.
func (ks *KeyScheduler) DeriveMasterSecret(s *SessionState) ([]byte, error) {
	if s.IsTLS13() {
		return nil, keyErr(KindVersionMismatch, "%s has no master secret", VersionName(s.Version))
	}
	suite, err := ks.Suite(s)
	if err != nil {
		return nil, err
	}
	if len(s.MasterSecret) == MasterSecretLen {
		return s.MasterSecret, nil
	}

	if ms, ok := ks.lookupMaster(s); ok {
		s.MasterSecret = ms
		ks.remember(s)
		return ms, nil
	}

	pms, err := ks.preMaster(s, suite)
	if err != nil {
		return nil, err
	}

	var sessionHash []byte
	if s.ExtendedMasterSecret {
		sessionHash = SessionHash(s.Version, suite.PRFDigest(), s.Transcript())
	}
	ms, err := MasterSecret(s.Version, suite.PRFDigest(), pms, s.ClientRandom[:], s.ServerRandom[:], s.ExtendedMasterSecret, sessionHash)
	if err != nil {
		return nil, err
	}
	s.MasterSecret = ms
	ks.remember(s)
	return ms, nil
}

func (ks *KeyScheduler) lookupMaster(s *SessionState) ([]byte, bool) {
	if len(s.SessionID) > 0 {
		if ms, ok := ks.cache.Lookup(secrets.MapSessionID, s.SessionID); ok {
			return ms, true
		}
	}
	if len(s.SessionTicket) > 0 {
		if ms, ok := ks.cache.Lookup(secrets.MapTicket, s.SessionTicket); ok {
			return ms, true
		}
	}
	if s.HasClientRandom {
		if ms, ok := ks.cache.Lookup(secrets.MapClientRandom, s.ClientRandom[:]); ok {
			return ms, true
		}
	}
	return nil, false
}

func (ks *KeyScheduler) preMaster(s *SessionState, suite *suites.Descriptor) ([]byte, error) {
	if s.HasClientRandom {
		if pms, ok := ks.cache.Lookup(secrets.MapPMSClientRandom, s.ClientRandom[:]); ok {
			return pms, nil
		}
	}

	epms := s.EncryptedPreMaster
	if len(epms) >= 8 {
		if pms, ok := ks.cache.Lookup(secrets.MapPreMaster, epms[:8]); ok {
			return pms, nil
		}
		if ks.rsa != nil && ks.rsa.Len() > 0 && (suite.Kex == suites.KexRSA || suite.Kex == suites.KexRSAPSK) {
			pms, err := ks.rsa.DecryptPreMaster(s.ServerKeyID, epms)
			if err == nil {
				ks.cache.Insert(secrets.MapPreMaster, epms[:8], pms)
				return pms, nil
			}
			logger.Debug("RSA pre-master decryption failed",
				"key_id", hex.EncodeToString(s.ServerKeyID),
				"error", err)
		}
	}

	if suite.Kex == suites.KexPSK && len(ks.psk) > 0 {
		return PSKPreMaster(ks.psk), nil
	}
	return nil, keyErr(KindMissingSecret, "no master or pre-master secret for client random %s", hex.EncodeToString(s.ClientRandom[:]))
}

// remember stores the master secret of s under every key a later session
// may resume it by.
func (ks *KeyScheduler) remember(s *SessionState) {
	if len(s.MasterSecret) != MasterSecretLen {
		return
	}
	if s.HasClientRandom {
		ks.cache.Insert(secrets.MapClientRandom, s.ClientRandom[:], s.MasterSecret)
	}
	if len(s.SessionID) > 0 {
		ks.cache.Insert(secrets.MapSessionID, s.SessionID, s.MasterSecret)
	}
	if len(s.SessionTicket) > 0 {
		ks.cache.Insert(secrets.MapTicket, s.SessionTicket, s.MasterSecret)
	}
}

// RememberTicket records a NewSessionTicket and, once the master secret is
// known, makes it available for resumption.
func (ks *KeyScheduler) RememberTicket(s *SessionState, ticket []byte) {
	if len(ticket) == 0 {
		return
	}
	s.SetSessionTicket(ticket)
	ks.remember(s)
}

// ExpandKeyBlock derives the per-direction key material of s from master.
func (ks *KeyScheduler) ExpandKeyBlock(s *SessionState, master []byte) (*KeyMaterial, error) {
	suite, err := ks.Suite(s)
	if err != nil {
		return nil, err
	}
	return ExpandKeyMaterial(s.Version, suite, master, s.ClientRandom[:], s.ServerRandom[:])
}

// BuildClassicDecoders derives both decoders for the next ChangeCipherSpec.
// They are returned uninitialized.
func (ks *KeyScheduler) BuildClassicDecoders(s *SessionState) (client, server *Decoder, err error) {
	suite, err := ks.Suite(s)
	if err != nil {
		return nil, nil, err
	}
	if suite.IsTLS13() {
		return nil, nil, keyErr(KindVersionMismatch, "%s negotiated for %s", suite.Name, VersionName(s.Version))
	}
	ms, err := ks.DeriveMasterSecret(s)
	if err != nil {
		if suite.IsNull() && IsMissingSecret(err) {
			return ks.passthroughDecoders(s, suite)
		}
		return nil, nil, err
	}
	km, err := ks.ExpandKeyBlock(s, ms)
	if err != nil {
		return nil, nil, err
	}

	cfg := DecoderConfig{
		Suite:          suite,
		Version:        s.Version,
		Stage:          StageClassic,
		Compression:    s.Compression,
		EncryptThenMAC: s.EncryptThenMAC,
		CIDMode:        s.CIDMode,
	}

	ccfg := cfg
	ccfg.Key, ccfg.IV, ccfg.MACKey = km.ClientWriteKey, km.ClientWriteIV, km.ClientMACKey
	ccfg.Epoch = s.epoch[DirectionClient] + 1
	if client, err = NewDecoder(ccfg); err != nil {
		return nil, nil, err
	}

	scfg := cfg
	scfg.Key, scfg.IV, scfg.MACKey = km.ServerWriteKey, km.ServerWriteIV, km.ServerMACKey
	scfg.Epoch = s.epoch[DirectionServer] + 1
	if server, err = NewDecoder(scfg); err != nil {
		return nil, nil, err
	}

	logger.Debug("derived session keys",
		"cipher", suite.Name,
		"version", VersionName(s.Version),
		"ems", s.ExtendedMasterSecret,
		"etm", s.EncryptThenMAC)
	return client, server, nil
}

// passthroughDecoders builds the decoders of a NULL cipher session whose
// secrets are unknown. Records are readable; only their MACs go unchecked.
func (ks *KeyScheduler) passthroughDecoders(s *SessionState, suite *suites.Descriptor) (client, server *Decoder, err error) {
	cfg := DecoderConfig{
		Suite:       suite,
		Version:     s.Version,
		Stage:       StageClassic,
		Compression: s.Compression,
		CIDMode:     s.CIDMode,
		Unverified:  true,
	}
	ccfg, scfg := cfg, cfg
	ccfg.Epoch = s.epoch[DirectionClient] + 1
	scfg.Epoch = s.epoch[DirectionServer] + 1
	if client, err = NewDecoder(ccfg); err != nil {
		return nil, nil, err
	}
	if server, err = NewDecoder(scfg); err != nil {
		return nil, nil, err
	}
	logger.Debug("NULL cipher without secrets, MACs not verified",
		"cipher", suite.Name,
		"version", VersionName(s.Version))
	return client, server, nil
}

// TrafficLabel returns the key log label of the TLS 1.3 traffic secret that
// protects dir during stage.
func TrafficLabel(dir Direction, stage Stage) (keylog.LabelType, bool) {
	switch stage {
	case StageEarlyData:
		if dir == DirectionClient {
			return keylog.LabelClientEarlyTrafficSecret, true
		}
	case StageHandshake:
		if dir == DirectionClient {
			return keylog.LabelClientHandshakeTrafficSecret, true
		}
		return keylog.LabelServerHandshakeTrafficSecret, true
	case StageApplication:
		if dir == DirectionClient {
			return keylog.LabelClientTrafficSecret0, true
		}
		return keylog.LabelServerTrafficSecret0, true
	}
	return keylog.LabelUnknown, false
}

// DeriveTrafficSecret looks up the TLS 1.3 secret logged under label for the
// client random of s.
func (ks *KeyScheduler) DeriveTrafficSecret(s *SessionState, label keylog.LabelType) ([]byte, error) {
	if !s.IsTLS13() {
		return nil, keyErr(KindVersionMismatch, "traffic secret requested for %s", VersionName(s.Version))
	}
	id, ok := secrets.MapForLabel(label)
	if !ok || !label.IsTLS13() {
		return nil, keyErr(KindMissingSecret, "%s is not a traffic secret", label)
	}
	if !s.HasClientRandom {
		return nil, keyErr(KindMissingSecret, "%s: no client random", label)
	}
	secret, ok := ks.cache.Lookup(id, s.ClientRandom[:])
	if !ok {
		return nil, keyErr(KindMissingSecret, "%s for client random %s", label, hex.EncodeToString(s.ClientRandom[:]))
	}
	return secret, nil
}

// TrafficKeys expands a TLS 1.3 traffic secret into write key and IV.
func (ks *KeyScheduler) TrafficKeys(s *SessionState, secret []byte) (*TrafficKeys, error) {
	suite, err := ks.Suite(s)
	if err != nil {
		return nil, err
	}
	if !suite.IsTLS13() {
		return nil, keyErr(KindVersionMismatch, "%s is not a TLS 1.3 suite", suite.Name)
	}
	return DeriveTrafficKeys(suite, s.DraftVersion, secret)
}

// UpdateTrafficSecret computes the secret following a KeyUpdate.
func (ks *KeyScheduler) UpdateTrafficSecret(s *SessionState, secret []byte) ([]byte, error) {
	suite, err := ks.Suite(s)
	if err != nil {
		return nil, err
	}
	if !suite.IsTLS13() {
		return nil, keyErr(KindVersionMismatch, "%s is not a TLS 1.3 suite", suite.Name)
	}
	return NextTrafficSecret(suite, s.DraftVersion, secret), nil
}

// BuildTLS13Decoder derives the decoder protecting dir during stage.
func (ks *KeyScheduler) BuildTLS13Decoder(s *SessionState, dir Direction, stage Stage) (*Decoder, error) {
	label, ok := TrafficLabel(dir, stage)
	if !ok {
		return nil, keyErr(KindMissingSecret, "no %s traffic secret for the %s", stage, dir)
	}
	secret, err := ks.DeriveTrafficSecret(s, label)
	if err != nil {
		return nil, err
	}
	keys, err := ks.TrafficKeys(s, secret)
	if err != nil {
		return nil, err
	}
	suite, _ := ks.Suite(s)
	d, err := NewDecoder(DecoderConfig{
		Suite:        suite,
		Version:      s.Version,
		Key:          keys.Key,
		IV:           keys.IV,
		Secret:       secret,
		DraftVersion: s.DraftVersion,
		Stage:        stage,
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("derived traffic keys",
		"cipher", suite.Name,
		"direction", dir.String(),
		"stage", stage.String())
	return d, nil
}

// BuildDecoder builds the decoder of dir for stage, whatever the version.
func (ks *KeyScheduler) BuildDecoder(s *SessionState, dir Direction, stage Stage) (*Decoder, error) {
	if stage == StageClassic {
		client, server, err := ks.BuildClassicDecoders(s)
		if err != nil {
			return nil, err
		}
		if dir == DirectionClient {
			return client, nil
		}
		return server, nil
	}
	return ks.BuildTLS13Decoder(s, dir, stage)
}

// IsMissingSecret reports whether err means the secrets are not (yet)
// available, as opposed to a permanent failure.
func IsMissingSecret(err error) bool {
	return errors.Is(err, ErrMissingSecret)
}
