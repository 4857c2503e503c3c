package decrypt

import (
	"github.com/endorses/tlsdissect/internal/pkg/logger"
)

// RetryHandler receives the outcome of a buffered record replayed by
// RetryPending. It runs before the next buffered record is decrypted, so it
// may drive cipher changes (ChangeCipherSpec, EnterStage, KeyUpdate) exactly
// as the live path does.
type RetryHandler func(p PendingRecord, res *Result, err error)

// Engine moves sessions through their cipher changes and routes records to
// the right decoder, buffering those that arrive before their keys.
type Engine struct {
	scheduler *KeyScheduler
	decryptor *RecordDecryptor
}

// NewEngine creates an engine.
func NewEngine(scheduler *KeyScheduler, decryptor *RecordDecryptor) *Engine {
	return &Engine{scheduler: scheduler, decryptor: decryptor}
}

// Scheduler returns the key scheduler of the engine.
func (e *Engine) Scheduler() *KeyScheduler {
	return e.scheduler
}

// Decrypt processes a record sent by dir. Cleartext records are returned
// as they are. When dir has no keys yet the record is queued on s for
// RetryPending and a MissingKeys result is returned; ctx travels with it.
func (e *Engine) Decrypt(s *SessionState, dir Direction, rec *Record, ctx any) (*Result, error) {
	// DTLS epoch 0 is never protected, retransmissions included
	if s.stage[dir] == StageCleartext || (s.IsTLS13() && rec.ContentType == ContentTypeChangeCipherSpec) ||
		(IsDTLS(rec.Version) && rec.Epoch == 0) {
		return &Result{Status: StatusOK, Plaintext: rec.Fragment, ContentType: rec.ContentType, Seq: rec.Seq}, nil
	}

	d := s.decoders[dir]
	if d == nil && !s.hasPending(dir) {
		d = e.currentDecoder(s, dir)
	}
	if d == nil {
		s.QueuePending(PendingRecord{Dir: dir, Stage: s.stage[dir], Gen: s.gen[dir], Record: rec, Context: ctx})
		return &Result{Status: StatusMissingKeys, ContentType: rec.ContentType, Seq: rec.Seq},
			decryptErr(StatusMissingKeys, ErrMissingKeys, "%s record queued", dir)
	}
	return e.decryptor.Decrypt(d, rec)
}

// ChangeCipherSpec handles a classic ChangeCipherSpec sent by dir. The first
// one of a handshake derives the decoders of both directions; each direction
// switches to its own on its ChangeCipherSpec. A KeyError means dir has no
// keys; its records are queued until RetryPending.
func (e *Engine) ChangeCipherSpec(s *SessionState, dir Direction) error {
	var err error
	if !s.pendingReady {
		s.pendingReady = true
		client, server, berr := e.scheduler.BuildClassicDecoders(s)
		s.setPending(client, server)
		if berr != nil {
			logger.Debug("classic keys unavailable",
				"cipher_suite", s.CipherSuite,
				"version", VersionName(s.Version),
				"error", berr)
			err = berr
		}
	}

	d := s.pending[dir]
	s.pending[dir] = nil
	s.epoch[dir]++
	s.enterStage(dir, StageClassic, d)
	if d == nil && err == nil {
		err = keyErr(KindMissingSecret, "no pending keys for the %s", dir)
	}
	return err
}

// EnterStage switches dir to a TLS 1.3 stage (early data, handshake or
// application traffic).
func (e *Engine) EnterStage(s *SessionState, dir Direction, stage Stage) error {
	d, err := e.scheduler.BuildTLS13Decoder(s, dir, stage)
	if err != nil {
		logger.Debug("traffic keys unavailable",
			"direction", dir.String(),
			"stage", stage.String(),
			"error", err)
		d = nil
	}
	s.epoch[dir]++
	s.enterStage(dir, stage, d)
	if d != nil {
		d.epoch = s.epoch[dir]
	}
	return err
}

// KeyUpdate handles a TLS 1.3 KeyUpdate sent by dir: its next records use
// the updated traffic secret from sequence number 0.
func (e *Engine) KeyUpdate(s *SessionState, dir Direction) error {
	d := s.decoders[dir]
	if d == nil {
		return keyErr(KindMissingSecret, "key update without %s traffic keys", dir)
	}
	nd, err := d.KeyUpdate()
	if err != nil {
		return err
	}
	s.replaceDecoder(dir, nd)
	return nil
}

// RetryPending replays the records s buffered while keys were missing and
// returns how many were decrypted (successfully or not). Records whose keys
// are still missing stay queued in order.
//
// Records queued in the current stage of a direction follow the stage
// changes the handler drives while earlier records are replayed; records of
// finished TLS 1.3 stages get a decoder of their own.
func (e *Engine) RetryPending(s *SessionState, handle RetryHandler) int {
	queue := s.takePending()
	if len(queue) == 0 {
		return 0
	}

	type genKey struct {
		dir Direction
		gen int
	}
	liveGen := s.gen
	var temp [2]*Decoder
	blocked := make(map[genKey]bool)
	done := 0

	for _, p := range queue {
		live := p.Gen == liveGen[p.Dir]
		if live {
			p.Gen, p.Stage = s.gen[p.Dir], s.stage[p.Dir]
		}
		key := genKey{p.Dir, p.Gen}
		if blocked[key] {
			s.requeue(p)
			continue
		}

		var d *Decoder
		if live {
			d = e.currentDecoder(s, p.Dir)
		} else {
			d = e.stageDecoder(s, &temp, p)
		}

		if d == nil {
			if !live && p.Stage == StageClassic {
				// keys of an earlier classic handshake cannot be rebuilt
				if p.Record != nil && handle != nil {
					handle(p, &Result{Status: StatusMissingKeys, ContentType: p.Record.ContentType, Seq: p.Record.Seq},
						decryptErr(StatusMissingKeys, ErrMissingKeys, "keys of a previous handshake"))
				}
				continue
			}
			blocked[key] = true
			s.requeue(p)
			continue
		}

		if p.Record == nil {
			d.Skip(p.Skipped)
			continue
		}
		res, err := e.decryptor.Decrypt(d, p.Record)
		done++
		if handle != nil {
			handle(p, res, err)
		}
	}

	for _, dir := range []Direction{DirectionClient, DirectionServer} {
		if s.decoders[dir] == nil && !s.hasPending(dir) {
			e.currentDecoder(s, dir)
		}
	}

	if done > 0 {
		logger.Debug("replayed pending records",
			"decrypted", done,
			"still_pending", s.PendingLen())
	}
	return done
}

// currentDecoder returns the decoder of dir's current stage, building and
// installing it when the secrets have become available.
func (e *Engine) currentDecoder(s *SessionState, dir Direction) *Decoder {
	if d := s.decoders[dir]; d != nil {
		return d
	}
	if s.stage[dir] == StageCleartext {
		return nil
	}
	d, err := e.scheduler.BuildDecoder(s, dir, s.stage[dir])
	if err != nil {
		return nil
	}
	d.gen = s.gen[dir]
	d.epoch = s.epoch[dir]
	d.Activate()
	s.decoders[dir] = d
	return d
}

// stageDecoder returns a decoder for records queued in a TLS 1.3 stage the
// direction has already left.
func (e *Engine) stageDecoder(s *SessionState, temp *[2]*Decoder, p PendingRecord) *Decoder {
	if t := temp[p.Dir]; t != nil && t.gen == p.Gen {
		return t
	}
	if p.Stage == StageClassic || p.Stage == StageCleartext {
		return nil
	}
	d, err := e.scheduler.BuildTLS13Decoder(s, p.Dir, p.Stage)
	if err != nil {
		return nil
	}
	d.gen = p.Gen
	d.Activate()
	temp[p.Dir] = d
	return d
}

// DropPending gives up on the records s still buffers. Each one is reported
// to handle as MissingKeys and the queue is emptied. It returns the number of
// records dropped, counting those a full queue had already discarded.
func (e *Engine) DropPending(s *SessionState, handle RetryHandler) int {
	dropped := 0
	for _, p := range s.takePending() {
		dropped += p.Skipped
		if p.Record == nil {
			continue
		}
		dropped++
		if handle != nil {
			handle(p, &Result{Status: StatusMissingKeys, ContentType: p.Record.ContentType, Seq: p.Record.Seq},
				decryptErr(StatusMissingKeys, ErrMissingKeys, "%s record never got keys", p.Dir))
		}
	}
	return dropped
}
