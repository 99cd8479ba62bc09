package guppy

import "time"

// retryLoop drives the scheduler for one generation. It exits when the
// stop channel closes or a tick reports the generation finished.
func (s *Session) retryLoop(stop chan struct{}) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !s.tick(stop) {
				return
			}
		}
	}
}

// tick applies one scheduler pass under the session mutex. The generation
// check makes Cancel race-free: a tick that lost the channel it was armed
// with never touches state. Returns false once this generation must stop.
//
// The two resend timers are mutually exclusive: the request resends only
// before any chunk confirmed the stream, the ack resends only after.
func (s *Session) tick(stop chan struct{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retryStop != stop {
		return false
	}
	now := s.now()
	if !now.Before(s.firstSent.Add(s.cfg.SessionTimeout)) {
		s.retryStop = nil
		s.state = StateTimedOut
		if !s.timedOut {
			s.timedOut = true
			close(s.timeoutC)
		}
		s.log.Debug().Str("url", s.url).Msg("session timed out")
		return false
	}
	switch {
	case s.firstSeq == 0 && s.conn.Status() == StatusConnected &&
		!now.Before(s.lastSent.Add(s.cfg.RequestRetry)):
		s.sendRequestLocked()
	case s.currentSeq != 0 && !now.Before(s.lastSent.Add(s.cfg.AckRetry)):
		s.sendAckLocked(s.currentSeq)
	}
	return true
}
