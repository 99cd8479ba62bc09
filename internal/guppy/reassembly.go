package guppy

// chunkSlot holds one out-of-order chunk until it becomes deliverable.
// seq 0 means the slot is free.
type chunkSlot struct {
	seq  int
	data []byte
}

// admitLocked applies the window admission policy to one chunk. The first
// non-saturated sequence fixes firstSeq; an empty payload fixes lastSeq
// (the terminator carries no data and is not stored). Duplicates refresh
// their slot in place. When the buffer is full, only the chunk the body is
// blocked on may force room, by evicting the buffered chunk furthest from
// being needed; anything else is dropped and left to retransmission.
func (s *Session) admitLocked(seq int, payload []byte) {
	if s.firstSeq == 0 && seq < seqMax {
		s.firstSeq = seq
	}
	if s.lastSeq == 0 && len(payload) == 0 {
		s.lastSeq = seq
		return
	}
	if (s.currentSeq != 0 && seq <= s.currentSeq) ||
		(s.firstSeq != 0 && seq < s.firstSeq) ||
		(s.lastSeq != 0 && seq > s.lastSeq) {
		return
	}
	dup, free, evict, evictSeq := -1, -1, -1, -1
	for i := range s.chunks {
		c := &s.chunks[i]
		if c.seq == seq {
			dup = i
			break
		}
		if free == -1 && (c.seq == 0 ||
			(s.firstSeq > 0 && c.seq < s.firstSeq) ||
			(s.lastSeq > 0 && c.seq > s.lastSeq)) {
			free = i
		}
		if c.seq > evictSeq {
			evictSeq = c.seq
			evict = i
		}
	}
	slot := dup
	if slot == -1 {
		slot = free
		if slot == -1 && seq == s.firstSeq {
			slot = evict
		}
	}
	if slot == -1 {
		return
	}
	s.chunks[slot] = chunkSlot{seq: seq, data: append([]byte(nil), payload...)}
}

// drainLocked appends every consecutively-ready chunk to the body. Freeing
// a slot can reveal the next chunk already buffered, so it rescans until a
// full pass makes no progress. Returns whether anything was appended.
func (s *Session) drainLocked() bool {
	appended := false
	for progress := true; progress; {
		progress = false
		for i := range s.chunks {
			c := &s.chunks[i]
			ready := (s.currentSeq != 0 && s.currentSeq < seqMax && c.seq == s.currentSeq+1) ||
				(s.currentSeq == 0 && s.firstSeq > 0 && c.seq == s.firstSeq)
			if !ready {
				continue
			}
			s.body = append(s.body, c.data...)
			s.currentSeq = c.seq
			*c = chunkSlot{}
			appended = true
			progress = true
		}
	}
	return appended
}
