package server

import (
	"net"
	"strconv"
	"time"
)

// transfer is one response stream to a single client address. The first
// datagram travels alone; the window opens once its ack confirms the
// client saw the stream head, which keeps reordering from ever hiding the
// head behind a later sequence. All methods run under the service mutex.
type transfer struct {
	key    string
	remote *net.UDPAddr
	url    string
	meta   string

	firstSeq   int
	datagrams  [][]byte
	acked      []bool
	ackedCount int
	nextIdx    int
	inFlight   int
	window     int

	startedAt      time.Time
	lastProgressAt time.Time
	lastSendAt     time.Time
	retransmits    int
}

// TransferStatus is the admin view of one live transfer.
type TransferStatus struct {
	Remote      string    `json:"remote"`
	URL         string    `json:"url"`
	Meta        string    `json:"meta"`
	Chunks      int       `json:"chunks"`
	Acked       int       `json:"acked"`
	Retransmits int       `json:"retransmits"`
	StartedAt   time.Time `json:"started_at"`
	LastAckAt   time.Time `json:"last_ack_at"`
}

func newTransfer(key string, remote *net.UDPAddr, url, meta string, body []byte, firstSeq, chunkSize, window int, now time.Time) *transfer {
	count := (len(body) + chunkSize - 1) / chunkSize
	datagrams := make([][]byte, 0, count+1)
	for i := 0; i < count; i++ {
		header := strconv.Itoa(firstSeq + i)
		if i == 0 && meta != "" {
			header += " " + meta
		}
		lo := i * chunkSize
		hi := min(lo+chunkSize, len(body))
		dg := make([]byte, 0, len(header)+2+hi-lo)
		dg = append(dg, header...)
		dg = append(dg, '\r', '\n')
		dg = append(dg, body[lo:hi]...)
		datagrams = append(datagrams, dg)
	}
	datagrams = append(datagrams, []byte(strconv.Itoa(firstSeq+count)+"\r\n"))

	return &transfer{
		key:            key,
		remote:         remote,
		url:            url,
		meta:           meta,
		firstSeq:       firstSeq,
		datagrams:      datagrams,
		acked:          make([]bool, len(datagrams)),
		window:         window,
		startedAt:      now,
		lastProgressAt: now,
	}
}

// start puts the stream head on the wire.
func (t *transfer) start(now time.Time, send func(idx int)) {
	send(0)
	t.nextIdx = 1
	t.inFlight = 1
	t.lastSendAt = now
}

// onAck marks seq delivered and tops the window back up. A duplicate ack
// means the client is stalled on a loss, so the unacked window resends
// immediately instead of waiting for the janitor.
func (t *transfer) onAck(seq int, now time.Time, send func(idx int)) {
	idx := seq - t.firstSeq
	if idx < 0 || idx >= len(t.acked) {
		return
	}
	t.lastProgressAt = now
	if t.acked[idx] {
		t.resendUnacked(now, send)
		return
	}
	t.acked[idx] = true
	t.ackedCount++
	if t.inFlight > 0 {
		t.inFlight--
	}
	t.fill(now, send)
}

func (t *transfer) fill(now time.Time, send func(idx int)) {
	for t.inFlight < t.window && t.nextIdx < len(t.datagrams) {
		send(t.nextIdx)
		t.nextIdx++
		t.inFlight++
		t.lastSendAt = now
	}
}

func (t *transfer) resendUnacked(now time.Time, send func(idx int)) {
	for idx := 0; idx < t.nextIdx; idx++ {
		if !t.acked[idx] {
			send(idx)
			t.retransmits++
		}
	}
	t.lastSendAt = now
}

// retransmitDue resends the unacked window when nothing moved for a full
// interval.
func (t *transfer) retransmitDue(now time.Time, interval time.Duration, send func(idx int)) {
	if now.Sub(t.lastSendAt) < interval {
		return
	}
	t.resendUnacked(now, send)
}

func (t *transfer) done() bool {
	return t.ackedCount == len(t.acked)
}

func (t *transfer) expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(t.lastProgressAt) >= timeout
}

func (t *transfer) status() TransferStatus {
	return TransferStatus{
		Remote:      t.key,
		URL:         t.url,
		Meta:        t.meta,
		Chunks:      len(t.datagrams),
		Acked:       t.ackedCount,
		Retransmits: t.retransmits,
		StartedAt:   t.startedAt,
		LastAckAt:   t.lastProgressAt,
	}
}
