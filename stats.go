package main

import (
	"net"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
)

// Kind is the transport a transfer ran over.
type Kind int

const (
	Stream Kind = iota
	Datagram
)

func (k Kind) String() string {
	if k == Datagram {
		return "UDP"
	}
	return "TCP"
}

// TransferResult is the raw measurement of one connection. Only the worker
// that produced it touches it until it is sent to the collector.
type TransferResult struct {
	ID            int
	Kind          Kind
	Requested     uint64
	BytesReceived uint64 // every delivery counts, duplicates included
	Elapsed       time.Duration
	Err           error

	// Datagram only.
	SegmentsReceived int    // distinct in-range indices
	SegmentsTotal    uint64 // 0 when no payload arrived
}

// Record is a TransferResult ready for display.
type Record struct {
	TransferResult
	SpeedBps   float64
	SpeedValid bool
	HasLoss    bool
	LossPct    float64
	Efficiency float64
}

// Summarize turns a raw result into a record.
func Summarize(r TransferResult) Record {
	rec := Record{TransferResult: r}
	rec.SpeedBps, rec.SpeedValid = speedBps(r.BytesReceived, r.Elapsed)
	if r.Requested > 0 {
		rec.Efficiency = float64(r.BytesReceived) / float64(r.Requested)
	}
	if r.Kind == Datagram {
		rec.HasLoss = true
		rec.LossPct = lossPct(r.SegmentsReceived, r.SegmentsTotal)
	}
	return rec
}

// speedBps is bits per second; ok is false when elapsed is not positive.
func speedBps(bytes uint64, elapsed time.Duration) (float64, bool) {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return 0, false
	}
	return float64(bytes) * 8 / secs, true
}

// lossPct is 100*(1-received/total) clamped to [0,100]; an unknown total is full loss.
func lossPct(received int, total uint64) float64 {
	if total == 0 {
		return 100
	}
	pct := 100 * (1 - float64(received)/float64(total))
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}

// segmentSet tracks which segment indices of a datagram transfer have arrived.
type segmentSet struct {
	total uint64
	seen  mapset.Set[uint64]
}

func newSegmentSet() *segmentSet {
	return &segmentSet{seen: mapset.NewThreadUnsafeSet[uint64]()}
}

// Add records a payload. The first payload fixes the total; indices outside
// [0,total) are ignored.
func (s *segmentSet) Add(total, index uint64) {
	if s.total == 0 {
		s.total = total
	}
	if index < s.total {
		s.seen.Add(index)
	}
}

func (s *segmentSet) Len() int { return s.seen.Cardinality() }

// ─────────────────────────────────────────────────────────────────────────────
// ROUND
// ─────────────────────────────────────────────────────────────────────────────

// Round is one measurement cycle against one discovered server.
type Round struct {
	ID      string
	Server  net.Addr
	Params  RoundParams
	Started time.Time
	Wall    time.Duration
	Records []Record
}

func newRound(server net.Addr, p RoundParams) *Round {
	return &Round{
		ID:      uuid.NewString(),
		Server:  server,
		Params:  p,
		Started: time.Now(),
		Records: make([]Record, 0, p.StreamConns+p.DatagramConns),
	}
}

// collect appends records in the order results arrive until in is closed.
// It is the only writer of r.Records.
func (r *Round) collect(in <-chan TransferResult, done chan<- struct{}) {
	for res := range in {
		r.Records = append(r.Records, Summarize(res))
	}
	close(done)
}

func (r *Round) TotalBytes() uint64 {
	var n uint64
	for _, rec := range r.Records {
		n += rec.BytesReceived
	}
	return n
}

// AggregateBps is the combined rate of all connections over the round's wall time.
func (r *Round) AggregateBps() float64 {
	bps, _ := speedBps(r.TotalBytes(), r.Wall)
	return bps
}
