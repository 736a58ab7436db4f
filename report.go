package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// PROGRESS BAR
// ─────────────────────────────────────────────────────────────────────────────

// Progress is shared by all workers of a round. A nil *Progress is a no-op.
type Progress struct {
	w     io.Writer
	label string
	total int64
	done  atomic.Int64
	t0    time.Time

	mu   sync.Mutex
	last time.Time
}

func newProgress(w io.Writer, label string, total int64) *Progress {
	if len(label) > 20 {
		label = label[len(label)-20:]
	}
	return &Progress{w: w, label: label, total: max(total, 1), t0: time.Now()}
}

func (p *Progress) Advance(n int64) {
	if p == nil || n == 0 {
		return
	}
	done := p.done.Add(n)
	p.mu.Lock()
	defer p.mu.Unlock()
	if time.Since(p.last) >= 150*time.Millisecond || done >= p.total {
		p.last = time.Now()
		p.draw()
	}
}

// Finish redraws the final state. Datagram loss can leave it short of 100%.
func (p *Progress) Finish() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.draw()
	fmt.Fprintln(p.w)
}

func (p *Progress) draw() {
	done := min(p.done.Load(), p.total)
	pct := float64(done) / float64(p.total)
	width := 28
	filled := int(pct * float64(width))
	bar := strings.Repeat("#", filled) + strings.Repeat(".", width-filled)
	var speed float64
	if dt := time.Since(p.t0).Seconds(); dt > 0 {
		speed = float64(done) * 8 / dt
	}
	fmt.Fprintf(p.w, "\r  %-20s [%s] %5.1f%%  %s",
		p.label, bar, pct*100, fmtRate(speed))
}

// ─────────────────────────────────────────────────────────────────────────────
// FORMATTING
// ─────────────────────────────────────────────────────────────────────────────

func fmtSize(n float64) string {
	for _, u := range []string{"B", "KB", "MB", "GB"} {
		if n < 1024 {
			return fmt.Sprintf("%6.1f %s", n, u)
		}
		n /= 1024
	}
	return fmt.Sprintf("%6.1f TB", n)
}

// fmtRate uses decimal units, as link speeds are quoted.
func fmtRate(bps float64) string {
	for _, u := range []string{"bit/s", "Kbit/s", "Mbit/s", "Gbit/s"} {
		if bps < 1000 {
			return fmt.Sprintf("%.2f %s", bps, u)
		}
		bps /= 1000
	}
	return fmt.Sprintf("%.2f Tbit/s", bps)
}

func fmtTime(s float64) string {
	if s < 60 {
		return fmt.Sprintf("%.2fs", s)
	}
	return fmt.Sprintf("%dm%02ds", int(s)/60, int(s)%60)
}

var errBadSize = errors.New("bad size")

// parseSize accepts plain bytes or a KB/MB/GB suffix (powers of 1024).
func parseSize(s string) (uint64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	mult := uint64(1)
	for _, u := range []struct {
		suffix string
		mult   uint64
	}{{"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10}, {"G", 1 << 30}, {"M", 1 << 20}, {"K", 1 << 10}, {"B", 1}} {
		if strings.HasSuffix(s, u.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			mult = u.mult
			break
		}
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errBadSize, s)
	}
	if n > ^uint64(0)/mult {
		return 0, fmt.Errorf("%w: %q overflows", errBadSize, s)
	}
	return n * mult, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// ROUND REPORT
// ─────────────────────────────────────────────────────────────────────────────

func formatRecord(rec Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s transfer #%d ", rec.Kind, rec.ID)
	if rec.Err != nil && rec.BytesReceived == 0 {
		fmt.Fprintf(&b, "failed: %v", rec.Err)
		return b.String()
	}
	fmt.Fprintf(&b, "finished, total time: %s, total speed: ", fmtTime(rec.Elapsed.Seconds()))
	if rec.SpeedValid {
		b.WriteString(fmtRate(rec.SpeedBps))
	} else {
		b.WriteString("n/a")
	}
	fmt.Fprintf(&b, ", received %s (%.1f%%)", strings.TrimSpace(fmtSize(float64(rec.BytesReceived))), rec.Efficiency*100)
	if rec.HasLoss {
		fmt.Fprintf(&b, ", percentage of packets received successfully: %.2f%% (%d/%d)",
			100-rec.LossPct, rec.SegmentsReceived, rec.SegmentsTotal)
	}
	if rec.Err != nil {
		fmt.Fprintf(&b, " [%v]", rec.Err)
	}
	return b.String()
}

func printRound(w io.Writer, r *Round) {
	fmt.Fprintf(w, "\n  Round %s  server %s  size %s  TCP x%d  UDP x%d\n",
		r.ID, r.Server, strings.TrimSpace(fmtSize(float64(r.Params.FileSize))),
		r.Params.StreamConns, r.Params.DatagramConns)
	for _, rec := range r.Records {
		fmt.Fprintf(w, "  %s\n", formatRecord(rec))
	}
	fmt.Fprintf(w, "  Total %s in %s  (%s aggregate)\n",
		strings.TrimSpace(fmtSize(float64(r.TotalBytes()))), fmtTime(r.Wall.Seconds()), fmtRate(r.AggregateBps()))
}

// ─────────────────────────────────────────────────────────────────────────────
// PARAMETER PROMPT
// ─────────────────────────────────────────────────────────────────────────────

// promptParams asks until it gets a valid round or input ends.
func promptParams(sc *bufio.Scanner, w io.Writer, cfg *Config) (RoundParams, error) {
	ask := func(q string) (string, error) {
		fmt.Fprint(w, q)
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return strings.TrimSpace(sc.Text()), nil
	}
	askInt := func(q string) (int, error) {
		for {
			s, err := ask(q)
			if err != nil {
				return 0, err
			}
			n, err := strconv.Atoi(s)
			if err == nil && n >= 0 {
				return n, nil
			}
			fmt.Fprintln(w, "  Please enter a non-negative integer.")
		}
	}
	for {
		var p RoundParams
		for {
			s, err := ask("Enter the file size to download (bytes, or KB/MB/GB): ")
			if err != nil {
				return p, err
			}
			if p.FileSize, err = parseSize(s); err == nil {
				break
			}
			fmt.Fprintf(w, "  %v\n", err)
		}
		var err error
		if p.StreamConns, err = askInt("Enter the number of TCP connections: "); err != nil {
			return p, err
		}
		if p.DatagramConns, err = askInt("Enter the number of UDP connections: "); err != nil {
			return p, err
		}
		if err := cfg.CheckParams(p); err != nil {
			fmt.Fprintf(w, "  %v\n", err)
			continue
		}
		return p, nil
	}
}
