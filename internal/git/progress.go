package git

import (
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// TransferProgress is a snapshot of a clone or fetch transfer.
type TransferProgress struct {
	ReceivedObjects int
	TotalObjects    int
	IndexedObjects  int
	ReceivedBytes   int64
	IndexedDeltas   int
	TotalDeltas     int
}

// ProgressFunc receives transfer progress. It is called on the goroutine running the transfer.
type ProgressFunc func(TransferProgress)

var (
	phaseRe = regexp.MustCompile(`^([A-Za-z ]+):\s+\d+%\s+\((\d+)/(\d+)\)(?:,\s+([\d.]+)\s+(bytes|KiB|MiB|GiB))?`)
	totalRe = regexp.MustCompile(`^Total (\d+) \(delta (\d+)\)`)
)

// progressWriter parses sideband progress lines into TransferProgress updates.
// go-git only exposes the remote's human readable progress, so counters are
// limited to what the server reports. IndexedObjects stays zero: go-git does
// not report local indexing, and the server's "Compressing objects" phase
// counts server-side work.
type progressWriter struct {
	mu      sync.Mutex
	fn      ProgressFunc
	buf     []byte
	current TransferProgress
}

func newProgressWriter(fn ProgressFunc) io.Writer {
	if fn == nil {
		return nil
	}
	return &progressWriter{fn: fn}
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := indexLineEnd(w.buf)
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(w.buf[:i]))
		w.buf = w.buf[i+1:]
		if line != "" && w.apply(line) {
			w.fn(w.current)
		}
	}
	return len(p), nil
}

func indexLineEnd(b []byte) int {
	for i, c := range b {
		if c == '\n' || c == '\r' {
			return i
		}
	}
	return -1
}

// apply folds one progress line into the snapshot and reports whether it changed.
func (w *progressWriter) apply(line string) bool {
	line = strings.TrimPrefix(line, "remote: ")
	if m := totalRe.FindStringSubmatch(line); m != nil {
		w.current.TotalObjects = atoi(m[1])
		w.current.TotalDeltas = atoi(m[2])
		return true
	}
	m := phaseRe.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	cur, total := atoi(m[2]), atoi(m[3])
	switch strings.TrimSpace(m[1]) {
	case "Counting objects", "Enumerating objects":
		w.current.TotalObjects = total
	case "Receiving objects":
		w.current.ReceivedObjects = cur
		w.current.TotalObjects = total
		if m[4] != "" {
			w.current.ReceivedBytes = parseSize(m[4], m[5])
		}
	case "Resolving deltas":
		w.current.IndexedDeltas = cur
		w.current.TotalDeltas = total
	default:
		return false
	}
	return true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func parseSize(value, unit string) int64 {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	switch unit {
	case "KiB":
		f *= 1 << 10
	case "MiB":
		f *= 1 << 20
	case "GiB":
		f *= 1 << 30
	}
	return int64(f)
}
