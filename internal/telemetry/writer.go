package telemetry

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// maxSeq bounds file sequence numbers to prevent runaway rotation.
const maxSeq = 999

// Writer receives drained event batches.
type Writer interface {
	WriteBatch(batch []Envelope)
}

// NullWriter discards everything. Used when telemetry is disabled.
type NullWriter struct{}

func (NullWriter) WriteBatch([]Envelope) {}

// ListWriter captures batches in memory for tests.
type ListWriter struct {
	mu     sync.Mutex
	Events []Envelope
}

func (w *ListWriter) WriteBatch(batch []Envelope) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Events = append(w.Events, batch...)
}

// Snapshot returns a copy of everything written so far.
func (w *ListWriter) Snapshot() []Envelope {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Envelope(nil), w.Events...)
}

// FileWriter appends envelopes as JSONL with date-based rotation.
// Naming: events-YYYY-MM-DD-NNN.jsonl. Files from previous days are
// gzipped on the first flush of a new day, and retention enforces both
// an age limit and a total size cap. Every failure is swallowed: losing
// telemetry is always preferable to failing a tool call.
type FileWriter struct {
	exportPath       string
	maxFileSize      int64
	maxRetentionDays int
	maxTotalSize     int64

	currentFile    string
	currentDate    string
	currentSeq     int
	lastCompressed string
}

// NewFileWriter builds a writer from the collector config.
func NewFileWriter(cfg Config) *FileWriter {
	return &FileWriter{
		exportPath:       cfg.ExportPath,
		maxFileSize:      int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		maxRetentionDays: cfg.MaxRetentionDays,
		maxTotalSize:     int64(cfg.MaxTotalSizeMB) * 1024 * 1024,
	}
}

func (w *FileWriter) WriteBatch(batch []Envelope) {
	if len(batch) == 0 {
		return
	}
	if err := os.MkdirAll(w.exportPath, 0o755); err != nil {
		return
	}

	today := time.Now().UTC().Format("2006-01-02")
	if w.currentFile == "" || w.currentDate != today {
		w.currentDate = today
		w.currentSeq = w.nextSeq(today)
		w.currentFile = w.makePath(today, w.currentSeq)
	}
	if info, err := os.Stat(w.currentFile); err == nil && info.Size() >= w.maxFileSize {
		w.currentSeq++
		w.currentFile = w.makePath(today, w.currentSeq)
	}

	f, err := os.OpenFile(w.currentFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	for _, envelope := range batch {
		line, err := json.Marshal(envelope)
		if err != nil {
			continue
		}
		f.Write(line)
		f.Write([]byte("\n"))
	}
	f.Close()

	if w.lastCompressed != today {
		w.compressPreviousDays(today)
		w.lastCompressed = today
	}
	w.enforceRetention()
}

func (w *FileWriter) makePath(date string, seq int) string {
	return filepath.Join(w.exportPath, fmt.Sprintf("events-%s-%03d.jsonl", date, seq))
}

// nextSeq finds the sequence to append to for a date, reusing the last
// existing file while it is under the size limit.
func (w *FileWriter) nextSeq(date string) int {
	seq := 1
	for seq < maxSeq {
		path := w.makePath(date, seq+1)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		seq++
	}
	if info, err := os.Stat(w.makePath(date, seq)); err == nil && info.Size() >= w.maxFileSize {
		return seq + 1
	}
	return seq
}

// compressPreviousDays gzips .jsonl files whose embedded date is before
// today.
func (w *FileWriter) compressPreviousDays(today string) {
	matches, err := filepath.Glob(filepath.Join(w.exportPath, "events-*.jsonl"))
	if err != nil {
		return
	}
	for _, path := range matches {
		name := strings.TrimSuffix(filepath.Base(path), ".jsonl")
		parts := strings.Split(name, "-")
		if len(parts) < 5 {
			continue
		}
		fileDate := parts[1] + "-" + parts[2] + "-" + parts[3]
		if fileDate >= today {
			continue
		}
		if gzipFile(path, path+".gz") == nil {
			os.Remove(path)
		}
	}
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		out.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// enforceRetention removes expired files, then trims oldest-first down
// to the total size cap.
func (w *FileWriter) enforceRetention() {
	matches, err := filepath.Glob(filepath.Join(w.exportPath, "events-*"))
	if err != nil {
		return
	}
	sort.Strings(matches)

	maxAge := time.Duration(w.maxRetentionDays) * 24 * time.Hour
	now := time.Now()

	var remaining []string
	var totalSize int64
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > maxAge {
			os.Remove(path)
			continue
		}
		remaining = append(remaining, path)
		totalSize += info.Size()
	}

	for totalSize > w.maxTotalSize && len(remaining) > 0 {
		oldest := remaining[0]
		remaining = remaining[1:]
		if info, err := os.Stat(oldest); err == nil {
			totalSize -= info.Size()
		}
		os.Remove(oldest)
	}
}
