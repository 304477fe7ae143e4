package history

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrCorruptHistory is returned by Open when the artifact cannot be fully
// decoded. The process must not start on a partial history.
var ErrCorruptHistory = errors.New("history: corrupt log")

var tracer = otel.Tracer("chatdrop/history")

// Log is the in-memory message sequence plus its durable artifact. Append is
// expected to be called from a single goroutine (the hub); Replay and Len are
// safe from anywhere.
type Log struct {
	path string
	log  *logrus.Entry
	now  func() time.Time

	mu       sync.RWMutex
	messages []Message
	lastTS   int64
}

// Open loads the artifact at path. A missing file yields an empty log.
func Open(path string, log *logrus.Entry) (*Log, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	l := &Log{
		path: path,
		log:  log.WithField("path", path),
		now:  time.Now,
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		l.log.Info("No chat history found, starting empty")
		return l, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	messages, err := decode(f)
	if err != nil {
		return nil, err
	}
	l.messages = messages
	for _, m := range messages {
		if ts, ok := m.Timestamp(); ok && ts > l.lastTS {
			l.lastTS = ts
		}
	}

	l.log.WithField("messages", len(messages)).Info("Loaded chat history")
	return l, nil
}

func decode(r io.Reader) ([]Message, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptHistory, err)
	}
	defer func() { _ = zr.Close() }()

	var (
		messages []Message
		br       = bufio.NewReader(zr)
		line     int
	)
	for {
		raw, readErr := br.ReadBytes('\n')
		if len(raw) > 0 {
			line++
			if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 {
				m, err := ParseMessage(trimmed)
				if err != nil {
					return nil, fmt.Errorf("%w: line %d: %v", ErrCorruptHistory, line, err)
				}
				messages = append(messages, m)
			}
		}
		if readErr == io.EOF {
			return messages, nil
		}
		if readErr != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrCorruptHistory, line+1, readErr)
		}
	}
}

// Path returns the artifact location.
func (l *Log) Path() string {
	return l.path
}

// Len returns the number of stored messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Replay returns the sequence in receipt order. The slice is a copy.
func (l *Log) Replay() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Append stamps msg, adds it to the sequence and rewrites the artifact. The
// message is durable when Append returns nil. On a write failure the message
// is dropped from memory as well, so memory and disk never diverge.
func (l *Log) Append(ctx context.Context, msg Message) (Message, error) {
	_, span := tracer.Start(ctx, "history.append")
	defer span.End()

	stamped := msg.Clone()

	l.mu.Lock()
	defer l.mu.Unlock()

	prevTS := l.lastTS
	ts := l.now().UnixMilli()
	if ts < l.lastTS {
		ts = l.lastTS
	}
	stamped.Stamp(ts)
	l.lastTS = ts
	l.messages = append(l.messages, stamped)

	started := time.Now()
	if err := l.rewrite(); err != nil {
		l.messages = l.messages[:len(l.messages)-1]
		l.lastTS = prevTS
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		l.log.WithError(err).Error("Failed to persist chat history")
		return nil, err
	}

	span.SetAttributes(attribute.Int("messages", len(l.messages)))
	l.log.WithFields(logrus.Fields{
		"messages": len(l.messages),
		"took":     time.Since(started).String(),
	}).Debug("Chat history persisted")
	return stamped, nil
}

// rewrite serializes the whole sequence to a temp file and renames it over
// the artifact. Callers hold mu.
func (l *Log) rewrite() (err error) {
	tmp := l.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open temp history: %w", err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	zw := gzip.NewWriter(f)
	bw := bufio.NewWriter(zw)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for _, m := range l.messages {
		if err = enc.Encode(m); err != nil {
			return fmt.Errorf("failed to encode message: %w", err)
		}
	}
	if err = bw.Flush(); err != nil {
		return err
	}
	if err = zw.Close(); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp, l.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace history: %w", err)
	}
	return nil
}

// Dump writes the decompressed artifact at path to w as NDJSON.
func Dump(path string, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptHistory, err)
	}
	defer func() { _ = zr.Close() }()

	_, err = io.Copy(w, zr)
	return err
}
