// Package jsonl stores conversation turns as one JSON object per line.
package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
	"github.com/custodia-labs/sercha-scope/internal/core/ports/driven"
)

var _ driven.ConversationLog = (*ConversationLog)(nil)

// FileName is the log file inside the memory directory.
const FileName = "conversations.jsonl"

// ConversationLog appends turns to conversations.jsonl. Appends are
// serialised and synced before returning.
type ConversationLog struct {
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	file *os.File
}

// Config holds configuration for the log.
type Config struct {
	Dir    string
	Logger *slog.Logger
}

// NewConversationLog creates the memory directory and opens the log for append.
func NewConversationLog(cfg Config) (*ConversationLog, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("memory dir: %w", domain.ErrInvalidConfig)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}

	path := filepath.Join(cfg.Dir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open conversation log: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationLog{path: path, logger: logger, file: f}, nil
}

// Path returns the log file path.
func (l *ConversationLog) Path() string {
	return l.path
}

// Append writes turn as one line and fsyncs.
func (l *ConversationLog) Append(ctx context.Context, turn *domain.Turn) error {
	line, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("conversation log closed: %w", os.ErrClosed)
	}
	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync conversation log: %w", err)
	}
	return nil
}

// ReadRecent returns the last n well-formed turns in file order. A missing
// file yields no turns. Malformed lines are skipped.
func (l *ConversationLog) ReadRecent(ctx context.Context, n int) ([]*domain.Turn, error) {
	if n <= 0 {
		return nil, nil
	}

	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open conversation log: %w", err)
	}
	defer f.Close()

	// Ring buffer of the last n turns.
	ring := make([]*domain.Turn, 0, n)
	next := 0

	reader := bufio.NewReader(f)
	lineNo := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, readErr := reader.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, fmt.Errorf("read conversation log: %w", readErr)
		}
		if len(raw) > 0 {
			lineNo++
			l.keep(raw, lineNo, &ring, &next, n)
		}
		if readErr != nil {
			break
		}
	}

	if len(ring) < n {
		return ring, nil
	}
	return append(ring[next:], ring[:next]...), nil
}

// keep decodes one line into the ring, skipping blank and malformed lines.
func (l *ConversationLog) keep(raw []byte, lineNo int, ring *[]*domain.Turn, next *int, n int) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return
	}

	var turn domain.Turn
	if err := json.Unmarshal(raw, &turn); err != nil || !turn.Role.IsValid() {
		l.logger.Warn("skipping malformed conversation line", "path", l.path, "line", lineNo, "error", err)
		return
	}

	if len(*ring) < n {
		*ring = append(*ring, &turn)
		return
	}
	(*ring)[*next] = &turn
	*next = (*next + 1) % n
}

// Close closes the append handle. Further appends fail.
func (l *ConversationLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
