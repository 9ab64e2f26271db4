package store

import (
	"bufio"
	"context"
	"io/fs"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// FileBackend is a flat append-only log with one "<username>:<hash>" record
// per line.
type FileBackend struct {
	path   string
	logger *zap.Logger
}

// NewFileBackend returns a backend for the log at path. The file is created
// on the first append.
func NewFileBackend(path string, logger *zap.Logger) *FileBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileBackend{path: path, logger: logger}
}

// Load implements Backend. Malformed lines are skipped.
func (b *FileBackend) Load(ctx context.Context) ([]Credential, error) {
	f, err := os.Open(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", b.path)
	}
	defer func() { _ = f.Close() }()

	var records []Credential
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lineNo++

		rec, ok := parseRecord(scanner.Text())
		if !ok {
			b.logger.Warn("Skipping malformed credential record",
				zap.String("path", b.path), zap.Int("line", lineNo))
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read %s", b.path)
	}
	return records, nil
}

func parseRecord(line string) (Credential, bool) {
	line = strings.TrimRight(line, "\r")
	username, hash, found := strings.Cut(line, ":")
	if !found {
		return Credential{}, false
	}
	rec := Credential{Username: username, PasswordHash: hash}
	return rec, rec.Valid()
}

// Append implements Backend. The record is fsynced before returning.
func (b *FileBackend) Append(ctx context.Context, c Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return errors.Wrapf(err, "open %s", b.path)
	}

	if _, err := f.WriteString(c.Username + ":" + c.PasswordHash + "\n"); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "write %s", b.path)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "sync %s", b.path)
	}
	return f.Close()
}

// Close implements Backend.
func (b *FileBackend) Close() error {
	return nil
}
