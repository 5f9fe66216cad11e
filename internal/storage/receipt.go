// Package storage keeps uploaded payment receipts.
package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/fx"

	"github.com/Additional-Code/storefront/internal/config"
)

var (
	// ErrTooLarge is returned when a receipt exceeds the configured size.
	ErrTooLarge = errors.New("receipt too large")
	// ErrUnsupportedType is returned for anything but jpeg, png or pdf.
	ErrUnsupportedType = errors.New("receipt must be a jpeg, png or pdf")
)

var extensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"application/pdf": ".pdf",
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// ReceiptStore persists transfer receipts and returns a path to reference them by.
type ReceiptStore interface {
	Save(ctx context.Context, orderNumber string, r io.Reader) (string, error)
}

// Module provides the local receipt store.
var Module = fx.Provide(
	fx.Annotate(NewLocalStore, fx.As(new(ReceiptStore))),
)

// LocalStore writes receipts beneath a directory on local disk.
type LocalStore struct {
	dir      string
	maxBytes int64
}

// NewLocalStore builds a store from the storage configuration.
func NewLocalStore(cfg config.Config) *LocalStore {
	return &LocalStore{dir: cfg.Storage.ReceiptDir, maxBytes: cfg.Storage.MaxReceiptBytes}
}

// Save sniffs the content type, enforces the size limit and writes the file
// atomically. The returned path is relative to the store directory.
func (s *LocalStore) Save(ctx context.Context, orderNumber string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	br := bufio.NewReaderSize(r, 512)
	head, err := br.Peek(512)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return "", fmt.Errorf("read receipt: %w", err)
	}
	if len(head) == 0 {
		return "", ErrUnsupportedType
	}
	ext, ok := extensions[http.DetectContentType(head)]
	if !ok {
		return "", ErrUnsupportedType
	}

	folder := unsafeChars.ReplaceAllString(orderNumber, "_")
	rel := filepath.Join("receipts", folder, uuid.NewString()+ext)
	full := filepath.Join(s.dir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create receipt dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create receipt: %w", err)
	}
	defer os.Remove(tmp.Name())

	limit := s.maxBytes
	if limit <= 0 {
		limit = 2 << 20
	}
	n, err := io.Copy(tmp, io.LimitReader(br, limit+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write receipt: %w", err)
	}
	if n > limit {
		return "", ErrTooLarge
	}

	if err := os.Rename(tmp.Name(), full); err != nil {
		return "", fmt.Errorf("store receipt: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

// Open returns the stored receipt at rel.
func (s *LocalStore) Open(rel string) (*os.File, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return nil, os.ErrNotExist
	}
	return os.Open(filepath.Join(s.dir, clean))
}
