package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/medicare-plus/frontdesk/internal/apperr"
)

// MediaPath is where the API serves artifacts of a LocalHost
const MediaPath = "/media/"

// LocalHost keeps artifacts in a directory served by the API itself
type LocalHost struct {
	dir     string
	baseURL string
}

// NewLocalHost creates the directory if needed. publicBaseURL is the address
// the gateway uses to reach this service.
func NewLocalHost(dir, publicBaseURL string) (*LocalHost, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &LocalHost{dir: dir, baseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

// Put writes to a temporary file and renames it, so readers never see a
// partial artifact.
func (h *LocalHost) Put(_ context.Context, name string, data []byte, _ string) (string, error) {
	if !validName(name) {
		return "", apperr.Validation("invalid artifact name %q", name)
	}
	tmp, err := os.CreateTemp(h.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(h.dir, name)); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("publish artifact: %w", err)
	}
	return h.baseURL + MediaPath + url.PathEscape(name), nil
}

// Open returns a hosted artifact for serving
func (h *LocalHost) Open(name string) (*os.File, error) {
	if !validName(name) {
		return nil, apperr.NotFound("artifact %s not found", name)
	}
	f, err := os.Open(filepath.Join(h.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.NotFound("artifact %s not found", name)
	}
	return f, err
}

// Delete removes a hosted artifact
func (h *LocalHost) Delete(_ context.Context, name string) error {
	if !validName(name) {
		return apperr.Validation("invalid artifact name %q", name)
	}
	err := os.Remove(filepath.Join(h.dir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}

// Sweep also removes abandoned temporary uploads
func (h *LocalHost) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		return 0, fmt.Errorf("list artifacts: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(h.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("sweep %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}
