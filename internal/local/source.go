package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

const _maxStreamSize = 64 * 1024 * 1024 // 64 MB

const (
	formatMP3  = "mp3"
	formatFLAC = "flac"
	formatWAV  = "wav"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrUnsupportedScheme = errors.New("unsupported locator scheme")
)

// Source is an opened, seekable audio payload
type Source struct {
	Name   string
	Format string
	io.ReadSeekCloser
}

type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }

// Loader opens local files and downloads HTTP(S) streams
type Loader struct {
	logger  *zap.Logger
	client  *http.Client
	maxSize int64
}

// NewLoader creates a new loader instance
func NewLoader(logger *zap.Logger) *Loader {
	return &Loader{
		logger: logger,
		client: &http.Client{
			Timeout: 30 * time.Second, // Essential to prevent blocking prepare forever
		},
		maxSize: _maxStreamSize,
	}
}

// Check validates a locator without opening it.
func Check(locator string) error {
	if locator == "" {
		return fmt.Errorf("%w: empty locator", ErrUnsupportedScheme)
	}
	u, err := url.Parse(locator)
	if err != nil {
		return fmt.Errorf("invalid locator: %w", err)
	}
	switch u.Scheme {
	case "", "file":
		_, err := formatFromExt(locator)
		return err
	case "http", "https":
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
}

// Open resolves locator to a Source.
func (l *Loader) Open(ctx context.Context, locator string) (*Source, error) {
	if err := Check(locator); err != nil {
		return nil, err
	}
	u, _ := url.Parse(locator)
	if u.Scheme == "http" || u.Scheme == "https" {
		return l.fetch(ctx, locator, u)
	}

	p := locator
	if u.Scheme == "file" {
		p = u.Path
	}
	format, err := formatFromExt(p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	return &Source{Name: filepath.Base(p), Format: format, ReadSeekCloser: f}, nil
}

func (l *Loader) fetch(ctx context.Context, locator string, u *url.URL) (*Source, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", "cadence/1.0")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "audio/") {
		return nil, fmt.Errorf("url is not audio: %s", contentType)
	}

	format, err := formatFromContentType(contentType)
	if err != nil {
		// Generic audio types such as audio/octet-stream: trust the extension
		if format, err = formatFromExt(u.Path); err != nil {
			return nil, err
		}
	}

	// Read one byte past the limit to tell a truncated body from an exact fit
	data, err := io.ReadAll(io.LimitReader(resp.Body, l.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(data)) > l.maxSize {
		return nil, fmt.Errorf("stream exceeds %d bytes", l.maxSize)
	}

	l.logger.Debug("Stream fetched successfully", zap.Int("bytes", len(data)), zap.String("url", locator))
	return &Source{
		Name:           path.Base(u.Path),
		Format:         format,
		ReadSeekCloser: nopCloser{bytes.NewReader(data)},
	}, nil
}

func formatFromExt(p string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	switch ext {
	case formatMP3, formatFLAC, formatWAV:
		return ext, nil
	case "wave":
		return formatWAV, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, path.Ext(p))
	}
}

func formatFromContentType(contentType string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", err
	}
	switch mediaType {
	case "audio/mpeg", "audio/mp3":
		return formatMP3, nil
	case "audio/flac", "audio/x-flac":
		return formatFLAC, nil
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return formatWAV, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, mediaType)
	}
}
