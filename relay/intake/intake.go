// Package intake stores files users upload to the bot.
package intake

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/chatrelay/relay/config"
	"github.com/ZanzyTHEbar/chatrelay/relay/messenger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Intake downloads attachments into a local directory. Each file is stored
// as <dir>/<unique id>; downloading the same attachment again overwrites it.
type Intake struct {
	locator  messenger.FileLocator
	client   *http.Client
	dir      string
	maxBytes int64
	timeout  time.Duration
	logger   zerolog.Logger
}

// Option configures the intake.
type Option func(*Intake)

// WithHTTPClient sets the client used for downloads.
func WithHTTPClient(client *http.Client) Option {
	return func(in *Intake) {
		in.client = client
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(in *Intake) {
		in.logger = logger
	}
}

// New creates an intake from configuration.
func New(locator messenger.FileLocator, cfg config.IntakeConfig, opts ...Option) *Intake {
	in := &Intake{
		locator:  locator,
		client:   http.DefaultClient,
		dir:      cfg.DownloadsDir,
		maxBytes: cfg.MaxBytes,
		timeout:  cfg.Timeout,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Dir returns the downloads directory.
func (in *Intake) Dir() string { return in.dir }

// Download fetches the attachment and returns the local path.
// Failures are returned as *IntakeError.
func (in *Intake) Download(ctx context.Context, att messenger.Attachment) (string, error) {
	fail := func(err error) (string, error) {
		return "", &IntakeError{Kind: KindTransferFailed, UniqueID: att.UniqueID, Err: err}
	}

	if att.UniqueID == "" || strings.ContainsAny(att.UniqueID, `/\`) || att.UniqueID == "." || att.UniqueID == ".." {
		return fail(fmt.Errorf("invalid file unique id %q", att.UniqueID))
	}

	if in.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.timeout)
		defer cancel()
	}

	url, err := in.locator.FileURL(ctx, att.FileID)
	if err != nil {
		return fail(err)
	}

	if err := os.MkdirAll(in.dir, 0o750); err != nil {
		return fail(fmt.Errorf("create downloads directory: %w", err))
	}

	dest := filepath.Join(in.dir, att.UniqueID)
	written, err := in.fetch(ctx, url, dest)
	if err != nil {
		return fail(err)
	}

	in.logger.Info().
		Str("unique_id", att.UniqueID).
		Str("name", att.Name).
		Int64("bytes", written).
		Str("path", dest).
		Msg("File stored")
	return dest, nil
}

// fetch streams url into a temporary file next to dest and renames it into
// place once complete.
func (in *Intake) fetch(ctx context.Context, url, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	resp, err := in.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return 0, fmt.Errorf("download file status: %d", resp.StatusCode)
	}
	if in.maxBytes > 0 && resp.ContentLength > in.maxBytes {
		return 0, fmt.Errorf("%w: max %d bytes", ErrTooLarge, in.maxBytes)
	}

	tmp := filepath.Join(filepath.Dir(dest), fmt.Sprintf(".%s.%s.part", filepath.Base(dest), uuid.NewString()))
	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}

	var body io.Reader = resp.Body
	if in.maxBytes > 0 {
		body = io.LimitReader(resp.Body, in.maxBytes+1)
	}
	written, err := io.Copy(file, body)
	if err == nil && in.maxBytes > 0 && written > in.maxBytes {
		err = fmt.Errorf("%w: max %d bytes", ErrTooLarge, in.maxBytes)
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("write file: %w", err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("replace file: %w", err)
	}
	return written, nil
}
