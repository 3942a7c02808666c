// Package archive owns permanent storage for committed submission
// archives: the admission decision (format, size, quota), the move into
// the storage root, and later deletion.
package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"sportello/internal/platform/config"
	dErrors "sportello/pkg/domain-errors"
)

// RejectReason labels why admission failed, for metrics and alerts.
type RejectReason string

const (
	RejectExtension RejectReason = "extension"
	RejectMIME      RejectReason = "mime"
	RejectFileSize  RejectReason = "file_size"
	RejectQuota     RejectReason = "quota"
)

// Accepted ZIP content-type signatures. The candidate's bytes decide,
// never its name.
var allowedMIMETypes = []string{
	"application/zip",
	"application/x-zip-compressed",
	"multipart/x-zip",
}

// AlertNotifier receives operator alerts when the aggregate policy
// rejects a candidate.
type AlertNotifier interface {
	StorageAlert(ctx context.Context, usage, attempted, limit int64, mode config.QuotaMode)
}

// StoredFile describes a committed archive.
type StoredFile struct {
	Name string
	Path string
	Size int64
}

// Controller enforces admission policy for the storage root.
type Controller struct {
	root        string
	maxFileSize int64
	quotaMode   config.QuotaMode
	minFree     int64
	maxTotal    int64
	alerts      AlertNotifier
	logger      *slog.Logger

	// freeSpace is swappable in tests; defaults to statfs on the root.
	freeSpace func(path string) (int64, error)

	// gate serializes admission decisions so two concurrent uploads near
	// the quota boundary cannot both pass the aggregate check.
	gate sync.Mutex
}

// NewController creates the storage root if needed and returns a
// Controller configured from cfg.
func NewController(cfg *config.Config, alerts AlertNotifier, logger *slog.Logger) (*Controller, error) {
	if err := os.MkdirAll(cfg.StorageDir, 0o750); err != nil {
		return nil, fmt.Errorf("create storage root %s: %w", cfg.StorageDir, err)
	}
	return &Controller{
		root:        cfg.StorageDir,
		maxFileSize: cfg.MaxFileSize,
		quotaMode:   cfg.QuotaMode,
		minFree:     cfg.MinFreeSpace,
		maxTotal:    cfg.MaxArchiveSize,
		alerts:      alerts,
		logger:      logger.With(slog.String("component", "archive")),
		freeSpace:   diskFree,
	}, nil
}

// Admit runs the admission checks in order and, on acceptance, moves the
// candidate into the storage root under a deterministic name. On any
// rejection the candidate file is left untouched for the caller to
// discard. identifier is the submitter's normalized codice fiscale.
func (c *Controller) Admit(ctx context.Context, candidatePath, originalName, identifier string) (*StoredFile, error) {
	if !strings.EqualFold(filepath.Ext(originalName), ".zip") {
		return nil, reject(RejectExtension, dErrors.CodeBadRequest, "Sono ammessi solo file ZIP.")
	}

	mtype, err := mimetype.DetectFile(candidatePath)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not inspect uploaded file")
	}
	if !isAllowedMIME(mtype) {
		return nil, reject(RejectMIME, dErrors.CodeBadRequest, "Il file non è un archivio ZIP valido.")
	}

	info, err := os.Stat(candidatePath)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not stat uploaded file")
	}
	size := info.Size()

	if size > c.maxFileSize {
		return nil, reject(RejectFileSize, dErrors.CodeTooLarge,
			fmt.Sprintf("Il file supera la dimensione massima consentita di %d MB.", c.maxFileSize/(1024*1024)))
	}

	c.gate.Lock()
	defer c.gate.Unlock()

	if err := c.checkQuota(ctx, size); err != nil {
		return nil, err
	}

	destName := c.storageName(originalName, identifier, time.Now().UTC())
	destPath := filepath.Join(c.root, destName)

	if err := moveFile(candidatePath, destPath); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not commit file to storage")
	}
	if err := os.Chmod(destPath, 0o644); err != nil {
		c.logger.Warn("could not set archive permissions",
			slog.String("path", destPath),
			slog.String("error", err.Error()),
		)
	}

	c.logger.InfoContext(ctx, "archive admitted",
		slog.String("name", destName),
		slog.Int64("size", size),
	)

	return &StoredFile{Name: destName, Path: destPath, Size: size}, nil
}

// checkQuota applies the single active aggregate policy and fires
// exactly one operator alert when it rejects.
func (c *Controller) checkQuota(ctx context.Context, size int64) error {
	switch c.quotaMode {
	case config.QuotaTotalUsage:
		usage, err := c.TotalUsage()
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "could not compute archive usage")
		}
		if usage+size > c.maxTotal {
			c.alert(ctx, usage, size, c.maxTotal)
			return reject(RejectQuota, dErrors.CodeTooLarge,
				"Lo spazio di archiviazione è esaurito. Contattare l'amministratore.")
		}
	default:
		free, err := c.freeSpace(c.root)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "could not check available disk space")
		}
		if free < size+c.minFree {
			c.alert(ctx, free, size, c.minFree)
			return reject(RejectQuota, dErrors.CodeTooLarge,
				"Spazio disco insufficiente sul server. Contattare l'amministratore.")
		}
	}
	return nil
}

func (c *Controller) alert(ctx context.Context, usage, attempted, limit int64) {
	if c.alerts == nil {
		return
	}
	c.alerts.StorageAlert(ctx, usage, attempted, limit, c.quotaMode)
}

// TotalUsage returns the summed size of all committed archives.
func (c *Controller) TotalUsage() (int64, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return 0, fmt.Errorf("read storage root: %w", err)
	}
	var total int64
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".zip") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

// FreeSpace returns available bytes on the storage volume.
func (c *Controller) FreeSpace() (int64, error) {
	return c.freeSpace(c.root)
}

// Quota reports the active mode and its threshold for the admin stats
// endpoint.
func (c *Controller) Quota() (config.QuotaMode, int64) {
	if c.quotaMode == config.QuotaTotalUsage {
		return c.quotaMode, c.maxTotal
	}
	return c.quotaMode, c.minFree
}

// Open opens a committed archive for streaming. The path must have been
// produced by Admit.
func (c *Controller) Open(path string) (*os.File, os.FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, dErrors.New(dErrors.CodeNotFound, "Il file non esiste più sul server.")
		}
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not open archive")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not stat archive")
	}
	return f, info, nil
}

// Delete removes a committed archive. Missing files are not an error;
// the record is the source of truth for deletion flows.
func (c *Controller) Delete(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete archive %s: %w", path, err)
	}
	return nil
}

// storageName builds the deterministic destination name
// {timestamp}_{identifier}_{original-base}.zip.
func (c *Controller) storageName(originalName, identifier string, now time.Time) string {
	base := strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName))
	return fmt.Sprintf("%s_%s_%s.zip",
		now.Format("20060102150405"),
		sanitize(identifier),
		sanitize(base),
	)
}

// sanitize keeps letters, digits, dash and underscore; everything else
// is dropped. Empty results fall back to "file".
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "file"
	}
	out := b.String()
	if len(out) > 50 {
		out = out[:50]
	}
	return out
}

func isAllowedMIME(mtype *mimetype.MIME) bool {
	for _, allowed := range allowedMIMETypes {
		if mtype.Is(allowed) {
			return true
		}
	}
	return false
}

func reject(reason RejectReason, code dErrors.Code, msg string) error {
	return &RejectionError{Reason: reason, err: dErrors.New(code, msg)}
}

// RejectionError wraps a domain error with the admission reject reason
// so callers can label metrics without parsing messages.
type RejectionError struct {
	Reason RejectReason
	err    error
}

func (e *RejectionError) Error() string { return e.err.Error() }
func (e *RejectionError) Unwrap() error { return e.err }

// moveFile renames src to dst, falling back to copy+remove when the
// scratch and storage roots live on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}

	return os.Remove(src)
}
