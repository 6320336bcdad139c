package media

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"whatsrelay/internal/constants"
	"whatsrelay/internal/errors"
	"whatsrelay/internal/security"
	pkgconstants "whatsrelay/pkg/constants"
	"whatsrelay/pkg/whatsapp"

	"github.com/sirupsen/logrus"
)

const uploadsDir = "uploads"

// Config configures local media storage
type Config struct {
	Dir       string
	URLPrefix string
	MaxBytes  int64
}

// StoredFile describes a file written under the media directory
type StoredFile struct {
	Path string
	URL  string
	Name string
}

// Store keeps downloaded and uploaded media in per-table directories and
// hands out the URL the chat UI uses to display them.
type Store struct {
	dir       string
	urlPrefix string
	maxBytes  int64
	resolver  whatsapp.MediaResolver
	logger    *logrus.Logger
	now       func() time.Time
}

// NewStore creates the media root if needed
func NewStore(cfg Config, resolver whatsapp.MediaResolver, logger *logrus.Logger) (*Store, error) {
	if cfg.Dir == "" {
		cfg.Dir = constants.DefaultMediaDir
	}
	if cfg.URLPrefix == "" {
		cfg.URLPrefix = constants.DefaultMediaURLPrefix
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = pkgconstants.DefaultMaxMediaSizeMB * pkgconstants.BytesPerMegabyte
	}
	if logger == nil {
		logger = logrus.New()
	}
	if err := os.MkdirAll(cfg.Dir, pkgconstants.DefaultDirectoryPermissions); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}

	return &Store{
		dir:       cfg.Dir,
		urlPrefix: "/" + strings.Trim(cfg.URLPrefix, "/"),
		maxBytes:  cfg.MaxBytes,
		resolver:  resolver,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Dir returns the media root directory
func (s *Store) Dir() string { return s.dir }

// URLPrefix returns the URL path under which the media root is served
func (s *Store) URLPrefix() string { return s.urlPrefix }

// Fetch downloads provider media in two steps (resolve id to URL, then
// download) and stores it as <table>/<mediaID><ext>. It returns the local
// URL. mimeHint is the MIME type announced in the webhook, used when the
// download carries no usable Content-Type.
func (s *Store) Fetch(ctx context.Context, acct whatsapp.Account, table, mediaID, mimeHint string) (string, error) {
	if !security.IsSafeIdentifier(mediaID) {
		return "", errors.NewMediaError("fetch", mediaID, fmt.Errorf("media id is not a safe file name"))
	}

	info, err := s.resolver.GetMediaInfo(ctx, acct, mediaID)
	if err != nil {
		return "", errors.NewMediaError("resolve", mediaID, err)
	}

	data, contentType, err := s.resolver.DownloadMedia(ctx, acct, info.URL, s.maxBytes)
	if err != nil {
		return "", errors.NewMediaError("download", mediaID, err)
	}

	ext := ExtensionFor(contentType, info.MimeType, mimeHint)
	name := mediaID + ext
	if _, err := s.write(table, name, data); err != nil {
		return "", errors.NewMediaError("store", mediaID, err)
	}

	s.logger.WithFields(logrus.Fields{
		"table":    table,
		"media_id": mediaID,
		"bytes":    len(data),
	}).Debug("Stored inbound media")

	return s.url(table, name), nil
}

// SaveUpload stores an operator upload as <table>/uploads/<timestamp>_<name>
func (s *Store) SaveUpload(table, filename string, content io.Reader) (*StoredFile, error) {
	clean, err := security.SanitizeFileName(filename)
	if err != nil {
		return nil, errors.NewValidationError("image", filename, "invalid file name")
	}

	data, err := io.ReadAll(io.LimitReader(content, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, errors.NewValidationError("image", filename, fmt.Sprintf("file exceeds %d bytes", s.maxBytes))
	}
	if len(data) == 0 {
		return nil, errors.NewValidationError("image", filename, "file is empty")
	}

	name := path.Join(uploadsDir, s.now().Format("20060102_150405")+"_"+clean)
	fullPath, err := s.write(table, name, data)
	if err != nil {
		return nil, err
	}

	return &StoredFile{
		Path: fullPath,
		URL:  s.url(table, name),
		Name: clean,
	}, nil
}

func (s *Store) write(table, name string, data []byte) (string, error) {
	fullPath, err := security.ResolveWithin(s.dir, filepath.Join(table, filepath.FromSlash(name)))
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, pkgconstants.DefaultDirectoryPermissions); err != nil {
		return "", fmt.Errorf("failed to create media directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".incoming_*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write media file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close media file: %w", err)
	}
	if err := os.Chmod(tmpName, pkgconstants.DefaultFilePermissions); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to set media file permissions: %w", err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to move media file into place: %w", err)
	}
	return fullPath, nil
}

func (s *Store) url(table, name string) string {
	return path.Join(s.urlPrefix, table, name)
}

// ExtensionFor returns the file extension for the first recognized content
// type among candidates, or the default image extension.
func ExtensionFor(candidates ...string) string {
	for _, ct := range candidates {
		if ct == "" {
			continue
		}
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil {
			continue
		}
		if ext, ok := constants.ContentTypeToExtension[strings.ToLower(mediaType)]; ok {
			return ext
		}
	}
	return constants.DefaultImageExtension
}

// MimeTypeForUpload picks the MIME type sent to the provider for an upload
func MimeTypeForUpload(filename, declared string) string {
	if mediaType, _, err := mime.ParseMediaType(declared); err == nil {
		for _, accepted := range constants.ImageMimeTypes {
			if strings.EqualFold(mediaType, accepted) {
				return accepted
			}
		}
	}
	if mt, ok := constants.ImageMimeTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return mt
	}
	return constants.DefaultMimeType
}
