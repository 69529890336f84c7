// Package asset stores record images on the local filesystem and keeps each
// record's thumbnail in step with the remote image URL.
package asset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/spinsync/internal/store"
	"github.com/hyperengineering/spinsync/internal/types"
)

// ErrNoAttachment is returned when an attachment id resolves to no file.
var ErrNoAttachment = errors.New("attachment not found")

// MetaThumbnailID is the record metadata key linking a record to its thumbnail.
const MetaThumbnailID = "_thumbnail_id"

// Size is one derived variant size.
type Size struct {
	Width  int
	Height int
}

// Options configures a FileStore.
type Options struct {
	RootDir    string
	Variants   []Size
	Timeout    time.Duration
	HTTPClient *http.Client
}

// FileStore keeps downloaded assets under RootDir and indexes them in the
// attachment table.
type FileStore struct {
	root     string
	index    store.AttachmentIndex
	variants []Size
	client   *http.Client
	now      func() time.Time
}

// NewFileStore creates a FileStore.
func NewFileStore(index store.AttachmentIndex, opts Options) *FileStore {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &FileStore{
		root:     opts.RootDir,
		index:    index,
		variants: opts.Variants,
		client:   client,
		now:      time.Now,
	}
}

// ThumbnailID returns the attachment id linked to the owner as its thumbnail.
func (fs *FileStore) ThumbnailID(ctx context.Context, ownerID string) (string, bool, error) {
	id, err := fs.index.GetMeta(ctx, ownerID, MetaThumbnailID)
	if err != nil {
		return "", false, err
	}
	return id, id != "", nil
}

// SetThumbnail links an attachment to its owner as the owner's thumbnail.
func (fs *FileStore) SetThumbnail(ctx context.Context, ownerID, attachmentID string) error {
	return fs.index.SetMeta(ctx, ownerID, MetaThumbnailID, attachmentID)
}

// CacheURL downloads rawURL into a new file under the asset root and
// returns its path. Nothing is left on disk when the download fails.
func (fs *FileStore) CacheURL(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := fs.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: unexpected status %s", rawURL, resp.Status)
	}

	dir := filepath.Join(fs.root, fs.now().UTC().Format("2006"), fs.now().UTC().Format("01"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create asset directory: %w", err)
	}

	name := strings.ToLower(ulid.Make().String()) + extensionFor(rawURL, resp.Header.Get("Content-Type"))
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("download %s: %w", rawURL, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close download: %w", err)
	}

	dst := filepath.Join(dir, name)
	if err := os.Rename(tmpPath, dst); err != nil {
		return "", fmt.Errorf("move download: %w", err)
	}
	return dst, nil
}

// SaveFromURL downloads rawURL and registers it as a new attachment of the
// owner. A variant generation failure is logged and does not fail the save.
func (fs *FileStore) SaveFromURL(ctx context.Context, rawURL, ownerID string) (string, error) {
	p, err := fs.CacheURL(ctx, rawURL)
	if err != nil {
		return "", err
	}

	id, err := fs.index.CreateAttachment(ctx, ownerID, p, rawURL)
	if err != nil {
		fs.RemoveFile(p)
		return "", fmt.Errorf("create attachment: %w", err)
	}

	if _, err := fs.RegenerateVariants(ctx, id, p); err != nil {
		logVariantFailure(id, ownerID, err)
	}
	return id, nil
}

// AttachedFilePath resolves the file of an attachment.
func (fs *FileStore) AttachedFilePath(ctx context.Context, attachmentID string) (string, error) {
	att, err := fs.index.GetAttachment(ctx, attachmentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrNoAttachment
		}
		return "", err
	}
	return att.Path, nil
}

// UpdateAttachedFilePath points an attachment at a new file.
func (fs *FileStore) UpdateAttachedFilePath(ctx context.Context, attachmentID, p, sourceURL string) error {
	if err := fs.index.UpdateAttachmentPath(ctx, attachmentID, p, sourceURL); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoAttachment
		}
		return err
	}
	return nil
}

// RegenerateVariants writes one cropped variant per configured size next to
// the attachment file and returns their paths.
func (fs *FileStore) RegenerateVariants(ctx context.Context, attachmentID, p string) ([]string, error) {
	if len(fs.variants) == 0 {
		return nil, nil
	}

	src, err := imaging.Open(p)
	if err != nil {
		return nil, fmt.Errorf("decode attachment %s: %w", attachmentID, err)
	}

	paths := make([]string, 0, len(fs.variants))
	for _, size := range fs.variants {
		if err := ctx.Err(); err != nil {
			return paths, err
		}
		dst := VariantPath(p, size)
		img := imaging.Fill(src, size.Width, size.Height, imaging.Center, imaging.Lanczos)
		if err := imaging.Save(img, dst); err != nil {
			return paths, fmt.Errorf("save variant %dx%d: %w", size.Width, size.Height, err)
		}
		paths = append(paths, dst)
	}
	return paths, nil
}

// VariantPath returns the path of the size variant of basePath:
// <dir>/<base>-<w>x<h><ext>.
func VariantPath(basePath string, size Size) string {
	ext := filepath.Ext(basePath)
	return fmt.Sprintf("%s-%dx%d%s", strings.TrimSuffix(basePath, ext), size.Width, size.Height, ext)
}

// DeriveVariantPaths lists every sibling file named <base>-* next to basePath.
func (fs *FileStore) DeriveVariantPaths(basePath string) ([]string, error) {
	base := strings.TrimSuffix(filepath.Base(basePath), filepath.Ext(basePath))
	pattern := filepath.Join(filepath.Dir(basePath), globEscape(base)+"-*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob variants: %w", err)
	}
	return matches, nil
}

// RemoveFile deletes an asset file and its derived variants. Files that are
// already gone are ignored.
func (fs *FileStore) RemoveFile(p string) error {
	if p == "" {
		return nil
	}
	variants, err := fs.DeriveVariantPaths(p)
	if err != nil {
		return err
	}
	for _, f := range append([]string{p}, variants...) {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", f, err)
		}
	}
	return nil
}

// RemoveOwned deletes the files of every attachment owned by ownerIDs and
// returns how many attachments were cleared. Attachment rows are left for
// the record delete to cascade.
func (fs *FileStore) RemoveOwned(ctx context.Context, ownerIDs []string) (int, error) {
	atts, err := fs.index.AttachmentsFor(ctx, ownerIDs)
	if err != nil {
		return 0, fmt.Errorf("list attachments: %w", err)
	}
	n := 0
	for _, att := range atts {
		if err := fs.RemoveFile(att.Path); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Attachments returns the attachments owned by ownerID.
func (fs *FileStore) Attachments(ctx context.Context, ownerID string) ([]types.Attachment, error) {
	return fs.index.AttachmentsFor(ctx, []string{ownerID})
}

func logVariantFailure(attID, ownerID string, err error) {
	slog.Warn("variant generation failed",
		"component", "asset",
		"action", "regenerate_variants",
		"attachment_id", attID,
		"record_id", ownerID,
		"error", err,
	)
}

var knownExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true, ".tif": true, ".tiff": true,
}

func extensionFor(rawURL, contentType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if ext := strings.ToLower(path.Ext(u.Path)); knownExtensions[ext] {
			return ext
		}
	}
	switch {
	case strings.HasPrefix(contentType, "image/png"):
		return ".png"
	case strings.HasPrefix(contentType, "image/gif"):
		return ".gif"
	}
	return ".jpg"
}

func globEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`)
	return r.Replace(s)
}
