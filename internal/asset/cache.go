package asset

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Store is the asset store the Cache drives.
type Store interface {
	ThumbnailID(ctx context.Context, ownerID string) (string, bool, error)
	SetThumbnail(ctx context.Context, ownerID, attachmentID string) error
	SaveFromURL(ctx context.Context, rawURL, ownerID string) (string, error)
	CacheURL(ctx context.Context, rawURL string) (string, error)
	AttachedFilePath(ctx context.Context, attachmentID string) (string, error)
	UpdateAttachedFilePath(ctx context.Context, attachmentID, path, sourceURL string) error
	RegenerateVariants(ctx context.Context, attachmentID, path string) ([]string, error)
	DeriveVariantPaths(basePath string) ([]string, error)
}

var _ Store = (*FileStore)(nil)

// Cache attaches remote images to records, replacing a previous thumbnail
// in place.
type Cache struct {
	store Store
}

// NewCache creates a Cache over an asset store.
func NewCache(s Store) *Cache {
	return &Cache{store: s}
}

// FetchAndAttach downloads rawURL and makes it the owner's thumbnail.
//
// When the owner already has a thumbnail, the new file is fetched first; on
// failure the existing asset is left untouched. Otherwise the old file and
// every <base>-* variant beside it are deleted before the attachment is
// pointed at the new file and its variants regenerated. A crash between the
// delete and the update leaves the attachment pointing at a missing file.
func (c *Cache) FetchAndAttach(ctx context.Context, rawURL, ownerID string) (string, error) {
	attID, ok, err := c.store.ThumbnailID(ctx, ownerID)
	if err != nil {
		return "", fmt.Errorf("resolve thumbnail: %w", err)
	}
	if ok {
		if _, err := c.store.AttachedFilePath(ctx, attID); errors.Is(err, ErrNoAttachment) {
			ok = false
		}
	}

	if !ok {
		attID, err := c.store.SaveFromURL(ctx, rawURL, ownerID)
		if err != nil {
			return "", fmt.Errorf("save asset: %w", err)
		}
		if err := c.store.SetThumbnail(ctx, ownerID, attID); err != nil {
			return "", fmt.Errorf("link thumbnail: %w", err)
		}
		return attID, nil
	}

	newPath, err := c.store.CacheURL(ctx, rawURL)
	if err != nil {
		return "", fmt.Errorf("cache asset: %w", err)
	}

	oldPath, err := c.store.AttachedFilePath(ctx, attID)
	if err != nil {
		os.Remove(newPath)
		return "", fmt.Errorf("resolve attached file: %w", err)
	}
	if err := c.removeWithVariants(oldPath); err != nil {
		os.Remove(newPath)
		return "", err
	}

	if err := c.store.UpdateAttachedFilePath(ctx, attID, newPath, rawURL); err != nil {
		return "", fmt.Errorf("update attached file: %w", err)
	}
	if _, err := c.store.RegenerateVariants(ctx, attID, newPath); err != nil {
		logVariantFailure(attID, ownerID, err)
	}
	return attID, nil
}

func (c *Cache) removeWithVariants(p string) error {
	if p == "" {
		return nil
	}
	if _, err := os.Stat(p); err != nil {
		return nil
	}
	if err := os.Remove(p); err != nil {
		return fmt.Errorf("remove old asset: %w", err)
	}
	variants, err := c.store.DeriveVariantPaths(p)
	if err != nil {
		return err
	}
	for _, v := range variants {
		if err := os.Remove(v); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove variant: %w", err)
		}
	}
	return nil
}
