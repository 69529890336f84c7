// Package prefetch reads and writes prefetch snapshots: previously downloaded
// full-result JSON files that replace live pagination for a scope.
//
// Layout under the prefetch directory:
//
//	artists.json          one ArtistPage holding every artist
//	offers-<artist>.json  array of OfferPage, every page of one artist
package prefetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/hyperengineering/spinsync/internal/snapshot"
	"github.com/hyperengineering/spinsync/internal/types"
)

// ErrSnapshotMissing is returned when no snapshot exists for a scope/key.
var ErrSnapshotMissing = errors.New("prefetch snapshot missing")

// ArtistsFile is the snapshot file name of the artist listing.
const ArtistsFile = "artists.json"

// OffersFile returns the snapshot file name of one artist's offers.
func OffersFile(artistID int64) string {
	return "offers-" + strconv.FormatInt(artistID, 10) + ".json"
}

// Source reads prefetch snapshots.
type Source struct {
	dir    string
	mirror snapshot.Mirror
}

// NewSource creates a Source over dir. A nil mirror disables remote lookup.
func NewSource(dir string, mirror snapshot.Mirror) *Source {
	if mirror == nil {
		mirror = snapshot.NoopMirror{}
	}
	return &Source{dir: dir, mirror: mirror}
}

// Artists reads the artist snapshot.
func (s *Source) Artists(ctx context.Context) (*types.ArtistPage, error) {
	var page types.ArtistPage
	if err := s.read(ctx, ArtistsFile, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Offers reads every snapshot page of one artist's offers.
func (s *Source) Offers(ctx context.Context, artistID int64) ([]types.OfferPage, error) {
	var pages []types.OfferPage
	if err := s.read(ctx, OffersFile(artistID), &pages); err != nil {
		return nil, err
	}
	return pages, nil
}

func (s *Source) read(ctx context.Context, name string, out any) error {
	path := filepath.Join(s.dir, name)
	if err := s.ensureLocal(ctx, name, path); err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read snapshot %s: %w", name, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode snapshot %s: %w", name, err)
	}
	return nil
}

// ensureLocal makes sure the snapshot exists on disk, pulling it from the
// mirror when only a remote copy exists.
func (s *Source) ensureLocal(ctx context.Context, name, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat snapshot %s: %w", name, err)
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create prefetch directory: %w", err)
	}
	err := s.mirror.Download(ctx, name, path)
	if err == nil {
		slog.Debug("prefetch snapshot pulled from mirror",
			"component", "prefetch",
			"action", "mirror_download",
			"file", name,
		)
		return nil
	}
	if !errors.Is(err, snapshot.ErrNotConfigured) && !errors.Is(err, snapshot.ErrObjectMissing) {
		slog.Warn("prefetch mirror download failed",
			"component", "prefetch",
			"action", "mirror_download",
			"file", name,
			"error", err,
		)
	}
	return fmt.Errorf("%w: %s", ErrSnapshotMissing, name)
}

// Lister is the part of the remote API client the Writer walks.
type Lister interface {
	ListArtists(ctx context.Context, p types.ListParams) (*types.ArtistPage, error)
	ListOffers(ctx context.Context, p types.ListParams) (*types.OfferPage, error)
}

// Writer downloads full result sets from the remote API into snapshot files.
type Writer struct {
	dir     string
	api     Lister
	mirror  snapshot.Mirror
	perPage int
}

// NewWriter creates a Writer. A nil mirror disables mirroring.
func NewWriter(dir string, api Lister, mirror snapshot.Mirror, perPage int) *Writer {
	if mirror == nil {
		mirror = snapshot.NoopMirror{}
	}
	if perPage <= 0 {
		perPage = 100
	}
	return &Writer{dir: dir, api: api, mirror: mirror, perPage: perPage}
}

// WriteArtists walks every artist page and writes artists.json. It returns
// the remote ids of the artists written.
func (w *Writer) WriteArtists(ctx context.Context) ([]int64, error) {
	all := types.ArtistPage{CurrentPage: 1, TotalPages: 1, Artists: []types.RemoteArtist{}}
	for page := 1; ; {
		res, err := w.api.ListArtists(ctx, types.ListParams{Page: page, PerPage: w.perPage})
		if err != nil {
			return nil, err
		}
		all.Artists = append(all.Artists, res.Artists...)
		next, more := types.NextPage(page, res.CurrentPage, res.TotalPages)
		if !more {
			break
		}
		page = next
	}
	all.TotalEntries = len(all.Artists)
	all.PerPage = len(all.Artists)

	if err := w.write(ctx, ArtistsFile, all); err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(all.Artists))
	for _, a := range all.Artists {
		ids = append(ids, a.ID)
	}
	return ids, nil
}

// WriteOffers walks every offer page of each artist and writes one
// offers-<artist>.json per artist. It stops at the first failure.
func (w *Writer) WriteOffers(ctx context.Context, artistIDs []int64) error {
	for _, artistID := range artistIDs {
		var pages []types.OfferPage
		for page := 1; ; {
			res, err := w.api.ListOffers(ctx, types.ListParams{Page: page, PerPage: w.perPage, ArtistID: artistID})
			if err != nil {
				return fmt.Errorf("artist %d: %w", artistID, err)
			}
			pages = append(pages, *res)
			next, more := types.NextPage(page, res.CurrentPage, res.TotalPages)
			if !more {
				break
			}
			page = next
		}
		if err := w.write(ctx, OffersFile(artistID), pages); err != nil {
			return err
		}
	}
	return nil
}

// write stores v as JSON under name via a temp file and rename, then mirrors it.
func (w *Writer) write(ctx context.Context, name string, v any) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("create prefetch directory: %w", err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(w.dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot %s: %w", name, err)
	}

	path := filepath.Join(w.dir, name)
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename snapshot %s: %w", name, err)
	}

	slog.Info("prefetch snapshot written",
		"component", "prefetch",
		"action", "write",
		"file", name,
		"bytes", len(data),
	)

	if err := w.mirror.Upload(ctx, name, path); err != nil {
		slog.Warn("prefetch mirror upload failed",
			"component", "prefetch",
			"action", "mirror_upload",
			"file", name,
			"error", err,
		)
	}
	return nil
}

// Purge deletes every prefetch snapshot, locally and in the mirror. It
// returns the number of local files removed.
func Purge(ctx context.Context, dir string, mirror snapshot.Mirror) (int, error) {
	if mirror == nil {
		mirror = snapshot.NoopMirror{}
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*"))
	if err != nil {
		return 0, fmt.Errorf("list prefetch directory: %w", err)
	}

	removed := 0
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("remove %s: %w", path, err)
		}
		removed++

		name := filepath.Base(path)
		if err := mirror.Remove(ctx, name); err != nil {
			slog.Warn("prefetch mirror remove failed",
				"component", "prefetch",
				"action", "mirror_remove",
				"file", name,
				"error", err,
			)
		}
	}
	return removed, nil
}
