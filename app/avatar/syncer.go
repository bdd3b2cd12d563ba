package avatar

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lysyi3m/timeline-sync/app/database"
	"github.com/lysyi3m/timeline-sync/app/metrics"
	"github.com/lysyi3m/timeline-sync/app/syncerr"
)

type Options struct {
	Dir     string // local directory avatar files are written to
	BaseURL string // public prefix prepended to filenames
	Fetcher Fetcher
	Metrics *metrics.Metrics
}

// Syncer keeps a profile's stored avatar variants in line with the remote
// image. It holds no store handle; callers pass their own.
type Syncer struct {
	fetcher Fetcher
	dir     string
	baseURL string
	metrics *metrics.Metrics
}

func NewSyncer(opts Options) *Syncer {
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = NewHTTPFetcher(nil, "")
	}
	return &Syncer{
		fetcher: fetcher,
		dir:     opts.Dir,
		baseURL: opts.BaseURL,
		metrics: opts.Metrics,
	}
}

// SaveInitial fetches and records every variant for a newly created profile.
// It returns the number of variants stored; failed variants are logged and skipped.
func (s *Syncer) SaveInitial(ctx context.Context, db *database.DB, profileID int64, src Source) (int, error) {
	ref, err := parseImageURL(src.ImageURL)
	if err != nil {
		return 0, syncerr.NewValidation("save avatars", err)
	}

	return s.storeAll(ctx, db, profileID, src, ref), nil
}

// CheckAndRefresh refetches all variants when the remote image differs from the
// stored normal-size avatar. It reports whether a refresh was attempted.
func (s *Syncer) CheckAndRefresh(ctx context.Context, db *database.DB, profileID int64, src Source) (bool, error) {
	ref, err := parseImageURL(src.ImageURL)
	if err != nil {
		return false, syncerr.NewValidation("check avatar", err)
	}

	expected := ref.filename(src, Normal)

	stored, err := database.NewAvatarRepository(db).ListAvatars(ctx, profileID)
	if err != nil {
		return false, syncerr.NewPersistence("check avatar", err)
	}

	current := make(map[string]string, len(stored))
	for _, a := range stored {
		current[a.SizeVariant] = a.Filename
	}
	if current[Normal.String()] == expected {
		return false, nil
	}

	slog.Debug("Avatar changed", "profile", profileID, "new", expected)

	// Variants already holding the new image are left alone.
	var missing []Variant
	for _, v := range Variants {
		if current[v.String()] != ref.filename(src, v) {
			missing = append(missing, v)
		}
	}
	s.storeAll(ctx, db, profileID, src, ref, missing...)

	return true, nil
}

// storeAll stores the given variants, or every variant when none are given
func (s *Syncer) storeAll(ctx context.Context, db *database.DB, profileID int64, src Source, ref imageRef, variants ...Variant) int {
	if len(variants) == 0 {
		variants = Variants
	}

	stored := 0
	for _, v := range variants {
		if err := s.storeVariant(ctx, db, profileID, src, ref, v); err != nil {
			slog.Warn("Problem fetching avatar", "profile", profileID, "variant", v.String(), "url", ref.url(v), "error", err)
			continue
		}
		s.metrics.AvatarStored(v.String())
		stored++
	}
	return stored
}

// storeVariant downloads one variant and replaces the profile's row for it.
// The download happens before the transaction is opened.
func (s *Syncer) storeVariant(ctx context.Context, db *database.DB, profileID int64, src Source, ref imageRef, v Variant) error {
	filename := ref.filename(src, v)

	if err := s.download(ctx, ref.url(v), filename); err != nil {
		return syncerr.NewTransient("fetch avatar", err)
	}

	var replaced *database.Avatar
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		repo := database.NewAvatarRepository(tx)

		old, err := repo.GetAvatar(ctx, profileID, v.String())
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			return err
		}
		if old != nil {
			if err := repo.DeleteAvatar(ctx, old.ID); err != nil {
				return err
			}
			replaced = old
		}

		_, err = repo.InsertAvatar(ctx, database.Avatar{
			ProfileID:   profileID,
			SizeVariant: v.String(),
			Width:       v.Size(),
			Height:      v.Size(),
			MediaType:   MediaType(ref.ext),
			Filename:    filename,
			URL:         s.baseURL + filename,
			CreatedAt:   time.Now(),
		})
		return err
	})
	if err != nil {
		if replaced == nil || replaced.Filename != filename {
			s.remove(filename)
		}
		return syncerr.NewPersistence("store avatar", err)
	}

	if replaced != nil && replaced.Filename != filename {
		slog.Debug("Deleting replaced avatar", "profile", profileID, "variant", v.String(), "filename", replaced.Filename)
		s.remove(replaced.Filename)
	}

	return nil
}

// download writes to a temporary file first so a failed fetch never clobbers a stored image
func (s *Syncer) download(ctx context.Context, url, filename string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create avatar directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".avatar-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := s.fetcher.Fetch(ctx, url, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write avatar: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path(filename)); err != nil {
		return fmt.Errorf("failed to move avatar into place: %w", err)
	}

	return nil
}

func (s *Syncer) remove(filename string) {
	if err := os.Remove(s.path(filename)); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to delete avatar file", "filename", filename, "error", err)
	}
}

func (s *Syncer) path(filename string) string {
	return filepath.Join(s.dir, filepath.Base(strings.ReplaceAll(filename, "..", "")))
}
