package importer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/timeline-sync/app/avatar"
	"github.com/lysyi3m/timeline-sync/app/cache"
	"github.com/lysyi3m/timeline-sync/app/database"
	"github.com/lysyi3m/timeline-sync/app/metrics"
	"github.com/lysyi3m/timeline-sync/app/remote"
	"github.com/lysyi3m/timeline-sync/app/service"
	"github.com/lysyi3m/timeline-sync/app/syncerr"
)

// AvatarSyncer is the part of avatar.Syncer the importer depends on
type AvatarSyncer interface {
	SaveInitial(ctx context.Context, db *database.DB, profileID int64, src avatar.Source) (int, error)
	CheckAndRefresh(ctx context.Context, db *database.DB, profileID int64, src avatar.Source) (bool, error)
}

type Outcome int

const (
	Imported Outcome = iota
	Duplicate
	SelfSourced
)

func (o Outcome) String() string {
	switch o {
	case Imported:
		return "imported"
	case Duplicate:
		return "duplicate"
	case SelfSourced:
		return "self_sourced"
	default:
		return "unknown"
	}
}

// Result counts the outcomes of one imported timeline
type Result struct {
	Imported    int
	Duplicates  int
	SelfSourced int
	Failed      int
}

type Options struct {
	// SourceTag marks statuses that originated here; empty disables the filter.
	SourceTag string
	Avatars   AvatarSyncer
	Cache     cache.URICache
	Metrics   *metrics.Metrics
}

// Importer turns remote statuses into local notices for one service. It is
// bound to a single store handle and must not be shared between workers.
type Importer struct {
	db        *database.DB
	svc       *service.Service
	sourceTag string
	avatars   AvatarSyncer
	cache     cache.URICache
	metrics   *metrics.Metrics
	extract   *extractor
}

func New(db *database.DB, svc *service.Service, opts Options) *Importer {
	uriCache := opts.Cache
	if uriCache == nil {
		uriCache = cache.Noop{}
	}

	return &Importer{
		db:        db,
		svc:       svc,
		sourceTag: opts.SourceTag,
		avatars:   opts.Avatars,
		cache:     uriCache,
		metrics:   opts.Metrics,
		extract:   newExtractor(),
	}
}

// ImportTimeline imports statuses in the given order. A failing status is
// logged and counted; the rest of the batch still runs.
func (imp *Importer) ImportTimeline(ctx context.Context, statuses []remote.Status, account database.LinkedAccount) Result {
	var result Result

	for _, status := range statuses {
		outcome, err := imp.ImportStatus(ctx, status, account)
		if err != nil {
			result.Failed++
			imp.metrics.StatusSkipped(metrics.ReasonFailed)
			slog.Warn("Failed to import status", "service", imp.svc.Name, "account", account.ID,
				"status", status.ID, "kind", syncerr.KindOf(err).String(), "error", err)
			continue
		}

		switch outcome {
		case Imported:
			result.Imported++
			imp.metrics.StatusImported()
		case Duplicate:
			result.Duplicates++
			imp.metrics.StatusSkipped(metrics.ReasonDuplicate)
		case SelfSourced:
			result.SelfSourced++
			imp.metrics.StatusSkipped(metrics.ReasonSelf)
		}
	}

	return result
}

// ImportStatus stores one remote status as a notice unless it already exists
// or originated here, then ensures it sits in the account owner's inbox.
func (imp *Importer) ImportStatus(ctx context.Context, status remote.Status, account database.LinkedAccount) (Outcome, error) {
	if imp.sourceTag != "" && imp.extract.contains(status.Source, imp.sourceTag) {
		slog.Debug("Skipping import of self-sourced status", "status", status.ID, "source", status.Source)
		return SelfSourced, nil
	}

	uri := imp.svc.StatusURI(status.User.ScreenName, status.ID)

	noticeID, found, err := imp.lookupNotice(ctx, uri)
	if err != nil {
		return 0, err
	}

	outcome := Duplicate
	if !found {
		profileID, err := imp.EnsureProfile(ctx, status.User)
		if err != nil {
			return 0, err
		}

		noticeID, err = imp.createNotice(ctx, status, uri, profileID)
		switch {
		case errors.Is(err, database.ErrDuplicate):
			// A concurrent worker stored the same status first.
			if noticeID, found, err = imp.lookupNotice(ctx, uri); err != nil {
				return 0, err
			}
			if !found {
				return 0, syncerr.NewPersistence("import status", fmt.Errorf("notice %s vanished after conflict", uri))
			}
		case err != nil:
			return 0, syncerr.NewPersistence("import status", err)
		default:
			outcome = Imported
			slog.Debug("Saved status", "status", status.ID, "notice", noticeID)
		}

		if err := imp.cache.SetNoticeID(ctx, uri, noticeID); err != nil {
			slog.Warn("Failed to cache notice uri", "uri", uri, "error", err)
		}
	}

	if _, err := database.NewInboxRepository(imp.db).EnsureInboxEntry(ctx, account.LocalUserID, noticeID, time.Now()); err != nil {
		return 0, syncerr.NewPersistence("add inbox entry", err)
	}

	return outcome, nil
}

// EnsureProfile returns the local profile of a remote author, creating it on
// first sight. Avatars are fetched after the profile transaction commits.
func (imp *Importer) EnsureProfile(ctx context.Context, user remote.User) (int64, error) {
	profileURL := imp.svc.ProfileURL(user.ScreenName)
	profiles := database.NewProfileRepository(imp.db)

	existing, err := profiles.GetProfileByURL(ctx, profileURL)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return 0, syncerr.NewPersistence("lookup profile", err)
	}
	if existing != nil {
		slog.Debug("Profile found", "nickname", existing.Nickname)
		imp.refreshAvatars(ctx, existing.ID, user)
		return existing.ID, nil
	}

	slog.Debug("Adding profile and remote profile", "profile_url", profileURL)

	var profileID int64
	err = imp.db.WithTx(ctx, func(tx *sql.Tx) error {
		txProfiles := database.NewProfileRepository(tx)

		id, err := txProfiles.InsertProfile(ctx, database.Profile{
			Nickname:   user.ScreenName,
			Fullname:   user.Name,
			Homepage:   user.URL,
			Bio:        user.Description,
			Location:   user.Location,
			ProfileURL: profileURL,
			CreatedAt:  time.Now(),
		})
		if err != nil {
			return err
		}

		err = txProfiles.InsertRemoteProfile(ctx, database.RemoteProfile{ID: id, URI: profileURL, CreatedAt: time.Now()})
		if err != nil && !errors.Is(err, database.ErrDuplicate) {
			return err
		}

		profileID = id
		return nil
	})

	if errors.Is(err, database.ErrDuplicate) {
		// Lost the race to a sibling worker; use the row that won.
		winner, lookupErr := profiles.GetProfileByURL(ctx, profileURL)
		if lookupErr != nil {
			return 0, syncerr.NewPersistence("lookup profile", lookupErr)
		}
		return winner.ID, nil
	}
	if err != nil {
		return 0, syncerr.NewPersistence("create profile", err)
	}

	imp.saveAvatars(ctx, profileID, user)

	return profileID, nil
}

func (imp *Importer) lookupNotice(ctx context.Context, uri string) (int64, bool, error) {
	cachedID, cached, err := imp.cache.GetNoticeID(ctx, uri)
	if err != nil {
		slog.Warn("Notice uri cache lookup failed", "uri", uri, "error", err)
		cached = false
	}

	// A cache hit is only a hint; the id must still resolve in the store
	notice, err := database.NewNoticeRepository(imp.db).GetNoticeByURI(ctx, uri)
	if errors.Is(err, database.ErrNotFound) {
		if cached {
			slog.Warn("Dropping stale notice uri cache entry", "uri", uri, "cached_id", cachedID)
			if err := imp.cache.DeleteNoticeID(ctx, uri); err != nil {
				slog.Warn("Failed to evict notice uri", "uri", uri, "error", err)
			}
		}
		return 0, false, nil
	}
	if err != nil {
		return 0, false, syncerr.NewPersistence("lookup notice", err)
	}

	if !cached || cachedID != notice.ID {
		if err := imp.cache.SetNoticeID(ctx, uri, notice.ID); err != nil {
			slog.Warn("Failed to cache notice uri", "uri", uri, "error", err)
		}
	}

	return notice.ID, true, nil
}

// createNotice inserts the notice with its tags, mentions and group fan-out as one unit
func (imp *Importer) createNotice(ctx context.Context, status remote.Status, uri string, profileID int64) (int64, error) {
	tags := imp.extract.tags(status.Text)
	mentions := imp.extract.mentions(status.Text)
	groups := imp.extract.groups(status.Text)

	var noticeID int64
	err := imp.db.WithTx(ctx, func(tx *sql.Tx) error {
		notices := database.NewNoticeRepository(tx)

		id, err := notices.InsertNotice(ctx, database.Notice{
			ProfileID: profileID,
			URI:       uri,
			Content:   status.Text,
			Source:    imp.svc.Name,
			IsLocal:   false,
			CreatedAt: status.CreatedAt,
		})
		if err != nil {
			return err
		}

		if err := notices.InsertTags(ctx, id, tags); err != nil {
			return err
		}

		if len(mentions) > 0 {
			known, err := database.NewProfileRepository(tx).GetProfileIDsByNicknames(ctx, mentions)
			if err != nil {
				return err
			}
			profileIDs := make([]int64, 0, len(known))
			for _, nick := range mentions {
				if pid, ok := known[nick]; ok {
					profileIDs = append(profileIDs, pid)
				}
			}
			if err := notices.InsertMentions(ctx, id, profileIDs); err != nil {
				return err
			}
		}

		if len(groups) > 0 {
			groupRepo := database.NewGroupRepository(tx)
			known, err := groupRepo.GetGroupIDsByNicknames(ctx, groups)
			if err != nil {
				return err
			}
			for _, nick := range groups {
				if gid, ok := known[nick]; ok {
					if err := groupRepo.InsertGroupInbox(ctx, gid, id, time.Now()); err != nil {
						return err
					}
				}
			}
		}

		noticeID = id
		return nil
	})

	return noticeID, err
}

func (imp *Importer) avatarSource(user remote.User) (avatar.Source, bool) {
	if imp.avatars == nil || user.ProfileImageURL == "" {
		return avatar.Source{}, false
	}
	return avatar.Source{
		Prefix:       imp.svc.AvatarPrefix,
		RemoteUserID: user.ID,
		ImageURL:     user.ProfileImageURL,
	}, true
}

func (imp *Importer) saveAvatars(ctx context.Context, profileID int64, user remote.User) {
	src, ok := imp.avatarSource(user)
	if !ok {
		return
	}
	if _, err := imp.avatars.SaveInitial(ctx, imp.db, profileID, src); err != nil {
		slog.Warn("Failed to save avatars", "profile", profileID, "error", err)
	}
}

func (imp *Importer) refreshAvatars(ctx context.Context, profileID int64, user remote.User) {
	src, ok := imp.avatarSource(user)
	if !ok {
		return
	}
	if _, err := imp.avatars.CheckAndRefresh(ctx, imp.db, profileID, src); err != nil {
		slog.Warn("Failed to check avatar", "profile", profileID, "error", err)
	}
}
