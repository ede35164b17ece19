// Package jobs holds background maintenance run on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/Dan9191/account-service/internal/models"
	"github.com/Dan9191/account-service/internal/storage"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// AvatarIndex reports which avatar files are referenced by users.
type AvatarIndex interface {
	AvatarFilesInUse(ctx context.Context) (map[string]struct{}, error)
}

// AvatarFiles lists and removes stored avatars.
type AvatarFiles interface {
	List(ctx context.Context) ([]storage.Object, error)
	Delete(ctx context.Context, name string) error
}

// AvatarSweeper removes avatars no user points at any more, such as the
// previous picture after a profile update.
type AvatarSweeper struct {
	users AvatarIndex
	files AvatarFiles
	grace time.Duration
	log   *logrus.Logger
	now   func() time.Time
}

// NewAvatarSweeper spares files younger than grace so an upload whose user
// record is still being saved is not removed.
func NewAvatarSweeper(users AvatarIndex, files AvatarFiles, grace time.Duration, logger *logrus.Logger) *AvatarSweeper {
	return &AvatarSweeper{users: users, files: files, grace: grace, log: logger, now: time.Now}
}

// Run performs one sweep and returns how many files were deleted.
func (s *AvatarSweeper) Run(ctx context.Context) (int, error) {
	objects, err := s.files.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list avatars: %w", err)
	}
	// Load references after listing so a file saved in between is never
	// seen as stored but unreferenced.
	inUse, err := s.users.AvatarFilesInUse(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load avatar references: %w", err)
	}

	cutoff := s.now().Add(-s.grace)
	deleted := 0
	for _, obj := range objects {
		if obj.Name == models.DefaultImageFile || !obj.ModTime.Before(cutoff) {
			continue
		}
		if _, ok := inUse[obj.Name]; ok {
			continue
		}
		if err := s.files.Delete(ctx, obj.Name); err != nil {
			s.log.WithError(err).Warnf("Failed to delete orphaned avatar %s", obj.Name)
			continue
		}
		deleted++
	}
	return deleted, nil
}

// Schedule registers the sweep on c.
func (s *AvatarSweeper) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		n, err := s.Run(context.Background())
		if err != nil {
			s.log.WithError(err).Error("Avatar sweep failed")
			return
		}
		s.log.Infof("Avatar sweep removed %d files", n)
	})
}
