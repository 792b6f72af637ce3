package provider

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/TheMichaelB/pwvault/internal/events"
	"github.com/TheMichaelB/pwvault/internal/models"
)

const (
	snapshotPrefix = "vault-"
	snapshotExt    = ".pwv"

	// Fixed-width so lexical order matches chronological order.
	snapshotLayout = "20060102T150405.000000000Z"
)

// snapshotClock hands out strictly increasing timestamps across all
// providers in the process.
var snapshotClock struct {
	mu   sync.Mutex
	last time.Time
}

// nextSnapshotTime returns a UTC time later than any previously returned.
func nextSnapshotTime() time.Time {
	snapshotClock.mu.Lock()
	defer snapshotClock.mu.Unlock()

	now := time.Now().UTC().Round(0)
	if !now.After(snapshotClock.last) {
		now = snapshotClock.last.Add(time.Nanosecond)
	}
	snapshotClock.last = now
	return now
}

// SnapshotName formats the object name for a snapshot taken at t.
func SnapshotName(t time.Time) string {
	return snapshotPrefix + t.UTC().Format(snapshotLayout) + snapshotExt
}

// NewSnapshotName returns a fresh, unique snapshot name.
func NewSnapshotName() (string, time.Time) {
	t := nextSnapshotTime()
	return SnapshotName(t), t
}

// ParseSnapshotName extracts the timestamp from a snapshot name. Names that
// were not produced by SnapshotName are rejected.
func ParseSnapshotName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotExt) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), snapshotExt)
	t, err := time.Parse(snapshotLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SortNewestFirst orders versions by the timestamp in their names.
func SortNewestFirst(versions []models.ProviderVersion) {
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].Name > versions[j].Name
	})
}

// retentionVictims returns the versions beyond the retain newest.
func retentionVictims(versions []models.ProviderVersion, retain int) []models.ProviderVersion {
	if retain <= 0 || len(versions) <= retain {
		return nil
	}
	sorted := make([]models.ProviderVersion, len(versions))
	copy(sorted, versions)
	SortNewestFirst(sorted)
	return sorted[retain:]
}

// trimmer deletes one snapshot.
type trimmer func(ctx context.Context, v models.ProviderVersion) error

// applyRetention deletes snapshots beyond retain. Failures are logged and
// swallowed; an upload never fails because old snapshots linger.
func applyRetention(ctx context.Context, logger *events.Logger, list func(context.Context) ([]models.ProviderVersion, error), retain int, del trimmer) int {
	if retain <= 0 {
		return 0
	}

	versions, err := list(ctx)
	if err != nil {
		logger.WithError(err).Warn("List snapshots for retention failed")
		return 0
	}

	deleted := 0
	for _, v := range retentionVictims(versions, retain) {
		if err := del(ctx, v); err != nil {
			logger.WithError(err).WithField("snapshot", v.Name).Warn("Delete old snapshot failed")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		logger.WithFields(map[string]interface{}{
			"deleted": deleted,
			"retain":  retain,
		}).Debug("Trimmed old snapshots")
	}
	return deleted
}
