// Package lock provides filesystem-backed mutual exclusion that survives
// process restarts: per-session campaign locks and a whole-process
// singleton guarded by a PID file.
package lock

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	// DefaultStaleAfter is the age past which a campaign lock is reclaimable.
	DefaultStaleAfter = 30 * time.Minute

	lockPrefix = "campaign-"
	lockSuffix = ".lock"

	// acquireRounds bounds create attempts; each failed round follows a
	// reclaim of a stale file.
	acquireRounds = 3
)

// ErrInvalidSession is returned for session ids that cannot name a file.
var ErrInvalidSession = eris.New("lock: invalid session id")

var sessionPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Record is the content of one campaign lock file.
type Record struct {
	SessionID    string    `json:"sessionId"`
	CampaignType string    `json:"campaignType"`
	PID          int       `json:"pid"`
	Timestamp    int64     `json:"timestamp"` // acquisition time, unix millis
	StartTime    time.Time `json:"startTime"` // owning process start
	Token        string    `json:"token,omitempty"`
}

// AcquiredAt returns the acquisition time.
func (r Record) AcquiredAt() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// CampaignLocks manages one lock file per campaign session under dir.
type CampaignLocks struct {
	dir        string
	staleAfter time.Duration
	checker    ProcessChecker
	pid        int
	started    time.Time
	nowFunc    func() time.Time
}

// CampaignOption configures CampaignLocks.
type CampaignOption func(*CampaignLocks)

// WithStaleAfter overrides the staleness threshold.
func WithStaleAfter(d time.Duration) CampaignOption {
	return func(l *CampaignLocks) { l.staleAfter = d }
}

// WithChecker overrides the liveness check.
func WithChecker(c ProcessChecker) CampaignOption {
	return func(l *CampaignLocks) { l.checker = c }
}

// WithPID overrides the pid recorded as owner.
func WithPID(pid int) CampaignOption {
	return func(l *CampaignLocks) { l.pid = pid }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) CampaignOption {
	return func(l *CampaignLocks) { l.nowFunc = now }
}

// NewCampaignLocks creates dir if needed and returns a lock manager owned by
// the current process.
func NewCampaignLocks(dir string, opts ...CampaignOption) (*CampaignLocks, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "lock: create dir %s", dir)
	}
	l := &CampaignLocks{
		dir:        dir,
		staleAfter: DefaultStaleAfter,
		checker:    OSChecker{},
		pid:        os.Getpid(),
		nowFunc:    time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	if l.staleAfter <= 0 {
		l.staleAfter = DefaultStaleAfter
	}
	l.started = l.nowFunc().UTC()
	return l, nil
}

// Dir returns the lock directory.
func (l *CampaignLocks) Dir() string { return l.dir }

func (l *CampaignLocks) path(sessionID string) (string, error) {
	if !sessionPattern.MatchString(sessionID) || strings.Contains(sessionID, "..") {
		return "", eris.Wrapf(ErrInvalidSession, "%q", sessionID)
	}
	return filepath.Join(l.dir, lockPrefix+sessionID+lockSuffix), nil
}

// IsStale reports whether rec no longer holds its session: too old, or its
// owner is not running. Age alone is enough, whatever the pid.
func (l *CampaignLocks) IsStale(rec Record) bool {
	if l.nowFunc().Sub(rec.AcquiredAt()) > l.staleAfter {
		return true
	}
	return !l.checker.Alive(rec.PID)
}

// Acquire takes the lock for sessionID. It returns false, without error,
// when another live holder has it, including this process.
func (l *CampaignLocks) Acquire(sessionID, campaignType string) (bool, error) {
	rec, err := l.AcquireRecord(sessionID, campaignType)
	return rec != nil, err
}

// AcquireRecord is Acquire returning the record written, or nil when the
// session is held. The record's Token identifies this acquisition to
// ReleaseRecord.
func (l *CampaignLocks) AcquireRecord(sessionID, campaignType string) (*Record, error) {
	path, err := l.path(sessionID)
	if err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("session_id", sessionID))

	rec := Record{
		SessionID:    sessionID,
		CampaignType: campaignType,
		PID:          l.pid,
		Timestamp:    l.nowFunc().UnixMilli(),
		StartTime:    l.started,
		Token:        uuid.NewString(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, eris.Wrap(err, "lock: encode record")
	}

	for range acquireRounds {
		created, err := createExclusive(path, data)
		if err != nil {
			return nil, err
		}
		if created {
			log.Info("lock: campaign lock acquired", zap.String("campaign_type", campaignType), zap.Int("pid", l.pid))
			return &rec, nil
		}

		holder, raw, held, err := l.inspect(path)
		if err != nil {
			return nil, err
		}
		if held {
			log.Info("lock: campaign already locked",
				zap.Int("holder_pid", holder.PID),
				zap.String("holder_campaign_type", holder.CampaignType),
				zap.Time("acquired_at", holder.AcquiredAt()),
			)
			return nil, nil
		}
		if raw == nil {
			continue
		}
		log.Debug("lock: reclaiming stale campaign lock", zap.Int("holder_pid", holder.PID))
		if _, err := removeIfUnchanged(path, raw); err != nil {
			if errors.Is(err, errGuardBusy) {
				return nil, nil
			}
			return nil, err
		}
	}
	return nil, nil
}

// inspect reads an existing lock file. raw is the content judged, nil when
// the file is gone. held is false when the file is gone, stale, or corrupt
// past the write grace period.
func (l *CampaignLocks) inspect(path string) (rec Record, raw []byte, held bool, err error) {
	raw, err = readRaw(path, &rec)
	switch {
	case err == nil:
		return rec, raw, !l.IsStale(rec), nil
	case errors.Is(err, fs.ErrNotExist):
		return rec, nil, false, nil
	case errors.Is(err, errCorrupt):
		if raw == nil {
			raw = []byte{}
		}
		if freshlyWritten(path, l.nowFunc()) {
			return rec, raw, true, nil
		}
		zap.L().Warn("lock: corrupt campaign lock treated as stale", zap.String("path", path), zap.Error(err))
		return rec, raw, false, nil
	default:
		return rec, nil, false, eris.Wrapf(err, "lock: read %s", filepath.Base(path))
	}
}

// Get returns the live lock record for sessionID, or nil if none.
func (l *CampaignLocks) Get(sessionID string) (*Record, error) {
	path, err := l.path(sessionID)
	if err != nil {
		return nil, err
	}
	rec, _, held, err := l.inspect(path)
	if err != nil || !held {
		return nil, err
	}
	return &rec, nil
}

// IsLocked reports whether sessionID has a live lock.
func (l *CampaignLocks) IsLocked(sessionID string) (bool, error) {
	rec, err := l.Get(sessionID)
	return rec != nil, err
}

// Release deletes the lock for sessionID if this process owns it. A lock
// held by another live process is left alone and false is returned. Stale
// locks are removed.
func (l *CampaignLocks) Release(sessionID string) (bool, error) {
	path, err := l.path(sessionID)
	if err != nil {
		return false, err
	}
	log := zap.L().With(zap.String("session_id", sessionID))

	rec, raw, held, err := l.inspect(path)
	if err != nil {
		return false, err
	}
	if !held {
		if raw != nil {
			_, err = removeIfUnchanged(path, raw)
		}
		return false, err
	}
	if rec.PID != l.pid {
		log.Warn("lock: refusing to release campaign lock owned by another process",
			zap.Int("holder_pid", rec.PID),
			zap.Int("pid", l.pid),
		)
		return false, nil
	}
	gone, err := removeIfUnchanged(path, raw)
	if err != nil || !gone {
		return false, err
	}
	log.Info("lock: campaign lock released")
	return true, nil
}

// ReleaseRecord deletes the lock only while it is still the acquisition rec
// describes. A lock released and taken again since then belongs to its new
// holder and is left in place.
func (l *CampaignLocks) ReleaseRecord(rec Record) (bool, error) {
	path, err := l.path(rec.SessionID)
	if err != nil {
		return false, err
	}
	log := zap.L().With(zap.String("session_id", rec.SessionID))

	var cur Record
	raw, err := readRaw(path, &cur)
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, errCorrupt):
		return false, nil
	case err != nil:
		return false, eris.Wrapf(err, "lock: read %s", filepath.Base(path))
	}
	if cur.Token != rec.Token || cur.PID != rec.PID {
		log.Info("lock: campaign lock taken over, leaving it to its holder",
			zap.Int("holder_pid", cur.PID),
			zap.Time("acquired_at", cur.AcquiredAt()),
		)
		return false, nil
	}
	gone, err := removeIfUnchanged(path, raw)
	if err != nil || !gone {
		return false, err
	}
	log.Info("lock: campaign lock released")
	return true, nil
}

// ForceRelease deletes the lock for sessionID regardless of owner. It is
// reserved for administrative callers.
func (l *CampaignLocks) ForceRelease(sessionID string) (bool, error) {
	path, err := l.path(sessionID)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err := removeIfExists(path); err != nil {
		return false, err
	}
	zap.L().Warn("lock: campaign lock force-released", zap.String("session_id", sessionID))
	return true, nil
}

// ListActive returns live locks ordered by acquisition time, deleting any
// stale lock files encountered.
func (l *CampaignLocks) ListActive() ([]Record, error) {
	paths, err := l.lockFiles()
	if err != nil {
		return nil, err
	}
	active := make([]Record, 0, len(paths))
	for _, p := range paths {
		rec, raw, held, err := l.inspect(p)
		if err != nil {
			return nil, err
		}
		if !held {
			if raw != nil {
				if _, err := removeIfUnchanged(p, raw); err != nil && !errors.Is(err, errGuardBusy) {
					return nil, err
				}
			}
			continue
		}
		active = append(active, rec)
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Timestamp < active[j].Timestamp })
	return active, nil
}

// CleanupAll deletes every campaign lock file unconditionally and returns
// how many were removed.
func (l *CampaignLocks) CleanupAll() (int, error) {
	paths, err := l.lockFiles()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, p := range paths {
		if err := removeIfExists(p); err != nil {
			return removed, err
		}
		removed++
	}
	zap.L().Warn("lock: all campaign locks removed", zap.Int("count", removed))
	return removed, nil
}

// ReleaseOwned deletes every lock owned by this process. Exit handlers call
// it so a clean shutdown leaves no locks behind.
func (l *CampaignLocks) ReleaseOwned() int {
	paths, err := l.lockFiles()
	if err != nil {
		zap.L().Warn("lock: list campaign locks on exit", zap.Error(err))
		return 0
	}
	released := 0
	for _, p := range paths {
		var rec Record
		raw, err := readRaw(p, &rec)
		if err != nil || rec.PID != l.pid {
			continue
		}
		if gone, err := removeIfUnchanged(p, raw); err == nil && gone {
			released++
		}
	}
	return released
}

func (l *CampaignLocks) lockFiles() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(l.dir, lockPrefix+"*"+lockSuffix))
	if err != nil {
		return nil, eris.Wrap(err, "lock: list lock files")
	}
	return paths, nil
}
