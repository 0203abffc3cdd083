package lock

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrAlreadyRunning is returned by CreateLock when another live process
// holds the singleton.
var ErrAlreadyRunning = eris.New("lock: another instance is already running")

// InstanceRecord is the content of the singleton PID file.
type InstanceRecord struct {
	PID        int       `json:"pid"`
	Port       int       `json:"port"`
	StartTime  time.Time `json:"startTime"`
	Hostname   string    `json:"hostname,omitempty"`
	Executable string    `json:"executable,omitempty"`
	GoVersion  string    `json:"goVersion"`
	OS         string    `json:"os"`
	Arch       string    `json:"arch"`
	WorkDir    string    `json:"workDir,omitempty"`
}

// Singleton guards against two server processes sharing one lock directory.
type Singleton struct {
	path    string
	checker ProcessChecker
	pid     int
	nowFunc func() time.Time
}

// SingletonOption configures a Singleton.
type SingletonOption func(*Singleton)

// WithSingletonChecker overrides the liveness check.
func WithSingletonChecker(c ProcessChecker) SingletonOption {
	return func(s *Singleton) { s.checker = c }
}

// WithSingletonPID overrides the pid recorded as owner.
func WithSingletonPID(pid int) SingletonOption {
	return func(s *Singleton) { s.pid = pid }
}

// NewSingleton returns a singleton whose PID file is dir/name.pid.
func NewSingleton(dir, name string, opts ...SingletonOption) (*Singleton, error) {
	if name == "" {
		name = "prospector"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "lock: create dir %s", dir)
	}
	s := &Singleton{
		path:    filepath.Join(dir, name+".pid"),
		checker: OSChecker{},
		pid:     os.Getpid(),
		nowFunc: time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Path returns the PID file location.
func (s *Singleton) Path() string { return s.path }

// IsAnotherInstanceRunning reports whether the PID file names a live process
// other than this one. A file naming a dead process, or one that cannot be
// parsed once its creator has had time to finish writing it, is deleted.
func (s *Singleton) IsAnotherInstanceRunning() (bool, error) {
	_, running, err := s.check()
	return running, err
}

// check inspects the PID file, reclaiming it when its owner is gone. rec is
// the live holder when running is true.
func (s *Singleton) check() (rec InstanceRecord, running bool, err error) {
	raw, err := readRaw(s.path, &rec)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return rec, false, nil
	case errors.Is(err, errCorrupt):
		if freshlyWritten(s.path, s.nowFunc()) {
			return rec, true, nil
		}
		zap.L().Warn("lock: corrupt pid file removed", zap.String("path", s.path), zap.Error(err))
		return rec, false, s.reclaim(raw)
	case err != nil:
		return rec, false, eris.Wrap(err, "lock: read pid file")
	}

	if rec.PID == s.pid {
		return rec, false, nil
	}
	if !s.checker.Alive(rec.PID) {
		zap.L().Info("lock: removing pid file of dead instance", zap.Int("pid", rec.PID))
		return rec, false, s.reclaim(raw)
	}
	return rec, true, nil
}

// reclaim deletes a dead or corrupt PID file unless it changed since it was
// read. A changed file belongs to an instance that started meanwhile.
func (s *Singleton) reclaim(raw []byte) error {
	if raw == nil {
		raw = []byte{}
	}
	_, err := removeIfUnchanged(s.path, raw)
	if errors.Is(err, errGuardBusy) {
		return nil
	}
	return err
}

// CreateLock records this process as the running instance. The PID file is
// created exclusively, so of several servers starting together exactly one
// succeeds and the others get ErrAlreadyRunning.
func (s *Singleton) CreateLock(port int) error {
	rec := InstanceRecord{
		PID:       s.pid,
		Port:      port,
		StartTime: s.nowFunc().UTC(),
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
	rec.Hostname, _ = os.Hostname()
	rec.Executable, _ = os.Executable()
	rec.WorkDir, _ = os.Getwd()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return eris.Wrap(err, "lock: encode pid file")
	}

	for range acquireRounds {
		created, err := createExclusive(s.path, data)
		if err != nil {
			return err
		}
		if created {
			zap.L().Info("lock: instance lock created", zap.Int("pid", s.pid), zap.Int("port", port), zap.String("path", s.path))
			return nil
		}

		holder, running, err := s.check()
		if err != nil {
			return err
		}
		if running {
			if holder.PID == 0 {
				return ErrAlreadyRunning
			}
			return eris.Wrapf(ErrAlreadyRunning, "pid %d on port %d", holder.PID, holder.Port)
		}
		if holder.PID == s.pid {
			// Our own record from an earlier CreateLock: refresh it.
			return writeFileAtomic(s.path, data)
		}
	}
	return ErrAlreadyRunning
}

// RemoveLock deletes the PID file if this process owns it.
func (s *Singleton) RemoveLock() error {
	var rec InstanceRecord
	raw, err := readRaw(s.path, &rec)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err == nil && rec.PID != s.pid {
		zap.L().Warn("lock: pid file owned by another process left in place", zap.Int("holder_pid", rec.PID))
		return nil
	}
	if errors.Is(err, errCorrupt) {
		// Unparseable content proves no ownership; leave it to check.
		return nil
	}
	if err != nil {
		return eris.Wrap(err, "lock: read pid file")
	}
	_, err = removeIfUnchanged(s.path, raw)
	return err
}

// RunningInstanceInfo returns the recorded instance, or nil when no PID
// file exists or it cannot be parsed.
func (s *Singleton) RunningInstanceInfo() (*InstanceRecord, error) {
	var rec InstanceRecord
	err := readJSON(s.path, &rec)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, errCorrupt) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "lock: read pid file")
	}
	return &rec, nil
}
