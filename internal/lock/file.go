package lock

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
)

const (
	// corruptGrace protects a lock file that is still being written by its
	// creator from being read as corrupt.
	corruptGrace = 5 * time.Second

	guardSuffix = ".guard"
	// guardStale is the age past which a guard is taken to be left behind
	// by a crashed process. Guards are held for one read and one remove.
	guardStale   = 10 * time.Second
	guardRetry   = 5 * time.Millisecond
	guardRetries = 100
)

var (
	errCorrupt = eris.New("lock: corrupt lock file")
	// errGuardBusy is returned when another caller keeps a lock file's
	// guard for longer than the retry budget.
	errGuardBusy = eris.New("lock: lock file busy")
)

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return eris.Wrap(err, "lock: create temp file")
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return eris.Wrap(err, "lock: write temp file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return eris.Wrap(err, "lock: close temp file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return eris.Wrap(err, "lock: rename into place")
	}
	return nil
}

// createExclusive creates path with data, reporting false if it exists.
func createExclusive(path string, data []byte) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "lock: create %s", filepath.Base(path))
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return false, eris.Wrapf(err, "lock: write %s", filepath.Base(path))
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return false, eris.Wrapf(err, "lock: close %s", filepath.Base(path))
	}
	return true, nil
}

// readRaw returns the bytes of path and decodes them into v. Undecodable
// content returns the bytes with errCorrupt.
func readRaw(path string, v any) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return data, eris.Wrapf(errCorrupt, "%s: %v", filepath.Base(path), err)
	}
	return data, nil
}

func readJSON(path string, v any) error {
	_, err := readRaw(path, v)
	return err
}

// freshlyWritten reports whether path was modified within the corrupt
// grace window, as a file still being written by its creator would be.
func freshlyWritten(path string, now time.Time) bool {
	info, err := os.Stat(path)
	return err == nil && now.Sub(info.ModTime()) < corruptGrace
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return eris.Wrapf(err, "lock: remove %s", filepath.Base(path))
	}
	return nil
}

// removeIfUnchanged deletes path only if its content still equals seen, and
// reports whether path is gone afterwards. Every conditional delete holds
// the path's guard across the compare and the remove. A creator cannot
// replace a file that still exists, so the file compared is the file
// removed.
func removeIfUnchanged(path string, seen []byte) (bool, error) {
	unlock, err := acquireGuard(path)
	if err != nil {
		return false, err
	}
	defer unlock()

	cur, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "lock: read %s", filepath.Base(path))
	}
	if !bytes.Equal(cur, seen) {
		return false, nil
	}
	if err := removeIfExists(path); err != nil {
		return false, err
	}
	return true, nil
}

// acquireGuard creates path's guard file exclusively, retrying briefly
// while another caller holds it. The returned func removes the guard.
func acquireGuard(path string) (func(), error) {
	guard := path + guardSuffix
	for range guardRetries {
		f, err := os.OpenFile(guard, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_ = f.Close()
			return func() { _ = os.Remove(guard) }, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, eris.Wrapf(err, "lock: create guard for %s", filepath.Base(path))
		}
		if info, statErr := os.Stat(guard); statErr == nil && time.Since(info.ModTime()) > guardStale {
			_ = os.Remove(guard)
			continue
		}
		time.Sleep(guardRetry)
	}
	return nil, eris.Wrapf(errGuardBusy, "%s", filepath.Base(path))
}
