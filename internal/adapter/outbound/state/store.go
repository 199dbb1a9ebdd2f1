package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"
)

// ErrUnsupportedVersion is returned by Load when state.json was written by
// a newer schema than this build understands.
var ErrUnsupportedVersion = errors.New("unsupported state file version")

// File is the on-disk home of the profile state. Saves replace state.json
// atomically and keep the previous copy in state.json.bak, which Load falls
// back to when the primary file is unreadable.
type File struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewFile returns a File for path. Nothing is read or created until Load
// or Save is called.
func NewFile(path string, logger *slog.Logger) *File {
	if logger == nil {
		logger = slog.Default()
	}
	return &File{path: path, logger: logger}
}

func (f *File) backupPath() string { return f.path + ".bak" }

// Load returns the persisted profiles. A missing file yields an empty state.
// A corrupt file is replaced by its backup when that one still decodes.
func (f *File) Load() (*AppState, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		f.logger.Info("no profile state yet, starting empty", "path", f.path)
		return f.DefaultState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	f.warnIfShared()

	st, err := decodeState(data)
	if err == nil || errors.Is(err, ErrUnsupportedVersion) {
		return st, err
	}

	backup, bakErr := os.ReadFile(f.backupPath())
	if bakErr != nil {
		return nil, err
	}
	recovered, bakErr := decodeState(backup)
	if bakErr != nil {
		return nil, err
	}
	f.logger.Warn("profile state unreadable, using backup",
		"path", f.path, "error", err, "profiles", len(recovered.Profiles))
	return recovered, nil
}

// warnIfShared logs when group or other users can read the profile file.
func (f *File) warnIfShared() {
	if runtime.GOOS == "windows" {
		return
	}
	info, err := os.Stat(f.path)
	if err != nil {
		return
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		f.logger.Warn("profile state readable by other users, should be 0600",
			"path", f.path, "current_mode", fmt.Sprintf("%04o", mode))
	}
}

func decodeState(data []byte) (*AppState, error) {
	var st AppState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	switch st.Version {
	case "":
		st.Version = CurrentVersion
	case CurrentVersion:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, st.Version)
	}
	if st.Profiles == nil {
		st.Profiles = []ProfileEntry{}
	}
	return &st, nil
}

// Save stamps UpdatedAt and persists st. Writers in this process are
// serialized by a mutex and writers in other processes by a lock file.
func (f *File) Save(st *AppState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	st.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	data = append(data, '\n')

	err = f.locked(func() error {
		f.keepBackup()
		if err := replaceFile(f.path, data); err != nil {
			return err
		}
		// rename keeps the temp file's mode; an older file may have been wider
		if err := os.Chmod(f.path, 0o600); err != nil {
			f.logger.Warn("failed to restrict profile state permissions", "error", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	f.logger.Debug("profile state saved", "path", f.path, "profiles", len(st.Profiles))
	return nil
}

// locked runs fn while holding the cross-process lock file.
func (f *File) locked(fn func() error) error {
	lock, err := os.OpenFile(f.path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lock.Close() }()

	if err := flockLock(lock.Fd()); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer flockUnlock(lock.Fd()) //nolint:errcheck
	return fn()
}

// keepBackup copies the current file to the backup path. Only a file that
// still decodes replaces the existing backup.
func (f *File) keepBackup() {
	current, err := os.ReadFile(f.path)
	if err != nil {
		return
	}
	if _, err := decodeState(current); err != nil {
		f.logger.Warn("not backing up unreadable profile state", "error", err)
		return
	}
	if err := os.WriteFile(f.backupPath(), current, 0o600); err != nil {
		f.logger.Warn("failed to back up profile state", "error", err)
	}
}

// replaceFile writes data next to path, fsyncs it, and renames it into place.
func replaceFile(path string, data []byte) error {
	tmp := path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	_, err = out.Write(data)
	if err == nil {
		err = out.Sync()
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// DefaultState returns an empty state at the current schema version.
func (f *File) DefaultState() *AppState {
	now := time.Now().UTC()
	return &AppState{
		Version:   CurrentVersion,
		Profiles:  []ProfileEntry{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Exists reports whether state.json is on disk.
func (f *File) Exists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

// Path returns the state file location.
func (f *File) Path() string { return f.path }
