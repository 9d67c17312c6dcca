// Package sessionfile implements the persisted-state layer for named
// detached gateway instances (spec.md §6, "Persisted state"): one JSON
// file per session under a sessions directory, PID liveness checks,
// port-conflict detection, and graceful stop (SIGTERM, then SIGKILL
// after a grace period).
package sessionfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/stacklok/vgateway/pkg/vgerrors"
	"github.com/stacklok/vgateway/pkg/vglog"
)

// nameRE matches session names: lowercase alphanumeric plus hyphen,
// 1-32 chars, starting alphanumeric (spec.md §6).
var nameRE = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,31}$`)

// ValidateName normalizes and validates a session name.
func ValidateName(name string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if !nameRE.MatchString(normalized) {
		return "", vgerrors.NewConfigurationError(
			fmt.Sprintf("invalid session name %q: use lowercase alphanumeric plus hyphen, 1-32 chars, starting alphanumeric", name), nil)
	}
	return normalized, nil
}

// Info is one detached instance's persisted metadata.
type Info struct {
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Config    string    `json:"config"`
	LogFile   string    `json:"log_file,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// IsAlive reports whether the recorded PID is still a running process.
func (i Info) IsAlive() bool {
	alive, err := process.PidExists(int32(i.PID))
	if err != nil {
		return false
	}
	return alive
}

// Store manages session files under one directory, each write
// protected by a file lock so concurrent CLI invocations don't race.
type Store struct {
	dir string
}

// NewStore builds a Store rooted at dir, creating it if necessary.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, vgerrors.NewConfigurationError("creating sessions directory", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func (s *Store) lockPath(name string) string {
	return filepath.Join(s.dir, name+".lock")
}

// Save writes session metadata to disk under an exclusive file lock.
func (s *Store) Save(info Info) error {
	lock := flock.New(s.lockPath(info.Name))
	if err := lock.Lock(); err != nil {
		return vgerrors.NewInternalError("acquiring session file lock", err)
	}
	defer lock.Unlock() //nolint:errcheck

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return vgerrors.NewInternalError("encoding session metadata", err)
	}
	if err := os.WriteFile(s.path(info.Name), data, 0o644); err != nil {
		return vgerrors.NewInternalError("writing session file", err)
	}
	return nil
}

// Load reads one session's metadata, returning (Info{}, false) if the
// file is missing or corrupt.
func (s *Store) Load(name string) (Info, bool) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return Info{}, false
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		vglog.Scoped("sessionfile").Warnw("corrupt session file", "name", name, "error", err)
		return Info{}, false
	}
	return info, true
}

// Remove deletes a session's metadata file, if present.
func (s *Store) Remove(name string) {
	_ = os.Remove(s.path(name))
	_ = os.Remove(s.lockPath(name))
}

// List returns every alive session, auto-cleaning stale (dead-PID)
// entries from disk unless includeDead is true.
func (s *Store) List(includeDead bool) ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, vgerrors.NewInternalError("reading sessions directory", err)
	}

	var out []Info
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		info, ok := s.Load(name)
		if !ok {
			continue
		}
		if info.IsAlive() {
			out = append(out, info)
			continue
		}
		if includeDead {
			out = append(out, info)
			continue
		}
		vglog.Scoped("sessionfile").Infow("cleaning stale session", "name", name, "pid", info.PID)
		s.Remove(name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Find resolves name to a running session, or — when name is empty —
// returns the single running session if exactly one exists.
func (s *Store) Find(name string) (Info, bool) {
	if name != "" {
		info, ok := s.Load(name)
		if ok && info.IsAlive() {
			return info, true
		}
		return Info{}, false
	}
	alive, err := s.List(false)
	if err != nil || len(alive) != 1 {
		return Info{}, false
	}
	return alive[0], true
}

// CheckPortConflict returns the running session already bound to
// host:port, if any.
func (s *Store) CheckPortConflict(host string, port int) (Info, bool) {
	alive, err := s.List(false)
	if err != nil {
		return Info{}, false
	}
	for _, info := range alive {
		if info.Port != port {
			continue
		}
		if info.Host == host || info.Host == "0.0.0.0" {
			return info, true
		}
	}
	return Info{}, false
}

// Stop signals info's PID with SIGTERM, escalating to SIGKILL after a
// 3-second grace period, and removes its session file once stopped.
func (s *Store) Stop(info Info) error {
	if !info.IsAlive() {
		s.Remove(info.Name)
		return nil
	}

	proc, err := os.FindProcess(info.PID)
	if err != nil {
		return vgerrors.NewInternalError("locating process", err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return vgerrors.NewInternalError(fmt.Sprintf("signaling pid %d", info.PID), err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if !info.IsAlive() {
			s.Remove(info.Name)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	_ = proc.Signal(syscall.SIGKILL)
	time.Sleep(200 * time.Millisecond)
	s.Remove(info.Name)
	return nil
}
