// Package lock implements the single advisory lock that serialises runs
// against a runner workspace directory.
package lock

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/boshu2/patchrunner/internal/taxonomy"
	"github.com/boshu2/patchrunner/internal/types"
)

// Lock is a held advisory lock on a single file. Release must run on
// every exit path, success or failure, via a defer immediately after
// Acquire returns.
type Lock struct {
	path string
}

// info is the parsed contents of an existing lockfile.
type info struct {
	pid     int
	started time.Time
}

// Acquire takes the lock at path, honouring the configured conflict
// policy. now is injected so acquisition is deterministic in tests.
func Acquire(path string, conflict types.OnConflict, ttl time.Duration, now time.Time) (*Lock, error) {
	if existing, err := readInfo(path); err == nil {
		age := now.Sub(existing.started)
		switch conflict {
		case types.OnConflictSteal:
			if age < ttl {
				return nil, taxonomy.New(taxonomy.StagePreflight, taxonomy.CategoryInternal,
					fmt.Sprintf("lock held by pid %d, age %s < ttl %s", existing.pid, age, ttl))
			}
			if err := recordSteal(path, existing, now); err != nil {
				return nil, taxonomy.Wrap(taxonomy.StagePreflight, taxonomy.CategoryInternal, err, "recording lock steal")
			}
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return nil, taxonomy.Wrap(taxonomy.StagePreflight, taxonomy.CategoryInternal, err, "removing stale lock")
			}
		case types.OnConflictFail, "":
			return nil, taxonomy.New(taxonomy.StagePreflight, taxonomy.CategoryInternal,
				fmt.Sprintf("lock held by pid %d, started %s", existing.pid, existing.started.Format(time.RFC3339)))
		default:
			return nil, taxonomy.New(taxonomy.StageConfig, taxonomy.CategoryConfig, "unknown on_conflict policy: "+string(conflict))
		}
	}

	content := fmt.Sprintf("pid=%d\nstarted=%d\n", os.Getpid(), now.Unix())
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, taxonomy.Wrap(taxonomy.StagePreflight, taxonomy.CategoryInternal, err, "writing lockfile")
	}
	return &Lock{path: path}, nil
}

// Release removes the lockfile. Safe to call multiple times.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func readInfo(path string) (info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return info{}, err
	}
	var result info
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "pid="):
			result.pid, _ = strconv.Atoi(strings.TrimPrefix(line, "pid="))
		case strings.HasPrefix(line, "started="):
			if sec, err := strconv.ParseInt(strings.TrimPrefix(line, "started="), 10, 64); err == nil {
				result.started = time.Unix(sec, 0)
			}
		}
	}
	return result, nil
}

// recordSteal appends an audit line to <path>.stolen.log when a stale
// lock is stolen, instead of silently discarding the prior holder's
// identity.
func recordSteal(path string, stolen info, now time.Time) error {
	f, err := os.OpenFile(path+".stolen.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	line := fmt.Sprintf("stolen_at=%d stolen_pid=%d stolen_age_s=%d by_pid=%d\n",
		now.Unix(), stolen.pid, int(now.Sub(stolen.started).Seconds()), os.Getpid())
	_, err = f.WriteString(line)
	return err
}
