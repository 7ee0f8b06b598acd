package procsource

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Reader implements expr.Fetcher against the live /proc filesystem and
// provides the bulk-discovery walks of spec §4.4 ("walk /proc, then
// /proc/<pid>/task for each pid").
type Reader struct {
	Root string // overridable for tests; defaults to "/proc"
}

func NewReader() *Reader { return &Reader{Root: "/proc"} }

func (r *Reader) root() string {
	if r.Root == "" {
		return "/proc"
	}
	return r.Root
}

func (r *Reader) BinaryPath(pid int) (string, error) {
	return os.Readlink(fmt.Sprintf("%s/%d/exe", r.root(), pid))
}

func (r *Reader) Comm(pid int) (string, error) {
	b, err := os.ReadFile(fmt.Sprintf("%s/%d/comm", r.root(), pid))
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(b), "\n"), nil
}

func (r *Reader) Cmdline(pid int) ([]byte, error) {
	return os.ReadFile(fmt.Sprintf("%s/%d/cmdline", r.root(), pid))
}

// Status parses the Uid/Gid/PPid lines of /proc/<pid>/status, returning the
// effective uid/gid (second field of each Uid:/Gid: line).
func (r *Reader) Status(pid int) (euid, egid uint32, ppid int, err error) {
	b, err := os.ReadFile(fmt.Sprintf("%s/%d/status", r.root(), pid))
	if err != nil {
		return 0, 0, 0, err
	}
	for _, line := range strings.Split(string(b), "\n") {
		switch {
		case strings.HasPrefix(line, "Uid:"):
			if v, ok := secondField(line); ok {
				euid = v
			}
		case strings.HasPrefix(line, "Gid:"):
			if v, ok := secondField(line); ok {
				egid = v
			}
		case strings.HasPrefix(line, "PPid:"):
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				if n, e := strconv.Atoi(fields[1]); e == nil {
					ppid = n
				}
			}
		}
	}
	return euid, egid, ppid, nil
}

func secondField(line string) (uint32, bool) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return 0, false
	}
	n, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// Discover returns every numeric pid directory under /proc (spec §4.4
// "Bulk discovery: on startup and after netlink reconnect, walk /proc").
func (r *Reader) Discover() ([]int, error) {
	entries, err := os.ReadDir(r.root())
	if err != nil {
		return nil, err
	}
	var pids []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if pid, err := strconv.Atoi(e.Name()); err == nil {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

// DiscoverTasks returns every thread id under /proc/<pid>/task.
func (r *Reader) DiscoverTasks(pid int) ([]int, error) {
	entries, err := os.ReadDir(fmt.Sprintf("%s/%d/task", r.root(), pid))
	if err != nil {
		return nil, err
	}
	var tids []int
	for _, e := range entries {
		if tid, err := strconv.Atoi(e.Name()); err == nil {
			tids = append(tids, tid)
		}
	}
	return tids, nil
}
