package cgroup

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/sysparts/syspartd/internal/rule"
)

func isESRCH(err error) bool {
	return errors.Is(err, unix.ESRCH) || errors.Is(err, os.ErrNotExist)
}

// Linux ABI scheduler policy numbers (linux/sched.h), kept local rather
// than assumed present on the unix package across platforms.
const (
	schedOther = 0
	schedFifo  = 1
	schedRR    = 2
	schedBatch = 3
)

// schedPolicyNum maps rule.SchedPolicy onto the Linux ABI's SCHED_* values.
func schedPolicyNum(p rule.SchedPolicy) int {
	switch p {
	case rule.SchedFifo:
		return schedFifo
	case rule.SchedRR:
		return schedRR
	case rule.SchedBatch:
		return schedBatch
	default:
		return schedOther
	}
}

type schedParam struct {
	priority int32
}

// SetScheduler issues sched_setscheduler(2) for pid. fifo/rr use prio;
// every other policy forces prio=0 (spec §4.3 "set-scheduler"). ESRCH
// (process gone) is treated as success.
func SetScheduler(pid int, policy rule.SchedPolicy, prio int) error {
	if policy != rule.SchedFifo && policy != rule.SchedRR {
		prio = 0
	}
	param := schedParam{priority: int32(prio)}
	_, _, errno := unix.Syscall(unix.SYS_SCHED_SETSCHEDULER,
		uintptr(pid), uintptr(schedPolicyNum(policy)), uintptr(unsafe.Pointer(&param)))
	if errno != 0 {
		if errno == unix.ESRCH {
			return nil
		}
		return fmt.Errorf("cgroup: sched_setscheduler(%d, %s, %d): %w", pid, policy, prio, errno)
	}
	return nil
}

// NicePriorityMin/Max are the clamp bounds of spec §4.3/§6 ("Nice values
// are clamped to [-20, 19]").
const (
	NicePriorityMin = -20
	NicePriorityMax = 19
)

func ClampNice(v int) int {
	if v < NicePriorityMin {
		return NicePriorityMin
	}
	if v > NicePriorityMax {
		return NicePriorityMax
	}
	return v
}

// Renice sets pid's nice value via setpriority(2). ESRCH is success.
func Renice(pid int, value int) error {
	value = ClampNice(value)
	if err := unix.Setpriority(unix.PRIO_PROCESS, pid, value); err != nil {
		if isESRCH(err) {
			return nil
		}
		return fmt.Errorf("cgroup: setpriority(%d, %d): %w", pid, value, err)
	}
	return nil
}

// OOMAdjMin/Max are the clamp bounds of spec §4.3/§6 ("OOM values to
// [-17, 15]").
const (
	OOMAdjMin = -17
	OOMAdjMax = 15
)

func ClampOOM(v int) int {
	if v < OOMAdjMin {
		return OOMAdjMin
	}
	if v > OOMAdjMax {
		return OOMAdjMax
	}
	return v
}

// WriteOOMAdj writes value (clamped, decimal ASCII, explicit sign) to
// /proc/<pid>/oom_adj, unless the file already holds a negative value, in
// which case it is preserved untouched (spec §4.3, §6, §8 boundary
// behaviors). ESRCH/ENOENT (process gone) is success.
func WriteOOMAdj(pid int, value int) error {
	return writeOOMAdjAt(fmt.Sprintf("/proc/%d/oom_adj", pid), value)
}

func writeOOMAdjAt(path string, value int) error {
	if cur, err := readOOMAdj(path); err == nil && cur < 0 {
		return nil
	} else if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cgroup: read %s: %w", path, err)
	}

	value = ClampOOM(value)
	text := strconv.Itoa(value)
	if err := os.WriteFile(path, []byte(text+"\n"), 0o644); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cgroup: write %s: %w", path, err)
	}
	return nil
}

func readOOMAdj(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(b)))
}
