package cgroup

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/sysparts/syspartd/internal/rule"
)

// PartitionHandle owns the open file descriptors to one partition's
// control files (spec §3 "Partition": "four open file descriptors to
// control files"). A missing control file (other than tasks) simply
// leaves the corresponding field nil and that operation becomes a no-op,
// per spec §4.5 ("that specific control is simply skipped on operations;
// only missing tasks is an error").
type PartitionHandle struct {
	Partition *rule.Partition

	tasks   *os.File
	freezer *os.File
	cpu     *os.File
	memory  *os.File

	logger        hclog.Logger
	reassignFixup func()
}

// Open creates the partition directory if needed and opens its control
// files.
func Open(p *rule.Partition, logger hclog.Logger) (*PartitionHandle, error) {
	if err := os.MkdirAll(p.Path, 0o755); err != nil {
		return nil, fmt.Errorf("cgroup: mkdir partition %s: %w", p.Path, err)
	}

	h := &PartitionHandle{Partition: p, logger: logger.Named("partition").With("partition", p.Name)}

	tasks, err := os.OpenFile(filepath.Join(p.Path, "tasks"), os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cgroup: open tasks for partition %s: %w", p.Name, err)
	}
	h.tasks = tasks

	h.freezer = h.openOptional("freezer.state")
	h.cpu = h.openOptional("cpu.shares")
	h.memory = h.openOptional("memory.limit_in_bytes")

	return h, nil
}

func (h *PartitionHandle) openOptional(name string) *os.File {
	f, err := os.OpenFile(filepath.Join(h.Partition.Path, name), os.O_RDWR, 0o644)
	if err != nil {
		h.logger.Warn("control file unavailable, operation will be skipped", "file", name, "error", err)
		return nil
	}
	return f
}

// SetReassignFixup registers the callback Freeze runs after a successful
// thaw, the frozen-during-move fix-up of spec §4.5.
func (h *PartitionHandle) SetReassignFixup(fn func()) { h.reassignFixup = fn }

// AddProcess writes pid to the tasks control file. ESRCH (the process
// already exited) counts as success, per spec §4.5.
func (h *PartitionHandle) AddProcess(pid int) error {
	if _, err := h.tasks.Write([]byte(strconv.Itoa(pid) + "\n")); err != nil {
		if isESRCH(err) {
			return nil
		}
		return fmt.Errorf("cgroup: add process %d to partition %s: %w", pid, h.Partition.Name, err)
	}
	return nil
}

// Freeze writes FROZEN/THAWED to the freezer control file. A successful
// thaw re-applies any pending group reassignment via the fixup callback
// (spec §4.5).
func (h *PartitionHandle) Freeze(frozen bool) error {
	if h.freezer == nil {
		return nil
	}
	state := "THAWED\n"
	if frozen {
		state = "FROZEN\n"
	}
	if _, err := h.freezer.Write([]byte(state)); err != nil {
		return fmt.Errorf("cgroup: freeze partition %s: %w", h.Partition.Name, err)
	}
	if !frozen && h.reassignFixup != nil {
		h.reassignFixup()
	}
	return nil
}

func (h *PartitionHandle) LimitCPU(shares int64) error {
	if h.cpu == nil {
		return nil
	}
	_, err := h.cpu.Write([]byte(strconv.FormatInt(shares, 10) + "\n"))
	return err
}

func (h *PartitionHandle) LimitMemory(bytes int64) error {
	if h.memory == nil {
		return nil
	}
	_, err := h.memory.Write([]byte(strconv.FormatInt(bytes, 10) + "\n"))
	return err
}

// LimitRT writes period/runtime in the order spec §4.5 requires to avoid a
// transient window where runtime > period: zero runtime, then period, then
// the new runtime.
func (h *PartitionHandle) LimitRT(periodUS, runtimeUS int64) error {
	rtPeriod := h.openOptional("cpu.rt_period_us")
	rtRuntime := h.openOptional("cpu.rt_runtime_us")
	if rtPeriod == nil || rtRuntime == nil {
		return nil
	}
	defer rtPeriod.Close()
	defer rtRuntime.Close()

	if _, err := rtRuntime.Write([]byte("0\n")); err != nil {
		return err
	}
	if _, err := rtPeriod.Write([]byte(strconv.FormatInt(periodUS, 10) + "\n")); err != nil {
		return err
	}
	if _, err := rtRuntime.Write([]byte(strconv.FormatInt(runtimeUS, 10) + "\n")); err != nil {
		return err
	}
	return nil
}

func (h *PartitionHandle) Close() {
	h.tasks.Close()
	closeIfSet(h.freezer)
	closeIfSet(h.cpu)
	closeIfSet(h.memory)
}

func closeIfSet(f *os.File) {
	if f != nil {
		f.Close()
	}
}
