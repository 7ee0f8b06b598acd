// Package cgroup is the mount discovery, partition lifecycle, and
// per-process scheduler/nice/OOM write-through layer of spec §4.5
// "Cgroup enforcer".
package cgroup

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// DiscoverMount parses /proc/mounts looking for an existing cgroup mount,
// returning its mount point, per spec §6 ("parse /proc/mounts, find an
// existing cgroup mount if any").
func DiscoverMount(procMountsPath string) (string, bool, error) {
	if procMountsPath == "" {
		procMountsPath = "/proc/mounts"
	}
	f, err := os.Open(procMountsPath)
	if err != nil {
		return "", false, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		if fields[2] == "cgroup" {
			return fields[1], true, nil
		}
	}
	return "", false, sc.Err()
}

// Subsystems are the cgroup v1 controllers spec §6 allows
// ("comma-joined subset of {freezer, cpu, memory, cpuset}").
type Subsystems struct {
	Freezer, CPU, Memory, CPUSet bool
}

func (s Subsystems) optionString() string {
	var opts []string
	if s.Freezer {
		opts = append(opts, "freezer")
	}
	if s.CPU {
		opts = append(opts, "cpu")
	}
	if s.Memory {
		opts = append(opts, "memory")
	}
	if s.CPUSet {
		opts = append(opts, "cpuset")
	}
	return strings.Join(opts, ",")
}

// Mount mounts a new cgroup filesystem at point with the given subsystem
// mask, per spec §4.5 ("else mount -t cgroup the desired point").
func Mount(point string, subsystems Subsystems) error {
	if err := os.MkdirAll(point, 0o755); err != nil {
		return fmt.Errorf("cgroup: mkdir %s: %w", point, err)
	}
	opts := subsystems.optionString()
	if err := unix.Mount("cgroup", point, "cgroup", 0, opts); err != nil {
		return fmt.Errorf("cgroup: mount cgroup at %s (opts=%s): %w", point, opts, err)
	}
	return nil
}

// RewritePath replaces the configured top-level directory prefix of
// partitionPath with the actually-mounted one (paths outside configured
// are returned unchanged), per spec §4.5 ("If the configured path differs
// from the actual mount, all partition paths are rewritten by substituting
// the top-level directory").
func RewritePath(configured, actualMount, partitionPath string) string {
	if !strings.HasPrefix(partitionPath, configured) {
		return partitionPath
	}
	return actualMount + strings.TrimPrefix(partitionPath, configured)
}
