package procsource

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// IOWaitSampler reads the cumulative iowait jiffies out of /proc/stat on
// demand. It is a direct port of the original implementation's
// cgrp-sysmon.c load sampler (see SPEC_FULL.md "Supplemented features");
// spec.md's classifier algorithm does not gate on it, so it is exposed as
// optional instrumentation the classifier may consult but never required
// to call.
type IOWaitSampler struct {
	Root string
}

func NewIOWaitSampler() *IOWaitSampler { return &IOWaitSampler{Root: "/proc"} }

// Sample returns the "iowait" field of the first "cpu " line of
// /proc/stat, in jiffies.
func (s *IOWaitSampler) Sample() (uint64, error) {
	root := s.Root
	if root == "" {
		root = "/proc"
	}
	b, err := os.ReadFile(fmt.Sprintf("%s/stat", root))
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(string(b), "\n") {
		if !strings.HasPrefix(line, "cpu ") {
			continue
		}
		fields := strings.Fields(line)
		// cpu user nice system idle iowait irq softirq ...
		if len(fields) < 6 {
			return 0, fmt.Errorf("procsource: short cpu line in /proc/stat")
		}
		return strconv.ParseUint(fields[5], 10, 64)
	}
	return 0, fmt.Errorf("procsource: no cpu line in /proc/stat")
}
