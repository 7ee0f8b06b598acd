package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/sysparts/syspartd/internal/classifier"
	"github.com/sysparts/syspartd/internal/console"
	"github.com/sysparts/syspartd/internal/rule"
)

// handleConsoleRequest implements the command registrar of spec §6
// ("cgroup help|show groups|show config|reclassify [all|<pid>]"), run
// from the main loop so it only ever reads main-thread-private state.
func handleConsoleRequest(clf *classifier.Classifier, model *rule.Model, req console.Request) console.Response {
	switch req.Command {
	case "help":
		return console.OK(
			"cgroup help",
			"cgroup show groups",
			"cgroup show config",
			"cgroup reclassify all|<pid>",
		)
	case "show":
		if len(req.Args) != 1 {
			return console.Errorf("show needs exactly one argument: groups|config")
		}
		switch req.Args[0] {
		case "groups":
			return console.OK(showGroups(model)...)
		case "config":
			return console.OK(showConfig(model)...)
		default:
			return console.Errorf("unknown show target %q", req.Args[0])
		}
	case "reclassify":
		if len(req.Args) != 1 {
			return console.Errorf("reclassify needs exactly one argument: all|<pid>")
		}
		return reclassify(clf, req.Args[0])
	default:
		return console.Errorf("unknown command %q (try \"help\")", req.Command)
	}
}

func showGroups(model *rule.Model) []string {
	names := make([]string, 0, len(model.Groups))
	for name := range model.Groups {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		g := model.Groups[name]
		partition := "-"
		if g.Partition != nil {
			partition = g.Partition.Name
		}
		lines = append(lines, fmt.Sprintf("%-20s members=%-4d partition=%s", g.Name, g.MemberCount(), partition))
	}
	return lines
}

func showConfig(model *rule.Model) []string {
	var lines []string

	names := make([]string, 0, len(model.Partitions))
	for name := range model.Partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := model.Partitions[name]
		lines = append(lines, fmt.Sprintf("partition %-16s path=%-24s cpu_shares=%d memory_bytes=%d",
			p.Name, p.Path, p.Limits.CPUShares, p.Limits.MemoryBytes))
	}

	lines = append(lines, fmt.Sprintf("primary procdefs: %d, addon procdefs: %d", model.Primary.Len(), model.Addon.Len()))
	return lines
}

func reclassify(clf *classifier.Classifier, target string) console.Response {
	if target == "all" {
		pids := clf.AllPids()
		n := 0
		for _, pid := range pids {
			if clf.ForceReclassify(pid) {
				n++
			}
		}
		return console.OK(fmt.Sprintf("reclassified %d/%d processes", n, len(pids)))
	}

	pid, err := strconv.Atoi(target)
	if err != nil {
		return console.Errorf("invalid pid %q", target)
	}
	if !clf.ForceReclassify(pid) {
		return console.Errorf("pid %d not found", pid)
	}
	return console.OK(fmt.Sprintf("reclassified pid %d", pid))
}
