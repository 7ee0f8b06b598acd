// Package config decodes the YAML policy document that replaces
// syspart.conf (spec §6 "Environment: configured via a syspart.conf-style
// file parsed by the external configuration component") into a populated
// internal/rule.Model. It is the one package allowed to know the on-disk
// document shape; everything downstream works against rule.Model,
// curve.Curve and rule.ProcDef, never against this package's YAML structs.
package config

// document is the top-level shape of a policy YAML file.
type document struct {
	Cgroup     cgroupDoc      `yaml:"cgroup"`
	Partitions []partitionDoc `yaml:"partitions"`
	Groups     []groupDoc     `yaml:"groups"`
	Curves     curvesDoc      `yaml:"curves"`
	Rules      []ruleDoc      `yaml:"rules"`
	Fallback   *ruleDoc       `yaml:"fallback"`
}

// cgroupDoc is the mount-discovery configuration of spec §4.5: the
// configured top-level partition path (used to rewrite partition paths if
// the actual mount point differs) and the subsystem mask to mount with if
// no cgroup filesystem is already mounted.
type cgroupDoc struct {
	MountPoint string   `yaml:"mount_point"`
	Subsystems []string `yaml:"subsystems"`
}

type partitionDoc struct {
	Name        string   `yaml:"name"`
	Path        string   `yaml:"path"`
	CPUShares   int64    `yaml:"cpu_shares"`
	MemoryBytes int64    `yaml:"memory_bytes"`
	RTPeriodUS  int64    `yaml:"rt_period_us"`
	RTRuntimeUS int64    `yaml:"rt_runtime_us"`
	Extra       []string `yaml:"extra"`
}

type groupDoc struct {
	Name            string   `yaml:"name"`
	Description     string   `yaml:"description"`
	Partition       string   `yaml:"partition"`
	DefaultPriority *int     `yaml:"default_priority"`
	Flags           []string `yaml:"flags"`
}

type curveDoc struct {
	Fn   string  `yaml:"fn"`
	IMin int     `yaml:"imin"`
	IMax int     `yaml:"imax"`
	OMin int     `yaml:"omin"`
	OMax int     `yaml:"omax"`
	CMin float64 `yaml:"cmin"`
	CMax float64 `yaml:"cmax"`
}

type curvesDoc struct {
	Priority *curveDoc `yaml:"priority"`
	OOM      *curveDoc `yaml:"oom"`
}

// ruleDoc is a process-definition: a binary-path-keyed (or, for Fallback,
// key-less) rule chain. Multiple ruleDoc entries may share a binary, each
// contributing one rule.Rule to that binary's chain (spec §3 "ordered
// rule list bound to one binary path").
type ruleDoc struct {
	Binary     string       `yaml:"binary"`
	Events     []string     `yaml:"events"`
	UIDs       []uint32     `yaml:"uids"`
	GIDs       []uint32     `yaml:"gids"`
	Statements []stmtDoc    `yaml:"statements"`
}

type stmtDoc struct {
	When    *predicateDoc `yaml:"when"`
	Actions []actionDoc   `yaml:"actions"`
}

// predicateDoc is a recursive expression-tree node. Exactly one of All/Any/
// Not/Prop should be set; All/Any fold their children with and/or, Not
// negates its single child, and Prop is a leaf comparison.
type predicateDoc struct {
	All   []predicateDoc `yaml:"all"`
	Any   []predicateDoc `yaml:"any"`
	Not   *predicateDoc  `yaml:"not"`
	Prop  string         `yaml:"prop"`
	Op    string         `yaml:"op"`
	Value string         `yaml:"value"`
}

// actionDoc is a tagged-union-by-field action entry: exactly one field is
// expected to be non-zero per entry, matching the action list of spec §3.
type actionDoc struct {
	AssignGroup     string   `yaml:"assign_group"`
	SchedPolicy     string   `yaml:"sched_policy"`
	SchedPriority   int      `yaml:"sched_priority"`
	Renice          *int     `yaml:"renice"`
	ReclassifyAfter *int     `yaml:"reclassify_after_ms"`
	ClassifyByArgv  *int     `yaml:"classify_by_argv"`
	AdjustPriority  *adjust  `yaml:"adjust_priority"`
	AdjustOOM       *adjust  `yaml:"adjust_oom"`
	Ignore          bool     `yaml:"ignore"`
	Leads           []string `yaml:"leads"`
	NoOp            bool     `yaml:"noop"`
}

type adjust struct {
	Mode  string `yaml:"mode"`
	Value int    `yaml:"value"`
}
