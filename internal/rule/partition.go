package rule

// Limits are the resource limits configured for a Partition (spec §3
// "Partition"). Zero values mean "leave the control file untouched".
type Limits struct {
	CPUShares   int64
	MemoryBytes int64
	RTPeriodUS  int64
	RTRuntimeUS int64
}

// Partition is the data-model half of a control-group directory: name,
// path, and configured limits. The open file descriptors to its control
// files, and the write-through operations on them, belong to
// internal/cgroup's PartitionHandle — kept separate so the rule model has
// no OS dependency (spec §2 splits "Rule model" and "Cgroup enforcer" into
// distinct components for exactly this reason).
type Partition struct {
	Name   string
	Path   string
	Limits Limits
	Extra  []string // extra control settings, "file=value" pairs
}

func NewPartition(name, path string) *Partition {
	return &Partition{Name: name, Path: path}
}
