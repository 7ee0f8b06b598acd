package expr

import (
	"bytes"
	"fmt"
	"strings"
)

// ProcType classifies the kind of task a PropProcType compares against.
type ProcType uint32

const (
	ProcUnknown ProcType = iota
	ProcUser
	ProcKernel
)

// StringVal models a nullable string attribute. A null string compares
// unequal to any non-null string under = and ≠, and sorts before any
// non-null string under < (spec §4.2).
type StringVal struct {
	Valid bool
	S     string
}

func Str(s string) StringVal { return StringVal{Valid: true, S: s} }

// populated is a bitset of which Attrs fields have been lazily fetched,
// mirroring spec §3's "bitset of which fields have been lazily populated".
type populated uint32

const (
	popBinaryPath populated = 1 << iota
	popArgv
	popComm
	popStatus // euid, egid, ppid
	popParentBinary
	popProcType
)

// Fetcher supplies the OS-level reads an Attrs block performs lazily.
// procsource.Reader implements this against live /proc state; tests supply
// a fake.
type Fetcher interface {
	BinaryPath(pid int) (string, error)
	Comm(pid int) (string, error)
	Cmdline(pid int) ([]byte, error)
	Status(pid int) (euid, egid uint32, ppid int, err error)
}

// maxCmdlineBytes caps the total bytes read from /proc/<pid>/cmdline, per
// spec §3 ("argv vector ... ≤ 2048 bytes total").
const maxCmdlineBytes = 2048

// Attrs is the per-event attribute block expressions evaluate against. It
// is populated eagerly with pid/tgid/binary path by the classifier and
// lazily for everything else.
type Attrs struct {
	Pid, Tgid, PPid int
	TracerPid       int
	Euid, Egid      uint32
	BinaryPath      string
	ParentBinary    StringVal
	Comm            string
	Argv            []string
	ProcType        ProcType
	ReclassifyCount uint32

	// ByArgvGuard prevents re-entrant classify-by-argv recursion (spec §9,
	// "represent the guard as a boolean field on the attributes block").
	ByArgvGuard bool

	pop     populated
	fetcher Fetcher
}

func NewAttrs(pid, tgid int, binaryPath string, fetcher Fetcher) *Attrs {
	a := &Attrs{Pid: pid, Tgid: tgid, BinaryPath: binaryPath, fetcher: fetcher}
	if binaryPath != "" {
		a.pop |= popBinaryPath
	}
	return a
}

// OverrideBinaryPath forces BinaryPath to v, marking it populated, used by
// the classify-by-argv action to substitute argv[n] for the real binary
// path before re-running rule evaluation (spec §4.3).
func (a *Attrs) OverrideBinaryPath(v string) {
	a.BinaryPath = v
	a.pop |= popBinaryPath
}

func (a *Attrs) ensureBinaryPath() error {
	if a.pop&popBinaryPath != 0 {
		return nil
	}
	p, err := a.fetcher.BinaryPath(a.Pid)
	if err != nil {
		return err
	}
	a.BinaryPath = p
	a.pop |= popBinaryPath
	return nil
}

func (a *Attrs) ensureComm() error {
	if a.pop&popComm != 0 {
		return nil
	}
	c, err := a.fetcher.Comm(a.Pid)
	if err != nil {
		return err
	}
	a.Comm = c
	a.pop |= popComm
	return nil
}

func (a *Attrs) ensureArgv() error {
	if a.pop&popArgv != 0 {
		return nil
	}
	raw, err := a.fetcher.Cmdline(a.Pid)
	if err != nil {
		return err
	}
	if len(raw) > maxCmdlineBytes {
		raw = raw[:maxCmdlineBytes]
	}
	parts := bytes.Split(bytes.TrimRight(raw, "\x00"), []byte{0})
	argv := make([]string, 0, len(parts))
	for _, p := range parts {
		if len(argv) >= maxArgs {
			break
		}
		argv = append(argv, string(p))
	}
	a.Argv = argv
	a.pop |= popArgv
	return nil
}

func (a *Attrs) ensureStatus() error {
	if a.pop&popStatus != 0 {
		return nil
	}
	euid, egid, ppid, err := a.fetcher.Status(a.Pid)
	if err != nil {
		return err
	}
	a.Euid, a.Egid, a.PPid = euid, egid, ppid
	a.pop |= popStatus
	return nil
}

func (a *Attrs) ensureParentBinary() error {
	if a.pop&popParentBinary != 0 {
		return nil
	}
	if err := a.ensureStatus(); err != nil {
		return err
	}
	p, err := a.fetcher.BinaryPath(a.PPid)
	if err != nil {
		a.ParentBinary = StringVal{}
	} else {
		a.ParentBinary = Str(p)
	}
	a.pop |= popParentBinary
	return nil
}

// EnsureIdentity forces euid/egid/ppid population, for callers (the
// classifier's rule-admission check) that need them outside of expression
// evaluation.
func (a *Attrs) EnsureIdentity() error {
	return a.ensureStatus()
}

// EnsureBinaryPath forces binary-path population, for callers (the
// classifier's step 3, "read /proc/<pid>/exe") that need to detect a
// vanished process before any expression evaluation runs.
func (a *Attrs) EnsureBinaryPath() error {
	return a.ensureBinaryPath()
}

func (a *Attrs) cmdlineJoined() (string, error) {
	if err := a.ensureArgv(); err != nil {
		return "", err
	}
	return strings.Join(a.Argv, " "), nil
}

// ArgvSnapshot forces argv population and returns it, for callers (the
// classifier's classify-by-argv action) that need the full vector rather
// than a single indexed lookup.
func (a *Attrs) ArgvSnapshot() ([]string, error) {
	if err := a.ensureArgv(); err != nil {
		return nil, err
	}
	return a.Argv, nil
}

func (a *Attrs) arg(n int) (StringVal, error) {
	if err := a.ensureArgv(); err != nil {
		return StringVal{}, err
	}
	if n >= len(a.Argv) {
		return Str(""), nil
	}
	return Str(a.Argv[n]), nil
}

// Describe renders a short human summary for logging, matching the style
// of the pid-keyed "<binary> (...)" fact field values in spec §8 scenario 1.
func (a *Attrs) Describe() string {
	return fmt.Sprintf("%s (pid=%d)", a.BinaryPath, a.Pid)
}
