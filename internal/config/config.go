package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sysparts/syspartd/internal/cgroup"
	"github.com/sysparts/syspartd/internal/curve"
	"github.com/sysparts/syspartd/internal/rule"
)

// Loaded is everything a populated policy document produces: the rule
// model spec §3 describes, the two response curves spec §4.3's adjust
// state machine maps every value it writes through (absolute and relative
// requests alike), and the mount-discovery inputs spec §4.5
// needs before any partition's control files can be opened.
type Loaded struct {
	Model         *rule.Model
	PriorityCurve *curve.Curve
	OOMCurve      *curve.Curve

	MountPoint string
	Subsystems cgroup.Subsystems
}

// Load reads and decodes the policy document at path into a populated
// rule.Model (spec §6 "configured via a syspart.conf-style file ... the
// path is taken from a daemon parameter with fallback
// /etc/ohm/plugins.d/syspart.conf"). It validates as it builds: an
// unresolvable partition reference, unknown property/operator/action
// name, or non-monotone curve function all fail the load outright rather
// than producing a partially-built model, since a bad policy document is
// exactly the kind of startup-time configuration error spec §7 treats as
// fatal.
func Load(path string) (*Loaded, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}

	model := rule.NewModel()

	for _, pd := range doc.Partitions {
		if err := model.AddPartition(buildPartition(pd)); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	for _, gd := range doc.Groups {
		g, err := buildGroup(gd, model)
		if err != nil {
			return nil, err
		}
		if err := model.AddGroup(g); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	for _, rd := range doc.Rules {
		if rd.Binary == "" {
			return nil, fmt.Errorf("config: rule entry missing binary (use fallback: for the %q chain)", rule.FallbackKey)
		}
		r, err := buildRule(rd)
		if err != nil {
			return nil, fmt.Errorf("config: rule %q: %w", rd.Binary, err)
		}
		model.Primary.Bind(rd.Binary, append(mustChain(model.Primary, rd.Binary), r))
	}

	if doc.Fallback != nil {
		r, err := buildRule(*doc.Fallback)
		if err != nil {
			return nil, fmt.Errorf("config: fallback rule: %w", err)
		}
		model.Primary.Bind(rule.FallbackKey, append(mustChain(model.Primary, rule.FallbackKey), r))
	}

	loaded := &Loaded{
		Model:      model,
		MountPoint: doc.Cgroup.MountPoint,
		Subsystems: buildSubsystems(doc.Cgroup.Subsystems),
	}

	if doc.Curves.Priority != nil {
		c, err := buildCurve(*doc.Curves.Priority)
		if err != nil {
			return nil, fmt.Errorf("config: priority curve: %w", err)
		}
		loaded.PriorityCurve = c
	}
	if doc.Curves.OOM != nil {
		c, err := buildCurve(*doc.Curves.OOM)
		if err != nil {
			return nil, fmt.Errorf("config: oom curve: %w", err)
		}
		loaded.OOMCurve = c
	}

	return loaded, nil
}

// mustChain returns the chain currently bound to binary, or nil if unset,
// so callers can append to it uniformly whether or not a prior ruleDoc
// already contributed to the same binary's chain.
func mustChain(p *rule.ProcDef, binary string) rule.Chain {
	c, _ := p.Lookup(binary)
	return c
}

func buildPartition(pd partitionDoc) *rule.Partition {
	p := rule.NewPartition(pd.Name, pd.Path)
	p.Limits = rule.Limits{
		CPUShares:   pd.CPUShares,
		MemoryBytes: pd.MemoryBytes,
		RTPeriodUS:  pd.RTPeriodUS,
		RTRuntimeUS: pd.RTRuntimeUS,
	}
	p.Extra = pd.Extra
	return p
}

func buildGroup(gd groupDoc, model *rule.Model) (*rule.Group, error) {
	g := rule.NewGroup(gd.Name)
	g.Description = gd.Description
	g.DefaultPriority = gd.DefaultPriority

	flags, err := buildGroupFlags(gd.Flags)
	if err != nil {
		return nil, fmt.Errorf("config: group %q: %w", gd.Name, err)
	}
	g.Flags = flags

	if gd.Partition != "" {
		p, ok := model.Partitions[gd.Partition]
		if !ok {
			return nil, fmt.Errorf("config: group %q references unknown partition %q", gd.Name, gd.Partition)
		}
		g.Partition = p
	}
	return g, nil
}

func buildRule(rd ruleDoc) (*rule.Rule, error) {
	mask, err := buildEventMask(rd.Events)
	if err != nil {
		return nil, err
	}
	r := &rule.Rule{EventMask: mask, UIDs: rd.UIDs, GIDs: rd.GIDs}
	for i, sd := range rd.Statements {
		pred, err := buildPredicate(sd.When)
		if err != nil {
			return nil, fmt.Errorf("statement %d: %w", i, err)
		}
		actions, err := buildActions(sd.Actions)
		if err != nil {
			return nil, fmt.Errorf("statement %d: %w", i, err)
		}
		r.Stmts = append(r.Stmts, rule.Statement{Predicate: pred, Actions: actions})
	}
	return r, nil
}

func buildCurve(cd curveDoc) (*curve.Curve, error) {
	return curve.New(cd.Fn, cd.IMin, cd.IMax, cd.OMin, cd.OMax, cd.CMin, cd.CMax)
}

func buildSubsystems(names []string) cgroup.Subsystems {
	var s cgroup.Subsystems
	for _, n := range names {
		switch n {
		case "freezer":
			s.Freezer = true
		case "cpu":
			s.CPU = true
		case "memory":
			s.Memory = true
		case "cpuset":
			s.CPUSet = true
		}
	}
	return s
}
