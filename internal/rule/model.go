package rule

import "fmt"

// FallbackKey is the binary-path key reserved for the fallback rule chain
// (spec §3 "a single fallback definition with key '*'").
const FallbackKey = "*"

// Model is the full in-memory rule model: groups, partitions, the primary
// rule set, and the hot-reloadable addon overlay. It is purely data plus
// indexes — no OS or D-Bus calls are made from this package.
type Model struct {
	Groups     map[string]*Group
	Partitions map[string]*Partition
	Root       *Partition

	Primary *ProcDef
	Addon   *ProcDef // hot-reloadable overlay, see internal/rule's addon reload
}

func NewModel() *Model {
	return &Model{
		Groups:     make(map[string]*Group),
		Partitions: make(map[string]*Partition),
		Primary:    NewProcDef(),
		Addon:      NewProcDef(),
	}
}

func (m *Model) AddGroup(g *Group) error {
	if _, exists := m.Groups[g.Name]; exists {
		return fmt.Errorf("rule: duplicate group %q", g.Name)
	}
	m.Groups[g.Name] = g
	return nil
}

func (m *Model) AddPartition(p *Partition) error {
	if _, exists := m.Partitions[p.Name]; exists {
		return fmt.Errorf("rule: duplicate partition %q", p.Name)
	}
	m.Partitions[p.Name] = p
	return nil
}

// PartitionByPath scans partitions by filesystem path (spec §4.5
// "Partition lookup: by name (hash) and by filesystem path (scan)").
func (m *Model) PartitionByPath(path string) (*Partition, bool) {
	for _, p := range m.Partitions {
		if p.Path == path {
			return p, true
		}
	}
	return nil, false
}

// LookupChain performs the primary lookup with addon overlay of spec §4.4
// step 5: the addon ProcDef, if it has a binding for binary, takes
// precedence over the primary ProcDef's binding.
func (m *Model) LookupChain(binary string) (Chain, bool) {
	if c, ok := m.Addon.Lookup(binary); ok {
		return c, true
	}
	return m.Primary.Lookup(binary)
}

// FallbackChain returns the "*"-keyed chain, checking the addon overlay
// first like any other binary lookup.
func (m *Model) FallbackChain() (Chain, bool) {
	return m.LookupChain(FallbackKey)
}

// ReplaceAddon atomically swaps in a newly parsed addon ProcDef. Callers
// (internal/rule's addon watcher) must have already validated the new set;
// on any validation failure the previous addon set is retained, per spec
// §7 item 2.
func (m *Model) ReplaceAddon(next *ProcDef) {
	m.Addon = next
}
