package fact

import "fmt"

// GroupKind formats the per-group fact kind name of spec §6
// ("group and partition facts mirror the rule-model names").
func GroupKind(groupName string) string {
	return fmt.Sprintf("com.nokia.policy.group.%s", groupName)
}

// GroupMirror adapts a Store into the rule.FactMirror interface for one
// group, without internal/fact importing internal/rule (the dependency
// runs the other way: internal/rule only depends on the FactMirror
// interface it declares).
type GroupMirror struct {
	store *Store
	kind  string
}

func NewGroupMirror(store *Store, groupName string) *GroupMirror {
	return &GroupMirror{store: store, kind: GroupKind(groupName)}
}

func (m *GroupMirror) SetMember(pid int, description string) {
	m.store.SetField(m.kind, "members", fmt.Sprintf("%d", pid), description)
}

func (m *GroupMirror) RemoveMember(pid int) {
	m.store.DeleteField(m.kind, "members", fmt.Sprintf("%d", pid))
}

const (
	CallKind           = "com.nokia.policy.call"
	CallActionKind     = "com.nokia.policy.call_action"
	EmergencyKind      = "com.nokia.policy.emergency_call"
	DecisionKind       = "com.nokia.policy.decision"
)

// SetCall mirrors the stringified call fields of spec §6's
// "com.nokia.policy.call" schema.
func (s *Store) SetCall(path string, fields map[string]string) {
	s.SetFields(CallKind, path, fields)
}

func (s *Store) DeleteCall(path string) {
	s.Delete(CallKind, path)
}

// SetCallAction records the resolver's call_action decision for callID,
// keyed numerically as spec §6 describes.
func (s *Store) SetCallAction(callID int, action string) {
	s.SetField(CallActionKind, fmt.Sprintf("%d", callID), "action", action)
}

func (s *Store) SetEmergencyActive(active bool) {
	state := "off"
	if active {
		state = "active"
	}
	s.SetField(EmergencyKind, "state", "state", state)
}
