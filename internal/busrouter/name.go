package busrouter

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

// RequestName claims a well-known bus name, used by the telephony router
// to own "com.nokia.policy.telephony" (spec §6).
func (r *Router) RequestName(b Bus, name string) error {
	conn := r.Conn(b)
	if conn == nil {
		return fmt.Errorf("busrouter: request name %q: bus %s not connected", name, b)
	}
	reply, err := conn.RequestName(name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("busrouter: request name %q: %w", name, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner && reply != dbus.RequestNameReplyAlreadyOwner {
		return fmt.Errorf("busrouter: request name %q: reply %d", name, reply)
	}
	return nil
}

// Emit sends a signal from path/iface.member with the given body, used by
// the telephony router for outbound notifications the daemon itself
// originates (distinct from the Telepathy signals it only consumes).
func (r *Router) Emit(b Bus, path dbus.ObjectPath, iface, member string, body ...interface{}) error {
	conn := r.Conn(b)
	if conn == nil {
		return fmt.Errorf("busrouter: emit %s.%s: bus %s not connected", iface, member, b)
	}
	return conn.Emit(path, iface+"."+member, body...)
}
