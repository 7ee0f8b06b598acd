package busrouter

import "github.com/godbus/dbus/v5"

// AddNameWatch registers handler for org.freedesktop.DBus.NameOwnerChanged
// transitions of name on bus b (spec §4.1's name-owner watch, generalized
// per SPEC_FULL.md's dbus-watch.c supplement). The first watch on a given
// bus installs the generic NameOwnerChanged match rule and a dispatching
// subscription; later watches for other names reuse it.
func (r *Router) AddNameWatch(b Bus, name string, handler NameOwnerHandler) error {
	r.mu.Lock()
	st := r.state(b)
	first := len(st.watches) == 0
	st.watches[name] = append(st.watches[name], handler)
	r.mu.Unlock()

	if !first {
		return nil
	}
	return r.AddSignal(b, "", "org.freedesktop.DBus", "NameOwnerChanged", "", "", r.nameOwnerChanged(b))
}

// DelNameWatch removes every handler registered for name on bus b.
// Removal is by name only, since Go func values cannot be compared for
// identity; the underlying NameOwnerChanged subscription stays installed.
func (r *Router) DelNameWatch(b Bus, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.state(b).watches, name)
}

func (r *Router) nameOwnerChanged(b Bus) SignalHandler {
	return func(sig *dbus.Signal) bool {
		if len(sig.Body) != 3 {
			return false
		}
		name, _ := sig.Body[0].(string)
		oldOwner, _ := sig.Body[1].(string)
		newOwner, _ := sig.Body[2].(string)

		r.mu.Lock()
		handlers := append([]NameOwnerHandler(nil), r.state(b).watches[name]...)
		r.mu.Unlock()

		for _, h := range handlers {
			h(name, oldOwner, newOwner)
		}
		return len(handlers) > 0
	}
}
