package busrouter

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

// signalKey composes the spec §4.1 lookup key "<iface>.<member>" (the
// signature is matched separately per-subscription, as in dbus-signal.c's
// signal_matches, rather than folded into the hash key itself — doing so
// would fragment the match-rule install, which is per iface/member/path
// only).
func signalKey(iface, member string) string {
	return fmt.Sprintf("%s.%s", iface, member)
}

// matchRule builds "type='signal',interface=…,member=…,path=…" with
// components omitted when empty, exactly as dbus-signal.c's signal_rule.
func matchRule(iface, member, path string) string {
	var b strings.Builder
	b.WriteString("type='signal'")
	if iface != "" {
		fmt.Fprintf(&b, ",interface='%s'", iface)
	}
	if member != "" {
		fmt.Fprintf(&b, ",member='%s'", member)
	}
	if path != "" {
		fmt.Fprintf(&b, ",path='%s'", path)
	}
	return b.String()
}

// AddSignal subscribes handler to iface.member signals on bus b, narrowed
// by the optional signature/path/sender (spec §4.1 "add_signal(bus, path,
// iface, member, signature, sender, handler, data)"). Each distinct
// (iface,member,path) match rule is installed at most once on the wire;
// repeat registrations that share a rule only add a subscription-list
// entry, since "match-rule reference counting is unnecessary because each
// rule is owned by exactly one subscription list entry" would actually
// undercount shared rules — we count installs per textual rule instead so
// the wire AddMatch/RemoveMatch stays balanced.
func (r *Router) AddSignal(b Bus, path dbus.ObjectPath, iface, member, signature, sender string, handler SignalHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.state(b)
	key := signalKey(iface, member)
	st.signals[key] = append(st.signals[key], &signalSubscription{
		signature: signature,
		path:      path,
		sender:    sender,
		handler:   handler,
	})

	rule := matchRule(iface, member, string(path))
	st.rules[rule]++
	if st.rules[rule] == 1 && st.conn != nil {
		if call := st.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule); call.Err != nil {
			return fmt.Errorf("busrouter: add match %q: %w", rule, call.Err)
		}
	}
	return nil
}

// DelSignal removes the first matching subscription for iface.member with
// the given narrowing fields, and drops the wire match rule once its last
// subscriber is gone.
func (r *Router) DelSignal(b Bus, path dbus.ObjectPath, iface, member, signature, sender string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.state(b)
	key := signalKey(iface, member)
	subs := st.signals[key]
	for i, s := range subs {
		if s.signature == signature && s.path == path && s.sender == sender {
			st.signals[key] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(st.signals[key]) == 0 {
		delete(st.signals, key)
	}

	rule := matchRule(iface, member, string(path))
	if n, ok := st.rules[rule]; ok {
		if n <= 1 {
			delete(st.rules, rule)
			if st.conn != nil {
				if call := st.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, rule); call.Err != nil {
					r.logger.Warn("remove match rule failed", "bus", b, "rule", rule, "error", call.Err)
				}
			}
		} else {
			st.rules[rule] = n - 1
		}
	}
}

// dispatchSignal implements dbus-signal.c's signal_dispatch: the specific
// key is tried first, then two progressively-degraded keys (spec §4.1:
// "<iface>.<member>/<signature>" then "<iface>.<member>" then "<member>").
// Since our key does not carry the signature (matched per-subscription
// instead), the degradation here is iface.member then bare member, and
// within each key every matching subscription is invoked — a handler
// returning handled=true never stops delivery to the rest, matching the
// spec's "multiple subscribers may react".
func (r *Router) dispatchSignal(b Bus, sig *dbus.Signal) {
	dot := strings.LastIndex(sig.Name, ".")
	iface, member := "", sig.Name
	if dot >= 0 {
		iface, member = sig.Name[:dot], sig.Name[dot+1:]
	}

	r.mu.Lock()
	st := r.state(b)
	primary := append([]*signalSubscription(nil), st.signals[signalKey(iface, member)]...)
	degraded := append([]*signalSubscription(nil), st.signals[signalKey("", member)]...)
	r.mu.Unlock()

	signature := signatureOf(sig.Body)
	any := false
	for _, s := range append(primary, degraded...) {
		if !subscriptionMatches(s, signature, sig.Path, sig.Sender) {
			continue
		}
		if s.handler(sig) {
			any = true
		}
	}
	if any {
		r.logger.Debug("signal handled", "bus", b, "name", sig.Name)
	}
}

func subscriptionMatches(s *signalSubscription, signature string, path dbus.ObjectPath, sender string) bool {
	if s.signature != "" && s.signature != signature {
		return false
	}
	if s.path != "" && s.path != path {
		return false
	}
	if s.sender != "" && s.sender != sender {
		return false
	}
	return true
}

// signatureOf derives a best-effort D-Bus type-code signature from a
// decoded signal body, used only for narrowing AddSignal subscriptions
// that supplied one; godbus decodes bodies before we see them, so this
// is an approximation over the handful of primitive types the telephony
// signals actually carry.
func signatureOf(body []interface{}) string {
	var b strings.Builder
	for _, v := range body {
		switch v.(type) {
		case string:
			b.WriteByte('s')
		case bool:
			b.WriteByte('b')
		case int32:
			b.WriteByte('i')
		case uint32:
			b.WriteByte('u')
		case byte:
			b.WriteByte('y')
		case dbus.ObjectPath:
			b.WriteByte('o')
		default:
			b.WriteByte('?')
		}
	}
	return b.String()
}
