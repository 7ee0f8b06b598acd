package busrouter

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/godbus/dbus/v5"
)

// sigTypes maps the subset of D-Bus type codes spec §6's telephony methods
// actually use to Go reflect.Types, so a MethodHandler registered with a
// textual signature (exactly as method_key in dbus-method.c keys its
// handlers) can be wrapped into the concretely-typed Go function
// conn.ExportMethodTable's reflection-based dispatcher requires — Go has
// no native "function of N dynamically-typed arguments" value, so the
// table is synthesized per registration with reflect.MakeFunc.
var sigTypes = map[byte]reflect.Type{
	's': reflect.TypeOf(""),
	'b': reflect.TypeOf(false),
	'i': reflect.TypeOf(int32(0)),
	'u': reflect.TypeOf(uint32(0)),
	'y': reflect.TypeOf(byte(0)),
	'o': reflect.TypeOf(dbus.ObjectPath("")),
}

// methodKey reproduces dbus-method.c's method_key: "<member>/<signature>",
// the interface being the caller's outer map key already.
func methodKey(member, signature string) string {
	return fmt.Sprintf("%s/%s", member, signature)
}

// AddMethod registers handler for method calls to path/iface.member with
// the given input and output signatures (spec §4.1 "add_method(bus, path,
// iface, member, signature, handler, data)", extended with outSignature so
// the exported reflect function replies with the declared out-arguments
// instead of a single array-of-variant value). data is folded into the Go
// closure the caller builds handler from, replacing the C API's opaque
// void*.
func (r *Router) AddMethod(b Bus, path dbus.ObjectPath, iface, member, signature, outSignature string, handler MethodHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.state(b)
	obj, ok := st.objects[path]
	if !ok {
		obj = &objectTable{methods: make(map[string]map[string]*methodEntry)}
		st.objects[path] = obj
	}
	methods, ok := obj.methods[iface]
	if !ok {
		methods = make(map[string]*methodEntry)
		obj.methods[iface] = methods
	}
	key := methodKey(member, signature)
	if _, exists := methods[key]; exists {
		return fmt.Errorf("busrouter: duplicate method handler for %s:%s.%s", path, iface, key)
	}
	methods[key] = &methodEntry{signature: signature, outSignature: outSignature, handler: handler}

	return r.exportTable(b, path, iface)
}

// DelMethod unregisters a previously added handler. If the object path's
// method table becomes empty for iface, the export is torn down the same
// way dbus-method.c destroys an emptied object.
func (r *Router) DelMethod(b Bus, path dbus.ObjectPath, iface, member, signature string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.state(b)
	obj, ok := st.objects[path]
	if !ok {
		return
	}
	methods, ok := obj.methods[iface]
	if !ok {
		return
	}
	delete(methods, methodKey(member, signature))
	if len(methods) == 0 {
		delete(obj.methods, iface)
	}
	if len(obj.methods) == 0 {
		delete(st.objects, path)
	}
	if st.conn != nil {
		if len(methods) == 0 {
			_ = st.conn.Export(nil, path, iface)
		} else {
			_ = r.exportTable(b, path, iface)
		}
	}
}

// exportTable synthesizes one Go function per registered member (spanning
// every signature variant registered for that member — spec §4.1 allows
// several handlers to share a member name at different signatures, mapped
// here onto a single exported method with the widest input signature, see
// makeDispatchFunc) and
// calls ExportMethodTable so godbus's reflection dispatcher can serve it.
func (r *Router) exportTable(b Bus, path dbus.ObjectPath, iface string) error {
	st := r.state(b)
	if st.conn == nil {
		return nil // not yet connected; re-export happens on (re)bind
	}
	obj := st.objects[path]
	methods := obj.methods[iface]

	table := make(map[string]interface{}, len(methods))
	byMember := make(map[string][]*methodEntry)
	for key, entry := range methods {
		member := strings.SplitN(key, "/", 2)[0]
		byMember[member] = append(byMember[member], entry)
	}
	for member, entries := range byMember {
		table[member] = makeDispatchFunc(entries)
	}

	if err := st.conn.ExportMethodTable(table, path, iface); err != nil {
		return fmt.Errorf("busrouter: export %s/%s: %w", path, iface, err)
	}
	return nil
}

// makeDispatchFunc builds a reflect.MakeFunc value whose Go signature is
// the widest registered input signature (so godbus will deliver the call)
// and whose return types are one reflect.Type per declared out-argument of
// the widest registered *output* signature, plus the trailing *dbus.Error.
// ExportMethodTable derives the reply's wire signature from these return
// types, so returning N separate values here (instead of one []interface{}
// value) is what makes a reply like "b allow" marshal as a bare boolean
// out-argument rather than as a single array-of-variant. Because the
// synthesized function always takes the widest input signature's argument
// count, the dispatched entry is the first one whose signature has that
// length (or the widest entry itself); handlers registered for the same
// member with a shorter signature are not invoked. The chosen handler's
// results are unpacked positionally into
// the widest out-signature's slots, zero-filling any the entry itself
// didn't populate. Sender is threaded through via godbus's dbus.Sender
// injection convention (a trailing arg of type dbus.Sender is recognized
// specially by the library and not counted against the wire signature).
func makeDispatchFunc(entries []*methodEntry) interface{} {
	widestIn := entries[0]
	for _, e := range entries {
		if len(e.signature) > len(widestIn.signature) {
			widestIn = e
		}
	}
	widestOutSig := entries[0].outSignature
	for _, e := range entries {
		if len(e.outSignature) > len(widestOutSig) {
			widestOutSig = e.outSignature
		}
	}

	in := make([]reflect.Type, 0, len(widestIn.signature)+1)
	for i := 0; i < len(widestIn.signature); i++ {
		t, ok := sigTypes[widestIn.signature[i]]
		if !ok {
			t = reflect.TypeOf((*interface{})(nil)).Elem()
		}
		in = append(in, t)
	}
	in = append(in, reflect.TypeOf(dbus.Sender("")))

	outTypes := make([]reflect.Type, 0, len(widestOutSig))
	for i := 0; i < len(widestOutSig); i++ {
		t, ok := sigTypes[widestOutSig[i]]
		if !ok {
			t = reflect.TypeOf((*interface{})(nil)).Elem()
		}
		outTypes = append(outTypes, t)
	}
	out := append(append([]reflect.Type{}, outTypes...), reflect.TypeOf((*dbus.Error)(nil)))
	fnType := reflect.FuncOf(in, out, false)

	fn := reflect.MakeFunc(fnType, func(args []reflect.Value) []reflect.Value {
		sender := string(args[len(args)-1].Interface().(dbus.Sender))
		argc := len(args) - 1

		var entry *methodEntry
		for _, e := range entries {
			if len(e.signature) == argc {
				entry = e
				break
			}
		}
		if entry == nil {
			entry = widestIn
		}

		vals := make([]interface{}, argc)
		for i := 0; i < argc; i++ {
			vals[i] = args[i].Interface()
		}

		retVals, derr := entry.handler(sender, vals)

		results := make([]reflect.Value, len(outTypes)+1)
		for i, t := range outTypes {
			if i < len(retVals) && retVals[i] != nil {
				results[i] = reflect.ValueOf(retVals[i])
			} else {
				results[i] = reflect.Zero(t)
			}
		}
		results[len(outTypes)] = reflect.ValueOf(derr)
		return results
	})
	return fn.Interface()
}
