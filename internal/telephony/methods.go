package telephony

import (
	"github.com/godbus/dbus/v5"

	"github.com/sysparts/syspartd/internal/busrouter"
	"github.com/sysparts/syspartd/internal/call"
)

// installMethods registers the D-Bus method surface of spec §6.
func (r *Router) installMethods() error {
	if err := r.bus.AddMethod(busrouter.Session, r.cfg.ObjectPath, r.cfg.BusName, "call_request", "sbi", "b", r.handleCallRequest); err != nil {
		return err
	}
	if err := r.bus.AddMethod(busrouter.Session, r.cfg.ObjectPath, r.cfg.BusName, "RequestAccept", "so", "", r.handleRequestAccept); err != nil {
		return err
	}
	if err := r.bus.AddMethod(busrouter.Session, r.cfg.ObjectPath, r.cfg.BusName, "RequestHold", "sob", "", r.handleRequestHold); err != nil {
		return err
	}
	if err := r.bus.AddMethod(busrouter.Session, r.cfg.ObjectPath, r.cfg.BusName, "StartDTMF", "souy", "", r.handleStartDTMF); err != nil {
		return err
	}
	if err := r.bus.AddMethod(busrouter.Session, r.cfg.ObjectPath, r.cfg.BusName, "StopDTMF", "sou", "", r.handleStopDTMF); err != nil {
		return err
	}
	return r.bus.AddMethod(busrouter.Session, r.cfg.PolicyObjectPath, r.cfg.PolicyBusName, "emergency_call_active", "b", "", r.handleEmergencyCallActive)
}

// handleCallRequest implements spec §6's "call_request(s path, b
// incoming, i reserved) -> b allow". Spec §7 item 5: "resolver returning
// no decisions fact ... is logged as an error and the originating event
// is allowed to proceed with its default behavior (e.g., call-request is
// permitted)". The reply is always allow=true: the resolver hook runs, and
// neither its outcome nor its failure changes the reply.
func (r *Router) handleCallRequest(sender string, args []interface{}) ([]interface{}, *dbus.Error) {
	if len(args) < 2 {
		return nil, dbus.NewError("org.freedesktop.DBus.Error.InvalidArgs", []interface{}{"call_request needs (path, incoming, reserved)"})
	}
	path, _ := args[0].(string)
	incoming, _ := args[1].(bool)

	allow := true
	locals := map[string]string{"call_path": path, "incoming": boolToken(incoming)}
	if err := r.resolver.Resolve(bgCtx(), "telephony_call_request", locals); err != nil {
		r.logger.Warn("call_request resolver hook failed, allowing by default", "path", path, "error", err)
	}
	return []interface{}{allow}, nil
}

func boolToken(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (r *Router) handleRequestAccept(sender string, args []interface{}) ([]interface{}, *dbus.Error) {
	if len(args) < 2 {
		return nil, invalidArgs("RequestAccept needs (manager, path)")
	}
	path := pathArg(args[1])
	if t := r.machine.RequestAccept(path); t != nil {
		r.applyTransitions([]call.Transition{*t})
		return nil, nil
	}
	return nil, dbus.NewError("org.freedesktop.DBus.Error.Failed", []interface{}{"call not found or already active"})
}

func (r *Router) handleRequestHold(sender string, args []interface{}) ([]interface{}, *dbus.Error) {
	if len(args) < 3 {
		return nil, invalidArgs("RequestHold needs (manager, path, hold)")
	}
	path := pathArg(args[1])
	hold, _ := args[2].(bool)
	if t := r.machine.RequestHold(path, hold); t != nil {
		r.applyTransitions([]call.Transition{*t})
	}
	return nil, nil
}

func (r *Router) handleStartDTMF(sender string, args []interface{}) ([]interface{}, *dbus.Error) {
	if len(args) < 2 {
		return nil, invalidArgs("StartDTMF needs (manager, path, stream, tone)")
	}
	path := pathArg(args[1])
	r.withRecord(path, func(rec *call.Record) { r.fireHook(r.hooks.DTMFStart, rec) })
	return nil, nil
}

func (r *Router) handleStopDTMF(sender string, args []interface{}) ([]interface{}, *dbus.Error) {
	if len(args) < 2 {
		return nil, invalidArgs("StopDTMF needs (manager, path, stream)")
	}
	path := pathArg(args[1])
	r.withRecord(path, func(rec *call.Record) { r.fireHook(r.hooks.DTMFEnd, rec) })
	return nil, nil
}

// handleEmergencyCallActive implements spec §6's "emergency_call_active(b
// active)": toggling the process-wide emergency flag also fires the
// first-call/call-start/call-active (on activation) or
// call-end/last-call (on deactivation) hooks, per spec §4.6.
func (r *Router) handleEmergencyCallActive(sender string, args []interface{}) ([]interface{}, *dbus.Error) {
	if len(args) < 1 {
		return nil, invalidArgs("emergency_call_active needs (active)")
	}
	active, _ := args[0].(bool)

	hadAny := len(r.machine.Table.All()) > 0
	r.machine.Emergency = active
	r.facts.SetEmergencyActive(active)

	if active {
		if !hadAny {
			r.fireHookGeneric(r.hooks.FirstCall)
		}
		r.fireHookGeneric(r.hooks.CallStart)
		r.fireHookGeneric(r.hooks.CallActive)
	} else {
		r.fireHookGeneric(r.hooks.CallEnd)
		if !hadAny {
			r.fireHookGeneric(r.hooks.LastCall)
		}
	}
	r.reconcileResources()
	return nil, nil
}

func pathArg(v interface{}) string {
	switch p := v.(type) {
	case dbus.ObjectPath:
		return string(p)
	case string:
		return p
	default:
		return ""
	}
}

func invalidArgs(msg string) *dbus.Error {
	return dbus.NewError("org.freedesktop.DBus.Error.InvalidArgs", []interface{}{msg})
}
