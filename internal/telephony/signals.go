package telephony

import (
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/sysparts/syspartd/internal/busrouter"
	"github.com/sysparts/syspartd/internal/call"
)

// withRecord looks up path in the call table; if absent, fn is deferred
// per spec §4.6 ("signals that arrive before their creating NewChannels
// do are queued per-path with a 10 s timeout").
func (r *Router) withRecord(path string, fn func(*call.Record)) {
	if rec, ok := r.machine.Table.ByPath(path); ok {
		fn(rec)
		return
	}
	r.logger.Debug("deferring signal for unregistered channel", "path", path)
	r.deferred.Defer(path, time.Now(), fn)
}

// installSignals subscribes to every Telepathy signal spec §4.6 lists,
// plus NewSession (session-bus rebinding) and NameOwnerChanged (handled
// separately via AddNameWatch in Start).
func (r *Router) installSignals() error {
	type sub struct {
		bus     busrouter.Bus
		iface   string
		member  string
		handler busrouter.SignalHandler
	}
	subs := []sub{
		{busrouter.System, "com.nokia.policy", "NewSession", r.onNewSession},
		{busrouter.Session, "org.freedesktop.Telepathy.Channel.Interface.Group", "MembersChanged", r.onMembersChanged},
		{busrouter.Session, "org.freedesktop.Telepathy.Channel", "Closed", r.onClosed},
		{busrouter.Session, "org.freedesktop.Telepathy.Channel.Interface.Hold", "HoldStateChanged", r.onHoldStateChanged},
		{busrouter.Session, "org.freedesktop.Telepathy.Channel.Interface.CallState", "CallStateChanged", r.onCallStateChanged},
		{busrouter.Session, "org.freedesktop.Telepathy.Channel.Type.Call.DRAFT", "CallStateChanged", r.onCallStateChanged},
		{busrouter.Session, "org.freedesktop.Telepathy.Channel.Type.StreamedMedia", "StreamAdded", r.onStreamAdded},
		{busrouter.Session, "org.freedesktop.Telepathy.Channel.Type.StreamedMedia", "StreamRemoved", r.onStreamRemoved},
		{busrouter.Session, "org.freedesktop.Telepathy.Channel.Type.Call.DRAFT", "ContentAdded", r.onContentAdded},
		{busrouter.Session, "org.freedesktop.Telepathy.Channel.Type.Call.DRAFT", "ContentRemoved", r.onContentRemoved},
		{busrouter.Session, "org.freedesktop.Telepathy.Channel.Interface.Conference", "ChannelMerged", r.onChannelMerged},
		{busrouter.Session, "org.freedesktop.Telepathy.Channel.Interface.Conference", "ChannelRemoved", r.onChannelRemoved},
		{busrouter.Session, "org.freedesktop.Telepathy.Channel.Interface.Conference.DRAFT", "ChannelMerged", r.onChannelMerged},
		{busrouter.Session, "org.freedesktop.Telepathy.Channel.Interface.MergeableConference.DRAFT", "MemberChannelAdded", r.onMemberChannelAdded},
		{busrouter.Session, "org.freedesktop.Telepathy.Channel.Interface.MergeableConference.DRAFT", "MemberChannelRemoved", r.onMemberChannelRemoved},
		{busrouter.Session, "org.freedesktop.Telepathy.Channel.Interface.DTMF", "SendingDialString", r.onDialstringSending},
		{busrouter.Session, "org.freedesktop.Telepathy.Channel.Interface.DTMF", "StoppedDialString", r.onDialstringStopped},
		{busrouter.Session, "com.nokia.csd.Call", "CallStatus", r.onCSDCallStatus},
		{busrouter.Session, "org.freedesktop.Telepathy.Channel.Target", "NewChannels", r.onNewChannels},
		{busrouter.Session, "org.freedesktop.Telepathy.Connection.Interface.Requests", "NewChannels", r.onNewChannels},
	}
	for _, s := range subs {
		if err := r.bus.AddSignal(s.bus, "", s.iface, s.member, "", "", s.handler); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) onNewSession(sig *dbus.Signal) bool {
	if len(sig.Body) != 1 {
		return false
	}
	address, _ := sig.Body[0].(string)
	if address == "" {
		return false
	}
	if err := r.bus.RebindSession(address); err != nil {
		r.logger.Error("session bus rebind failed", "error", err)
	}
	return true
}

// onNewChannels decodes a (oa{sv}) array: one entry per new channel, with
// the Telepathy properties spec §4.6's direction inference needs.
func (r *Router) onNewChannels(sig *dbus.Signal) bool {
	if len(sig.Body) == 0 {
		return false
	}
	entries, ok := sig.Body[0].([][]interface{})
	if !ok {
		return false
	}
	for _, entry := range entries {
		if len(entry) != 2 {
			continue
		}
		path, _ := entry[0].(dbus.ObjectPath)
		props, _ := entry[1].(map[string]dbus.Variant)
		r.registerChannel(string(path), props)
	}
	return true
}

func (r *Router) registerChannel(path string, props map[string]dbus.Variant) {
	if _, exists := r.machine.Table.ByPath(path); exists {
		return
	}

	requested, haveRequested := false, false
	if v, ok := props["Requested"]; ok {
		requested, _ = v.Value().(bool)
		haveRequested = true
	}
	initiatorIsSelf := false
	if v, ok := props["InitiatorID"]; ok {
		if s, _ := v.Value().(string); s == r.cfg.SelfBusID {
			initiatorIsSelf = true
		}
	}
	targetHandle, _ := variantUint32(props["TargetHandle"])
	initiatorHandle, _ := variantUint32(props["InitiatorHandle"])
	emergency := false
	if v, ok := props["Emergency"]; ok {
		emergency, _ = v.Value().(bool)
	}
	var initialMembers []string
	if v, ok := props["InitialChannels"]; ok {
		if paths, ok := v.Value().([]dbus.ObjectPath); ok {
			for _, p := range paths {
				initialMembers = append(initialMembers, string(p))
			}
		}
	}

	kind := call.StreamedMedia
	if v, ok := props["ChannelType"]; ok {
		if s, _ := v.Value().(string); s == "org.freedesktop.Telepathy.Channel.Type.Call.DRAFT" {
			kind = call.CallDraft
		}
	}

	rec, trans := r.machine.NewChannel(call.NewChannelParams{
		Path: path, Kind: kind,
		Requested: requested, HaveRequested: haveRequested,
		InitiatorIsSelf: initiatorIsSelf,
		TargetHandle:    targetHandle, InitiatorHandle: initiatorHandle,
		Emergency: emergency, Holdable: true,
		InitialMembers: initialMembers,
	})

	r.deferred.Drain(path, time.Now(), rec)
	r.applyTransitions(trans)
}

func variantUint32(v dbus.Variant) (uint32, bool) {
	switch n := v.Value().(type) {
	case uint32:
		return n, true
	case int32:
		return uint32(n), true
	default:
		return 0, false
	}
}

func (r *Router) onClosed(sig *dbus.Signal) bool {
	r.applyTransitions(r.machine.ChannelClosed(string(sig.Path)))
	return true
}

func (r *Router) onMembersChanged(sig *dbus.Signal) bool {
	if len(sig.Body) < 6 {
		return false
	}
	added, _ := sig.Body[1].([]uint32)
	removed, _ := sig.Body[2].([]uint32)
	localPending, _ := sig.Body[3].([]uint32)
	remotePending, _ := sig.Body[4].([]uint32)
	actor, _ := sig.Body[5].(uint32)

	path := string(sig.Path)
	r.withRecord(path, func(*call.Record) {
		if t := r.machine.MembersChanged(path, added, removed, localPending, remotePending, actor); t != nil {
			r.applyTransitions([]call.Transition{*t})
		}
	})
	return true
}

func (r *Router) onHoldStateChanged(sig *dbus.Signal) bool {
	if len(sig.Body) < 1 {
		return false
	}
	state, _ := sig.Body[0].(uint32)
	path := string(sig.Path)
	r.withRecord(path, func(*call.Record) {
		if t := r.machine.HoldStateChanged(path, call.HoldState(state)); t != nil {
			r.applyTransitions([]call.Transition{*t})
		}
	})
	return true
}

// onCallStateChanged covers both the plain CallState interface and the
// Call.DRAFT variant spec §4.6 names together; both carry a single
// state value we treat as a hint rather than a hard transition (the
// authoritative transitions come from MembersChanged/HoldStateChanged).
func (r *Router) onCallStateChanged(sig *dbus.Signal) bool {
	path := string(sig.Path)
	_, ok := r.machine.Table.ByPath(path)
	return ok
}

func (r *Router) onStreamAdded(sig *dbus.Signal) bool {
	if len(sig.Body) < 3 {
		return false
	}
	streamID, _ := sig.Body[0].(uint32)
	streamType, _ := sig.Body[2].(uint32)
	path := string(sig.Path)
	r.withRecord(path, func(*call.Record) {
		r.machine.SetMedia(path, idString(streamID), streamType == 1)
		r.reconcileResources()
	})
	return true
}

func (r *Router) onStreamRemoved(sig *dbus.Signal) bool {
	path := string(sig.Path)
	r.withRecord(path, func(rec *call.Record) {
		r.machine.SetMedia(path, "", rec.HasVideo())
		r.reconcileResources()
	})
	return true
}

func (r *Router) onContentAdded(sig *dbus.Signal) bool {
	if len(sig.Body) < 2 {
		return false
	}
	contentPath, _ := sig.Body[0].(dbus.ObjectPath)
	mediaType, _ := sig.Body[1].(uint32)
	path := string(sig.Path)
	r.withRecord(path, func(*call.Record) {
		r.machine.SetMedia(path, string(contentPath), mediaType == 1)
		r.reconcileResources()
	})
	return true
}

func (r *Router) onContentRemoved(sig *dbus.Signal) bool {
	path := string(sig.Path)
	r.withRecord(path, func(rec *call.Record) {
		r.machine.SetMedia(path, "", rec.HasVideo())
		r.reconcileResources()
	})
	return true
}

func idString(id uint32) string {
	if id == 0 {
		return ""
	}
	return fmt.Sprintf("stream-%d", id)
}

func (r *Router) onChannelMerged(sig *dbus.Signal) bool {
	if len(sig.Body) < 1 {
		return false
	}
	memberPath, _ := sig.Body[0].(dbus.ObjectPath)
	r.applyTransitions(r.machine.ChannelMerged(string(sig.Path), string(memberPath)))
	return true
}

func (r *Router) onChannelRemoved(sig *dbus.Signal) bool {
	if len(sig.Body) < 1 {
		return false
	}
	memberPath, _ := sig.Body[0].(dbus.ObjectPath)
	r.applyTransitions(r.machine.ChannelRemoved(string(sig.Path), string(memberPath)))
	return true
}

func (r *Router) onMemberChannelAdded(sig *dbus.Signal) bool {
	if len(sig.Body) < 1 {
		return false
	}
	memberPath, _ := sig.Body[0].(dbus.ObjectPath)
	r.applyTransitions(r.machine.MemberChannelAdded(string(sig.Path), string(memberPath)))
	return true
}

func (r *Router) onMemberChannelRemoved(sig *dbus.Signal) bool {
	if len(sig.Body) < 1 {
		return false
	}
	memberPath, _ := sig.Body[0].(dbus.ObjectPath)
	r.applyTransitions(r.machine.MemberChannelRemoved(string(sig.Path), string(memberPath)))
	return true
}

func (r *Router) onDialstringSending(sig *dbus.Signal) bool {
	path := string(sig.Path)
	r.withRecord(path, func(rec *call.Record) { r.fireHook(r.hooks.DialstringStart, rec) })
	return true
}

func (r *Router) onDialstringStopped(sig *dbus.Signal) bool {
	path := string(sig.Path)
	r.withRecord(path, func(rec *call.Record) { r.fireHook(r.hooks.DialstringEnd, rec) })
	return true
}

// onCSDCallStatus implements spec §9's "BT UI kludge": a single CSD
// CallStatus=accepted is treated as an accept when exactly one
// StreamedMedia call currently exists, gated behind Config.CSDCompat.
func (r *Router) onCSDCallStatus(sig *dbus.Signal) bool {
	if !r.cfg.CSDCompat || len(sig.Body) < 1 {
		return false
	}
	status, _ := sig.Body[0].(string)
	if status != "accepted" {
		return false
	}

	var only *call.Record
	count := 0
	for _, rec := range r.machine.Table.All() {
		if rec.Kind == call.StreamedMedia {
			count++
			only = rec
		}
	}
	if count != 1 {
		return false
	}
	if t := r.machine.RequestAccept(only.Path); t != nil {
		r.applyTransitions([]call.Transition{*t})
	}
	return true
}
