package telephony

import (
	"context"
	"strconv"

	"github.com/sysparts/syspartd/internal/call"
	"github.com/sysparts/syspartd/internal/fact"
)

func bgCtx() context.Context { return context.Background() }

// applyTransitions implements spec §4.6's policy enforcement flow for
// every Transition a Machine method produced: mirror the call fact,
// invoke telephony_request, walk the call_action decision fact it
// deposits, execute each decided action, delete the decision fact, then
// invoke telephony_audio_update. A nil-returning resolver (spec §7 item 5)
// leaves the event's default behavior in place — the state machine has
// already applied the transition regardless of policy involvement.
func (r *Router) applyTransitions(transitions []call.Transition) {
	for _, t := range transitions {
		r.mirrorCallFact(t.Record)
		r.runHooksForTransition(t)

		ctx := bgCtx()
		locals := map[string]string{
			"call_id":    strconv.Itoa(t.Record.ID),
			"call_state": t.Record.State.String(),
		}
		if err := r.resolver.Resolve(ctx, "telephony_request", locals); err != nil {
			r.logger.Warn("telephony_request resolver hook failed", "call_id", t.Record.ID, "error", err)
		}

		r.drainDecisions(ctx)

		if err := r.resolver.Resolve(ctx, "telephony_audio_update", nil); err != nil {
			r.logger.Warn("telephony_audio_update resolver hook failed", "error", err)
		}

		r.reconcileResources()
	}
}

// drainDecisions implements spec §4.6 step (c): "the enforcer walks the
// decisions fact, executing each action, then deletes the fact."
func (r *Router) drainDecisions(ctx context.Context) {
	for _, idStr := range r.facts.Instances(fact.CallActionKind) {
		fields, ok := r.facts.Get(fact.CallActionKind, idStr)
		if !ok {
			continue
		}
		action := fields["action"]
		id, err := strconv.Atoi(idStr)
		if err != nil {
			continue
		}
		rec, ok := r.machine.Table.ByID(id)
		if !ok {
			continue
		}
		r.executeDecision(rec, action)
	}
	r.facts.DeleteKind(fact.CallActionKind)
}

// executeDecision maps one call_action token to the call-model operation
// and resolver hook spec §4.6 names it for.
func (r *Router) executeDecision(rec *call.Record, action string) {
	switch action {
	case "created":
		r.fireHook(r.hooks.CallStart, rec)
	case "disconnected":
		r.fireHook(r.hooks.CallEnd, rec)
	case "busy":
		// declined for resource contention; no state mutation beyond the
		// hook the resolver already observed via telephony_request.
	case "onhold":
		if t := r.machine.HoldStateChanged(rec.Path, call.HoldHeld); t != nil {
			r.mirrorCallFact(t.Record)
			r.fireHook(r.hooks.CallOnHold, rec)
		}
	case "autohold", "cmtautohold":
		if t := r.machine.Autohold(rec.Path); t != nil {
			r.mirrorCallFact(t.Record)
			r.fireHook(r.hooks.CallOnHold, rec)
		}
	case "active", "cmtautoactivate":
		wasConnected := rec.EverConnected
		if t := r.machine.HoldStateChanged(rec.Path, call.HoldUnheld); t != nil {
			r.mirrorCallFact(t.Record)
			r.fireHook(r.hooks.CallOffHold, rec)
			if !wasConnected {
				r.fireHook(r.hooks.CallConnect, rec)
			}
			r.fireHook(r.hooks.CallActive, rec)
		}
	case "localhungup":
		r.fireHook(r.hooks.LocalHungup, rec)
	case "peerhungup":
		// no dedicated hook named in spec beyond the fact mirror already
		// reflecting the state.
	default:
		r.logger.Warn("unknown call_action token", "action", action, "call_id", rec.ID)
	}
}

// runHooksForTransition fires the transition-keyed resolver hooks
// (first-call/last-call/call-start/connect/active/onhold/local-hungup;
// call-end and call-offhold are not fired here), independent of the
// decision-fact walk,
// since some transitions (e.g. the very first call registering) need a
// hook before any resolver round trip has happened.
func (r *Router) runHooksForTransition(t call.Transition) {
	wasEmpty := r.machine.Table.Count() == 1 && t.Kind == "created"
	if wasEmpty {
		r.fireHook(r.hooks.FirstCall, t.Record)
	}

	switch t.Kind {
	case "created":
		r.fireHook(r.hooks.CallStart, t.Record)
	case "active":
		if !wasAlreadyConnected(t) {
			r.fireHook(r.hooks.CallConnect, t.Record)
		}
		r.fireHook(r.hooks.CallActive, t.Record)
	case "onhold", "autohold":
		r.fireHook(r.hooks.CallOnHold, t.Record)
	case "localhungup":
		r.fireHook(r.hooks.LocalHungup, t.Record)
		r.maybeFireLastCall()
	case "peerhungup", "disconnected":
		r.maybeFireLastCall()
	}
}

func wasAlreadyConnected(t call.Transition) bool {
	return t.From == call.StateActive || t.From == call.StateOnHold || t.From == call.StateAutohold
}

func (r *Router) maybeFireLastCall() {
	if r.machine.Table.Count() == 0 {
		r.fireHookGeneric(r.hooks.LastCall)
	}
}

func (r *Router) fireHook(name string, rec *call.Record) {
	if name == "" {
		return
	}
	locals := map[string]string{"call_id": strconv.Itoa(rec.ID)}
	if err := r.resolver.Resolve(bgCtx(), name, locals); err != nil {
		r.logger.Warn("resolver hook failed", "hook", name, "call_id", rec.ID, "error", err)
	}
}

func (r *Router) fireHookGeneric(name string) {
	if name == "" {
		return
	}
	if err := r.resolver.Resolve(bgCtx(), name, nil); err != nil {
		r.logger.Warn("resolver hook failed", "hook", name, "error", err)
	}
}

// mirrorCallFact projects rec's fields into the fact store's
// com.nokia.policy.call schema (spec §6).
func (r *Router) mirrorCallFact(rec *call.Record) {
	parent := ""
	if resolved, ok := r.machine.Table.Resolve(rec, rec.Parent); ok {
		parent = strconv.Itoa(resolved.ID)
	}
	r.facts.SetCall(rec.Path, map[string]string{
		"path":      rec.Path,
		"id":        strconv.Itoa(rec.ID),
		"state":     rec.State.String(),
		"direction": directionString(rec.Direction),
		"order":     strconv.Itoa(rec.Order),
		"parent":    parent,
		"emergency": boolToken(rec.Emergency),
		"connected": boolToken(rec.EverConnected),
		"video":     boolToken(rec.HasVideo()),
		"holdable":  boolToken(rec.Holdable),
	})
}

func directionString(d call.Direction) string {
	switch d {
	case call.DirIncoming:
		return "incoming"
	case call.DirOutgoing:
		return "outgoing"
	default:
		return "unknown"
	}
}

func (r *Router) reconcileResources() {
	if err := r.resctl.Reconcile(bgCtx(), r.machine.NeedAudio(), r.machine.NeedVideo()); err != nil {
		r.logger.Warn("resource reconcile failed", "error", err)
	}
}
