// Package telephony is the telephony router of spec §4.6/§4.7: it wires
// internal/busrouter's Telepathy signals and D-Bus methods into
// internal/call's state machine, mirrors transitions into the fact
// store, drives the resolver's telephony_request/telephony_audio_update
// hooks, and reconciles internal/resource after every transition.
package telephony

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	hclog "github.com/hashicorp/go-hclog"

	"github.com/sysparts/syspartd/internal/busrouter"
	"github.com/sysparts/syspartd/internal/call"
	"github.com/sysparts/syspartd/internal/fact"
	"github.com/sysparts/syspartd/internal/resolver"
	"github.com/sysparts/syspartd/internal/resource"
)

// Config carries the wiring constants spec §6 and §9 name.
type Config struct {
	ObjectPath       dbus.ObjectPath
	BusName          string
	PolicyObjectPath dbus.ObjectPath
	PolicyBusName    string
	SelfBusID        string // compared against InitiatorID for direction inference

	// CSDCompat gates the "BT UI kludge" of spec §9: treating a single CSD
	// CallStatus=accepted as an accept when exactly one CS call exists.
	CSDCompat bool

	StreamEngineBusName string
}

func DefaultConfig() Config {
	return Config{
		ObjectPath:          "/com/nokia/policy/telephony",
		BusName:             "com.nokia.policy.telephony",
		PolicyObjectPath:    "/com/nokia/policy",
		PolicyBusName:       "com.nokia.policy",
		SelfBusID:           "<self>",
		StreamEngineBusName: "org.freedesktop.Telepathy.StreamEngine",
	}
}

// Hooks names the resolver rules spec §4.6 fires at each matching
// transition ("a configured set of resolver hooks").
type Hooks struct {
	FirstCall, LastCall       string
	CallStart, CallEnd        string
	CallConnect, CallActive   string
	CallOnHold, CallOffHold   string
	LocalHungup               string
	DialstringStart, DialstringEnd string
	DTMFStart, DTMFEnd        string
}

func DefaultHooks() Hooks {
	return Hooks{
		FirstCall: "first_call", LastCall: "last_call",
		CallStart: "call_start", CallEnd: "call_end",
		CallConnect: "call_connect", CallActive: "call_active",
		CallOnHold: "call_onhold", CallOffHold: "call_offhold",
		LocalHungup:     "local_hungup",
		DialstringStart: "dialstring_start", DialstringEnd: "dialstring_end",
		DTMFStart: "dtmf_start", DTMFEnd: "dtmf_end",
	}
}

// Router is the single top-level telephony state struct, per spec §9's
// guidance against globals.
type Router struct {
	bus      *busrouter.Router
	machine  *call.Machine
	deferred *call.DeferredBuffer
	resolver resolver.Resolver
	facts    *fact.Store
	resctl   *resource.Controller

	cfg   Config
	hooks Hooks

	logger hclog.Logger
}

func New(bus *busrouter.Router, resolv resolver.Resolver, facts *fact.Store, resctl *resource.Controller, cfg Config, logger hclog.Logger) *Router {
	return &Router{
		bus:      bus,
		machine:  call.NewMachine(),
		deferred: call.NewDeferredBuffer(),
		resolver: resolv,
		facts:    facts,
		resctl:   resctl,
		cfg:      cfg,
		hooks:    DefaultHooks(),
		logger:   logger.Named("telephony"),
	}
}

// Machine exposes the underlying state machine for tests and the console.
func (r *Router) Machine() *call.Machine { return r.machine }

// Start installs every signal subscription, method handler and name
// watch this router owns, and claims its well-known bus name (spec §6).
func (r *Router) Start() error {
	if err := r.bus.RequestName(busrouter.Session, r.cfg.BusName); err != nil {
		return fmt.Errorf("telephony: request name: %w", err)
	}

	if err := r.installSignals(); err != nil {
		return err
	}
	if err := r.installMethods(); err != nil {
		return err
	}

	return r.bus.AddNameWatch(busrouter.Session, r.cfg.StreamEngineBusName, r.streamEngineOwnerChanged)
}

func (r *Router) streamEngineOwnerChanged(name, oldOwner, newOwner string) {
	pid := 0
	if newOwner != "" {
		conn := r.bus.Conn(busrouter.Session)
		if conn != nil {
			var u uint32
			if err := conn.BusObject().Call("org.freedesktop.DBus.GetConnectionUnixProcessID", 0, newOwner).Store(&u); err == nil {
				pid = int(u)
			}
		}
	}
	if err := r.resctl.SetStreamEnginePID(context.Background(), pid); err != nil {
		r.logger.Warn("stream-engine pid update failed", "error", err)
	}
}
