package busrouter

import (
	"testing"

	"github.com/godbus/dbus/v5"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchRuleOmitsEmptyComponents(t *testing.T) {
	assert.Equal(t, "type='signal',interface='org.foo',member='Bar'", matchRule("org.foo", "Bar", ""))
	assert.Equal(t, "type='signal',member='Bar',path='/x'", matchRule("", "Bar", "/x"))
}

func TestAddSignalRefcountsSharedMatchRules(t *testing.T) {
	r := New(hclog.NewNullLogger())

	var calls int
	h := func(*dbus.Signal) bool { calls++; return true }

	require.NoError(t, r.AddSignal(System, "/a", "org.foo", "Bar", "", "", h))
	require.NoError(t, r.AddSignal(System, "/a", "org.foo", "Bar", "", "", h))

	rule := matchRule("org.foo", "Bar", "/a")
	assert.Equal(t, 2, r.state(System).rules[rule])

	r.DelSignal(System, "/a", "org.foo", "Bar", "", "")
	assert.Equal(t, 1, r.state(System).rules[rule])

	r.DelSignal(System, "/a", "org.foo", "Bar", "", "")
	_, exists := r.state(System).rules[rule]
	assert.False(t, exists)
}

func TestDispatchSignalTriesDegradedKeyWithoutHaltingOnHandled(t *testing.T) {
	r := New(hclog.NewNullLogger())

	var specific, degraded int
	require.NoError(t, r.AddSignal(System, "", "org.foo", "Bar", "", "", func(*dbus.Signal) bool {
		specific++
		return true
	}))
	require.NoError(t, r.AddSignal(System, "", "", "Bar", "", "", func(*dbus.Signal) bool {
		degraded++
		return true
	}))

	r.dispatchSignal(System, &dbus.Signal{Name: "org.foo.Bar", Path: "/x", Body: nil})

	assert.Equal(t, 1, specific)
	assert.Equal(t, 1, degraded)
}

func TestSubscriptionMatchesNarrowsOnSignatureAndSender(t *testing.T) {
	sub := &signalSubscription{signature: "s", sender: "org.peer"}
	assert.True(t, subscriptionMatches(sub, "s", "/a", "org.peer"))
	assert.False(t, subscriptionMatches(sub, "i", "/a", "org.peer"))
	assert.False(t, subscriptionMatches(sub, "s", "/a", "org.other"))
}

func TestSignatureOfApproximatesPrimitiveTypes(t *testing.T) {
	assert.Equal(t, "sbiuy", signatureOf([]interface{}{"x", true, int32(1), uint32(2), byte(3)}))
}
