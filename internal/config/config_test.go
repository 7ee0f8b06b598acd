package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sysparts/syspartd/internal/rule"
)

const sampleDoc = `
partitions:
  - name: default
    path: /syspart/default
    cpu_shares: 1024
  - name: audio
    path: /syspart/audio
    cpu_shares: 2048

groups:
  - name: foreground
    description: interactive foreground processes
    partition: default
    flags: [fact-exported]
  - name: background
    partition: default

curves:
  priority:
    fn: "x"
    imin: 0
    imax: 100
    omin: -20
    omax: 19
    cmin: 0
    cmax: 1

rules:
  - binary: /usr/bin/pulseaudio
    events: [exec, fork]
    statements:
      - when:
          prop: euid
          op: eq
          value: "0"
        actions:
          - assign_group: foreground
          - renice: -5
      - actions:
          - assign_group: background

fallback:
  events: [exec]
  statements:
    - actions:
        - assign_group: background
`

func writeSample(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "syspart.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadBuildsGroupsPartitionsAndRules(t *testing.T) {
	path := writeSample(t, sampleDoc)

	loaded, err := Load(path)
	require.NoError(t, err)

	require.Contains(t, loaded.Model.Partitions, "default")
	require.Contains(t, loaded.Model.Partitions, "audio")
	assert.Equal(t, int64(1024), loaded.Model.Partitions["default"].Limits.CPUShares)

	fg, ok := loaded.Model.Groups["foreground"]
	require.True(t, ok)
	assert.True(t, fg.Flags.Has(rule.FlagFactExported))
	assert.Equal(t, "default", fg.Partition.Name)

	chain, ok := loaded.Model.LookupChain("/usr/bin/pulseaudio")
	require.True(t, ok)
	require.Len(t, chain, 1)
	assert.True(t, chain[0].EventMask.Has(rule.EventExec))
	require.Len(t, chain[0].Stmts, 2)
	assert.NotNil(t, chain[0].Stmts[0].Predicate)
	assert.Nil(t, chain[0].Stmts[1].Predicate)

	_, ok = loaded.Model.FallbackChain()
	assert.True(t, ok)

	require.NotNil(t, loaded.PriorityCurve)
}

func TestLoadRejectsUnknownPartitionReference(t *testing.T) {
	bad := `
groups:
  - name: foreground
    partition: nonexistent
`
	path := writeSample(t, bad)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsUnknownEventKind(t *testing.T) {
	bad := `
rules:
  - binary: /bin/true
    events: [bogus]
    statements:
      - actions: [{noop: true}]
`
	path := writeSample(t, bad)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoaderLoadAddonBuildsProcDef(t *testing.T) {
	addonDoc := `
rules:
  - binary: /usr/bin/spotify
    events: [exec]
    statements:
      - actions:
          - assign_group: background
`
	path := writeSample(t, addonDoc)

	var l Loader
	pd, err := l.LoadAddon(path)
	require.NoError(t, err)
	assert.Equal(t, 1, pd.Len())

	chain, ok := pd.Lookup("/usr/bin/spotify")
	require.True(t, ok)
	assert.Len(t, chain, 1)
}

func TestLoaderLoadAddonRejectsMissingBinary(t *testing.T) {
	bad := `
rules:
  - events: [exec]
    statements: []
`
	path := writeSample(t, bad)

	var l Loader
	_, err := l.LoadAddon(path)
	assert.Error(t, err)
}
