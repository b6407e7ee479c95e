package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sara-star-quant/qkdnet/internal/constants"
	qerrors "github.com/sara-star-quant/qkdnet/internal/errors"
	"github.com/sara-star-quant/qkdnet/pkg/link"
	"github.com/sara-star-quant/qkdnet/pkg/topology"
)

func TestExampleScenario(t *testing.T) {
	s := Example()

	assert.Equal(t, "Hey, are you nervous for the presentation??", s.Message)
	assert.Equal(t, 180, s.Params.KeySize)
	assert.Equal(t, 10*time.Second, s.Params.WaitTime.Std())
	assert.True(t, s.Params.RunAlternate)
	require.Len(t, s.Nodes, 5)

	g, err := s.Graph()
	require.NoError(t, err)
	assert.Equal(t, "Ani", g.Sender())
	assert.Equal(t, "Xiufan", g.Receiver())
	assert.True(t, g.IsSpy("Darren"))

	res, err := topology.Resolve(g)
	require.NoError(t, err)
	assert.Equal(t, "Ani -> Arya -> Darren -> Xiufan", res.Primary().String())
	alt, ok := res.Alternate()
	require.True(t, ok)
	assert.Equal(t, "Ani -> Arya -> Nayan -> Xiufan", alt.String())
}

func TestParseKeepsDefaults(t *testing.T) {
	data := []byte(`
message: hi
nodes:
  - {id: S, role: sender, neighbors: [R]}
  - {id: R, role: receiver}
`)
	s, err := Parse(data, FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, DefaultParams(), s.Params)
}

func TestDurationForms(t *testing.T) {
	yamlDoc := []byte(`
message: hi
params:
  wait_time: 3
  path_timeout: 1m30s
nodes:
  - {id: S, role: sender, neighbors: [R]}
  - {id: R, role: receiver}
`)
	s, err := Parse(yamlDoc, FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, s.Params.WaitTime.Std())
	assert.Equal(t, 90*time.Second, s.Params.PathTimeout.Std())

	tomlDoc := []byte(`
message = "hi"

[params]
wait_time = 2
path_timeout = "500ms"

[[nodes]]
id = "S"
role = "sender"
neighbors = ["R"]

[[nodes]]
id = "R"
role = "receiver"
`)
	s, err = Parse(tomlDoc, FormatTOML)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, s.Params.WaitTime.Std())
	assert.Equal(t, 500*time.Millisecond, s.Params.PathTimeout.Std())
}

func TestDurationRejectsNonFinite(t *testing.T) {
	for _, v := range []interface{}{math.NaN(), math.Inf(1), math.Inf(-1), 1e300, "NaN", "-Inf"} {
		var d Duration
		assert.ErrorIs(t, d.UnmarshalTOML(v), qerrors.ErrInvalidConfig, "value %v", v)
		assert.Zero(t, d, "value %v", v)
	}

	var d Duration
	require.NoError(t, d.UnmarshalTOML(1.5))
	assert.Equal(t, 1500*time.Millisecond, d.Std())
}

func TestTOMLEncodingLoadsBack(t *testing.T) {
	want := Example()
	data, err := Marshal(want, FormatTOML)
	require.NoError(t, err)

	got, err := Parse(data, FormatTOML)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadByExtension(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "net.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(ExampleYAML), 0o600))
	s, err := Load(yamlPath)
	require.NoError(t, err)
	assert.Len(t, s.Nodes, 5)

	tomlData, err := Marshal(s, FormatTOML)
	require.NoError(t, err)
	tomlPath := filepath.Join(dir, "net.toml")
	require.NoError(t, os.WriteFile(tomlPath, tomlData, 0o600))
	s2, err := Load(tomlPath)
	require.NoError(t, err)
	assert.Equal(t, s, s2)

	_, err = Load(filepath.Join(dir, "net.json"))
	assert.ErrorIs(t, err, qerrors.ErrInvalidConfig)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseRejectsInvalid(t *testing.T) {
	nodes := `
nodes:
  - {id: S, role: sender, neighbors: [R]}
  - {id: R, role: receiver}
`
	tests := []struct {
		name string
		doc  string
	}{
		{"no message", nodes},
		{"zero key size", "message: hi\nparams: {key_size: 0}" + nodes},
		{"threshold above 100", "message: hi\nparams: {error_rate_threshold: 101}" + nodes},
		{"spy probability above 1", "message: hi\nparams: {spy_probability: 1.5}" + nodes},
		{"unknown protocol", "message: hi\nparams: {protocol: e91}" + nodes},
		{"bad duration", "message: hi\nparams: {wait_time: soon}" + nodes},
		{"zero wait time", "message: hi\nparams: {wait_time: 0}" + nodes},
		{"NaN wait time", "message: hi\nparams: {wait_time: NaN}" + nodes},
		{"infinite wait time", "message: hi\nparams: {wait_time: +Inf}" + nodes},
		{"wait time overflows", "message: hi\nparams: {wait_time: 1e300}" + nodes},
		{"unknown key", "message: hi\ncolour: blue" + nodes},
		{"unknown role", "message: hi\nnodes:\n  - {id: S, role: sender, neighbors: [R]}\n  - {id: R, role: watcher}\n"},
		{"two senders", "message: hi\nnodes:\n  - {id: S, role: sender, neighbors: [R]}\n  - {id: T, role: sender, neighbors: [R]}\n  - {id: R, role: receiver}\n"},
		{"one node", "message: hi\nnodes:\n  - {id: S, role: sender}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), FormatYAML)
			assert.ErrorIs(t, err, qerrors.ErrInvalidConfig)
		})
	}
}

func TestParamsConversions(t *testing.T) {
	p := DefaultParams()
	p.Protocol = "B92"
	p.Ack = false
	p.AbortOnEavesdropper = true
	require.NoError(t, p.Validate())

	cfg := p.LinkConfig(nil)
	assert.Equal(t, constants.ProtocolB92, cfg.Protocol)
	assert.False(t, cfg.AckMode)
	assert.Equal(t, constants.DefaultWaitTime, cfg.WaitTime)
	assert.Equal(t, link.PolicyAbort, p.Policy())
	require.NoError(t, cfg.Validate())

	rc := p.RelayConfig()
	assert.Nil(t, rc.Seed)
	assert.Equal(t, link.PolicyAbort, rc.Policy)
	require.NoError(t, rc.Validate())

	p.Seed = "demo"
	p.PathTimeout = Duration(3 * time.Second)
	rc = p.RelayConfig()
	assert.Equal(t, []byte("demo"), rc.Seed)
	assert.Equal(t, 3*time.Second, rc.PathTimeout)
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"yaml": FormatYAML, ".YML": FormatYAML, "toml": FormatTOML} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("ini")
	assert.ErrorIs(t, err, qerrors.ErrInvalidConfig)
}
