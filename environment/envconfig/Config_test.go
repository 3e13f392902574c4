package envconfig

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestCreate(t *testing.T) {
	c := NewConfig(Tracking, []float64{0.5, -0.25}, 20, 0.9)
	e, step, err := c.Create(1)
	require.NoError(t, err)
	assert.True(t, step.First())
	assert.Equal(t, 2, e.ActionSpec().Len())
	assert.Equal(t, 0.9, step.Discount)

	c.Environment = "Pendulum"
	_, _, err = c.Create(1)
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	jsonConf := `{"environment": "Tracking", "weights": [0.5],
		"episode_cutoff": 10, "discount": 0.99, "terminal_bound": 0.9}`
	yamlConf := `
environment: Tracking
weights: [0.5]
episode_cutoff: 10
discount: 0.99
terminal_bound: 0.9
`
	want := Config{
		Environment:   Tracking,
		Weights:       []float64{0.5},
		EpisodeCutoff: 10,
		Discount:      0.99,
		TerminalBound: 0.9,
	}

	var fromJSON Config
	require.NoError(t, json.Unmarshal([]byte(jsonConf), &fromJSON))
	assert.Equal(t, want, fromJSON)

	var fromYAML Config
	require.NoError(t, yaml.Unmarshal([]byte(yamlConf), &fromYAML))
	assert.Equal(t, want, fromYAML)

	_, _, err := fromYAML.Create(2)
	assert.NoError(t, err)
}
