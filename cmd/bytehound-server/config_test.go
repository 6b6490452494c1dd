package main

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterFlagsDefaults(t *testing.T) {
	var cfg Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	require.NoError(t, fs.Parse(nil))

	assert.Equal(t, "127.0.0.1", cfg.Interface)
	assert.Equal(t, 8080, cfg.Port)
	assert.False(t, cfg.LoadInParallel)
}

func TestValidateRequiresAtLeastOneInput(t *testing.T) {
	cfg := Config{}
	assert.Error(t, cfg.Validate())

	cfg.Inputs = []string{"capture.json"}
	assert.NoError(t, cfg.Validate())
}

func TestMultiFlagAccumulates(t *testing.T) {
	var m multiFlag
	require.NoError(t, m.Set("a"))
	require.NoError(t, m.Set("b"))
	assert.Equal(t, []string{"a", "b"}, []string(m))
}
