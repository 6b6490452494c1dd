package main

import (
	"flag"

	"github.com/pkg/errors"
)

// Config is the single flag-populated configuration struct for the
// server binary, mirroring the RegisterFlags(f *flag.FlagSet) convention
// from cmd/frigg/app/config.go and cmd/tempo/app/config.go — no YAML
// config file layer, since spec.md §6's wire contract is startup flags
// only.
type Config struct {
	Inputs            []string
	DebugSymbolsPaths []string
	LoadInParallel    bool
	Interface         string
	Port              int
}

// RegisterFlags binds Config's fields onto f.
func (c *Config) RegisterFlags(f *flag.FlagSet) {
	f.BoolVar(&c.LoadInParallel, "load-in-parallel", false, "load capture inputs concurrently instead of sequentially")
	f.StringVar(&c.Interface, "interface", "127.0.0.1", "address to bind the HTTP server to")
	f.IntVar(&c.Port, "port", 8080, "port to bind the HTTP server to")
}

// Validate checks the parsed config for the invariants main.go relies on.
func (c *Config) Validate() error {
	if len(c.Inputs) == 0 {
		return errors.New("at least one capture input path is required")
	}
	return nil
}
