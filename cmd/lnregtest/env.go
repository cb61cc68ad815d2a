package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Env describes the regtest network `lnregtest up` brings up.
type Env struct {
	Bitcoind   BitcoindEnv   `yaml:"bitcoind"`
	Lightningd LightningdEnv `yaml:"lightningd"`
}

// BitcoindEnv configures the single bitcoind backend.
type BitcoindEnv struct {
	// Exe defaults to BITCOIND_EXE or bitcoind on PATH.
	Exe    string   `yaml:"exe"`
	Args   []string `yaml:"args"`
	Blocks int64    `yaml:"blocks"`
}

// LightningdEnv configures the lightningd nodes.
type LightningdEnv struct {
	// Exe defaults to LIGHTNINGD_EXE or lightningd on PATH.
	Exe          string        `yaml:"exe"`
	Nodes        int           `yaml:"nodes"`
	Args         []string      `yaml:"args"`
	KeepDirs     bool          `yaml:"keep_dirs"`
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
}

func defaultEnv() Env {
	return Env{
		Bitcoind:   BitcoindEnv{Blocks: 100},
		Lightningd: LightningdEnv{Nodes: 2},
	}
}

// loadEnv reads path over the defaults. An empty path returns the defaults.
func loadEnv(path string) (Env, error) {
	env := defaultEnv()
	if path == "" {
		return env, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return env, fmt.Errorf("failed to read env file: %w", err)
	}
	if err := yaml.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("failed to parse env file %s: %w", path, err)
	}
	if err := env.validate(); err != nil {
		return env, fmt.Errorf("%s: %w", path, err)
	}
	return env, nil
}

func (e Env) validate() error {
	if e.Lightningd.Nodes < 1 {
		return fmt.Errorf("lightningd.nodes must be at least 1, got %d", e.Lightningd.Nodes)
	}
	if e.Bitcoind.Blocks < 0 {
		return fmt.Errorf("bitcoind.blocks must not be negative")
	}
	for _, arg := range e.Bitcoind.Args {
		if !strings.HasPrefix(arg, "-") {
			return fmt.Errorf("bitcoind arg %q is not a flag", arg)
		}
	}
	return nil
}

// Summary is printed once the network is up.
type Summary struct {
	Bitcoind BitcoindSummary `yaml:"bitcoind" json:"bitcoind"`
	Nodes    []NodeSummary   `yaml:"lightningd" json:"lightningd"`
}

type BitcoindSummary struct {
	RPC     string `yaml:"rpc" json:"rpc"`
	DataDir string `yaml:"datadir" json:"datadir"`
	Cookie  string `yaml:"cookie" json:"cookie"`
	Pid     int    `yaml:"pid" json:"pid"`
}

type NodeSummary struct {
	ID   string `yaml:"id" json:"id"`
	RPC  string `yaml:"rpc" json:"rpc"`
	P2P  string `yaml:"p2p" json:"p2p"`
	Dir  string `yaml:"dir" json:"dir"`
	Pid  int    `yaml:"pid" json:"pid"`
	Peer string `yaml:"peer,omitempty" json:"peer,omitempty"`
}
