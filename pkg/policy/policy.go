// Package policy implements the stateless allow(user, command) predicate
// the core consumes to gate every command invocation. The predicate is
// backed by a flat declarative role -> commands table, loaded from TOML
// or the built-in default.
package policy

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/saworbit/snapvault/pkg/backuperr"
)

// Decision is the outcome of an allow() check.
type Decision string

const (
	Allow Decision = "ALLOW"
	Deny  Decision = "DENY"
)

// RoleConfig is one role's entry in the policy file.
type RoleConfig struct {
	Commands []string `toml:"commands"`
}

// Table is a flat role -> allowed-commands map. The core never inspects
// its contents, only the outcome of Table.Check.
type Table struct {
	Roles map[string]RoleConfig `toml:"roles"`
}

// Default returns the built-in table used when no policy file is
// configured: operator can run every command, auditor is read-only plus
// audit-verify, viewer can only list.
func Default() Table {
	return Table{
		Roles: map[string]RoleConfig{
			"operator": {Commands: []string{
				"init", "backup", "list", "verify", "restore",
				"audit-verify", "watch", "diff", "serve-metrics",
			}},
			"auditor": {Commands: []string{"list", "verify", "audit-verify"}},
			"viewer":  {Commands: []string{"list"}},
		},
	}
}

// Load reads a policy table from a TOML file at path.
func Load(path string) (Table, error) {
	var t Table
	if _, err := toml.DecodeFile(path, &t); err != nil {
		return Table{}, fmt.Errorf("%w: load policy file %s: %v", backuperr.ErrIO, path, err)
	}
	return t, nil
}

// Check evaluates the allow(user, command) predicate for role against
// command.
func (t Table) Check(role, command string) Decision {
	cfg, ok := t.Roles[role]
	if !ok {
		return Deny
	}
	for _, c := range cfg.Commands {
		if c == command {
			return Allow
		}
	}
	return Deny
}
