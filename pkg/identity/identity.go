// Package identity resolves the OS user interface the core consumes:
// a non-empty username plus the role used to evaluate policy.
package identity

import (
	"fmt"
	"os"
	"os/user"

	"github.com/saworbit/snapvault/pkg/backuperr"
)

// DefaultRoleEnv is the environment variable consulted for a role
// override when the OS cannot supply one (the OS user database has no
// notion of a backup-tool role).
const DefaultRoleEnv = "SNAPVAULT_OPERATOR_ROLE"

// Identity is the resolved operator attempting a command.
type Identity struct {
	Username string
	Role     string
}

// Resolve looks up the current OS user and pairs it with a role taken
// from roleEnv (falling back to "operator" so a fresh checkout works
// without configuration). Failure to determine a non-empty username is
// reported as ErrPermissionDenied, matching the core's contract that
// identity failure aborts the command as FAIL before any policy check.
func Resolve(roleEnv string) (Identity, error) {
	if roleEnv == "" {
		roleEnv = DefaultRoleEnv
	}

	username, err := currentUsername()
	if err != nil || username == "" {
		return Identity{}, fmt.Errorf("%w: resolve OS user: %v", backuperr.ErrPermissionDenied, err)
	}

	role := os.Getenv(roleEnv)
	if role == "" {
		role = "operator"
	}

	return Identity{Username: username, Role: role}, nil
}

func currentUsername() (string, error) {
	u, err := user.Current()
	if err != nil {
		if name := os.Getenv("USER"); name != "" {
			return name, nil
		}
		return "", err
	}
	return u.Username, nil
}
