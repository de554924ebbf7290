//go:build windows

package config

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

var broadPrincipals = []string{
	"everyone",
	"authenticated users",
	"builtin\\users",
	"users",
}

// insecurePermissions returns a warning when the ACL of a file holding
// connection details grants access to a broad group. kind names the file
// in the message ("Config file", "Env file").
func insecurePermissions(path, kind string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}

	out, err := exec.Command("icacls", path).Output()
	if err != nil {
		return ""
	}
	acl := strings.ToLower(string(out))

	for _, p := range broadPrincipals {
		if strings.Contains(acl, p) {
			return fmt.Sprintf(
				"WARNING: %s '%s' may be readable by other users (%s)\n"+
					"         Run in PowerShell to restrict it:\n"+
					"         icacls \"%s\" /inheritance:r /grant:r \"%%USERNAME%%:F\"\n\n",
				kind, path, p, path,
			)
		}
	}
	return ""
}
