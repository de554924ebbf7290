//go:build unix

package config

import (
	"fmt"
	"os"
)

// insecurePermissions returns a warning when a file holding connection
// details can be read by group or others. kind names the file in the
// message ("Config file", "Env file").
func insecurePermissions(path, kind string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}

	mode := info.Mode().Perm()
	if mode&0077 == 0 {
		return ""
	}
	return fmt.Sprintf(
		"WARNING: %s '%s' has insecure permissions (%04o)\n"+
			"         Other users may be able to read your connection strings.\n"+
			"         Run: chmod 600 %s\n\n",
		kind, path, mode, path,
	)
}
