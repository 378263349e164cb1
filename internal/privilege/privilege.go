// Package privilege reports whether the process runs with elevated
// privileges.
package privilege

import "os"

// IsRoot checks if the current process is running with root privileges (euid
// == 0).
func IsRoot() bool {
	return os.Geteuid() == 0
}
