package system

import (
	"fmt"
	"os"
)

// IsRoot checks if running as root
func IsRoot() bool {
	return os.Geteuid() == 0
}

// RequireRoot ensures the program is running as root, which loop devices need
func RequireRoot() error {
	if !IsRoot() {
		return fmt.Errorf("loop devices require root privileges (try with sudo)")
	}
	return nil
}
