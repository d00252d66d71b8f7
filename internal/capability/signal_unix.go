//go:build unix

package capability

import (
	"os"
	"syscall"
)

func signalTerm() os.Signal {
	return syscall.SIGTERM
}
