//go:build windows

package capability

import "os"

// Windows has no SIGTERM; Kill is the closest available signal.
func signalTerm() os.Signal {
	return os.Kill
}
