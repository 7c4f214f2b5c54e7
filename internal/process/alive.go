package process

import "runtime"

// IsAlivePID reports whether pid refers to a running process, independent
// of any in-memory *Process handle. The supervision loop uses this to
// reconcile entries whose *Process was never spawned in this daemon
// instance (e.g. right after a restart, with only a registry pid on
// hand).
func IsAlivePID(pid int) bool {
	if pid <= 0 {
		return false
	}
	if runtime.GOOS == "linux" && isZombieLinux(pid) {
		return false
	}
	return processExists(pid)
}

// IsAlivePIDWithStartTime is IsAlivePID plus a process-start-time
// cross-check (spec §4.2): if startUnix is a spawn-time timestamp
// recorded in the entry's pid file, a pid match whose platform-reported
// start time (getProcStartUnix, platform-native: /proc on Linux,
// gopsutil/WinAPI elsewhere) disagrees with it by more than a second is
// treated as dead, since the OS has recycled the pid for an unrelated
// process. startUnix<=0 skips the cross-check and behaves exactly like
// IsAlivePID.
func IsAlivePIDWithStartTime(pid int, startUnix int64) bool {
	if !IsAlivePID(pid) {
		return false
	}
	if startUnix <= 0 {
		return true
	}
	actual := getProcStartUnix(pid)
	if actual <= 0 {
		return true
	}
	diff := actual - startUnix
	if diff < 0 {
		diff = -diff
	}
	return diff <= 1
}

// TerminatePID sends SIGTERM to pid's process group (or pid alone on
// Windows), for reconciling an entry whose *Process handle did not
// survive a daemon restart but whose pid is still on hand from the
// registry.
func TerminatePID(pid int) error {
	return terminateGroup(pid, sigTerm)
}
