package processor

import "syscall"

// processGroupAttr puts the command in its own process group and has the
// kernel kill the leader if the daemon dies first.
func processGroupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true, Pdeathsig: syscall.SIGKILL}
}
