package executor

import "github.com/me/pyra/internal/slots"

// DefaultShell runs local commands.
const DefaultShell = "/bin/sh"

// DefaultRemoteShell is the transport prefix for non-local slots.
var DefaultRemoteShell = []string{"ssh"}

// CommandArgs builds the argument vector for command on addr. Local commands
// run as `shell -c command`. Remote commands pass the command text as a
// single argument after the host, so no local shell interprets or re-quotes
// it; the remote login shell runs it as written.
func CommandArgs(command, addr, shell string, remote []string) []string {
	if shell == "" {
		shell = DefaultShell
	}
	if slots.IsLocalAddr(addr) {
		return []string{shell, "-c", command}
	}
	if len(remote) == 0 {
		remote = DefaultRemoteShell
	}
	argv := make([]string, 0, len(remote)+2)
	argv = append(argv, remote...)
	argv = append(argv, addr, command)
	return argv
}
