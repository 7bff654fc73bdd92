//go:build !unix

package sandbox

import "os/exec"

// setProcessGroup is a no-op where process groups are unavailable; the
// context kill only reaches the direct child.
func setProcessGroup(cmd *exec.Cmd) {}
