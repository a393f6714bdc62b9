//go:build !windows

package delve

import "os/exec"

// setupProcAttr is a no-op outside Windows.
func setupProcAttr(cmd *exec.Cmd) {}
