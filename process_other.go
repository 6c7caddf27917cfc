//go:build !unix

package claude

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

func setSysProcAttr(cmd *exec.Cmd, username string) error {
	if username == "" {
		return nil
	}
	return fmt.Errorf("user option is unsupported on %s", runtime.GOOS)
}

func signalGroup(p *os.Process, sig os.Signal) error {
	if p == nil {
		return nil
	}
	return p.Signal(sig)
}

func exitSignal(*os.ProcessState) string { return "" }

// Windows has no SIGTERM; an interrupt is the closest polite request.
var terminateSignal os.Signal = os.Interrupt
