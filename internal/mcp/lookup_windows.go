//go:build windows

package mcp

import (
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

// platformFallback probes the standard Node.js install locations,
// which are often missing from PATH for GUI-launched processes.
func platformFallback(command string) string {
	if command != "npx" && command != "npm" && command != "node" {
		return ""
	}
	candidates := []string{
		filepath.Join(os.Getenv("ProgramFiles"), "nodejs", command+".cmd"),
		filepath.Join(os.Getenv("ProgramFiles(x86)"), "nodejs", command+".cmd"),
		filepath.Join(os.Getenv("APPDATA"), "npm", command+".cmd"),
		filepath.Join(os.Getenv("ProgramFiles"), "nodejs", command+".exe"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// configureSysProcAttr keeps tool servers from flashing console
// windows.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: 0x08000000} // CREATE_NO_WINDOW
}
