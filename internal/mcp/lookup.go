package mcp

import (
	"fmt"
	"os/exec"
)

// resolveCommand finds the binary for a configured command, with
// platform-specific fallbacks and an install hint when nothing is
// found.
func resolveCommand(command string) (string, error) {
	if command == "" {
		return "", fmt.Errorf("%w: empty command", ErrCommandNotFound)
	}
	if path, err := exec.LookPath(command); err == nil {
		return path, nil
	}
	if alt := platformFallback(command); alt != "" {
		return alt, nil
	}
	switch command {
	case "npx":
		return "", fmt.Errorf("%w: npx (install Node.js from https://nodejs.org)", ErrCommandNotFound)
	case "uvx":
		return "", fmt.Errorf("%w: uvx (install uv with 'pip install uv')", ErrCommandNotFound)
	}
	return "", fmt.Errorf("%w: %s", ErrCommandNotFound, command)
}
