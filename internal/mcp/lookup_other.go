//go:build !windows

package mcp

import "os/exec"

func platformFallback(string) string { return "" }

func configureSysProcAttr(*exec.Cmd) {}
