//go:build windows

package server

import "syscall"

const (
	// SIGHUP is never sent on Windows, so config reloading doesn't happen.
	sighup  = syscall.SIGHUP
	sigterm = syscall.SIGTERM
)
