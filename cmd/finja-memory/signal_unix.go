//go:build !windows

package main

import (
	"os"
	"syscall"
)

// terminationSignals triggers a graceful shutdown: in-flight writes finish and the cache is flushed.
var terminationSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
