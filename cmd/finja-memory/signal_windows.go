//go:build windows

package main

import (
	"os"
)

// terminationSignals triggers a graceful shutdown. Windows only delivers Ctrl+C.
var terminationSignals = []os.Signal{os.Interrupt}
