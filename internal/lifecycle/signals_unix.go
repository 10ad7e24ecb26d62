//go:build !windows

package lifecycle

import (
	"os"
	"syscall"
)

func defaultSignalMapping() map[os.Signal]Signal {
	return map[os.Signal]Signal{
		syscall.SIGUSR1: Background,
		syscall.SIGUSR2: Foreground,
	}
}
