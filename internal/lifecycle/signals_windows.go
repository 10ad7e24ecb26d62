//go:build windows

package lifecycle

import "os"

func defaultSignalMapping() map[os.Signal]Signal {
	return nil
}
