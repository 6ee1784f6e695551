// Package caps narrows process privileges before a serial device is opened.
package caps

import (
	"fmt"

	"kernel.org/pub/linux/libs/security/libcap/cap"
)

// DropSysAdmin removes CAP_SYS_ADMIN from the effective capability set so
// the kernel honors an existing TIOCEXCL mark on the device instead of
// letting a privileged open bypass it. Safe to call when the process never
// had the capability.
func DropSysAdmin() error {
	c := cap.GetProc()
	if err := c.SetFlag(cap.Effective, false, cap.SYS_ADMIN); err != nil {
		return fmt.Errorf("clear CAP_SYS_ADMIN: %w", err)
	}
	if err := c.SetProc(); err != nil {
		return fmt.Errorf("apply capability set: %w", err)
	}
	return nil
}
