// Package serial provides exclusive, raw-mode access to a Linux serial
// device for one-shot command/response exchanges with embedded consoles.
//
// Opening a device takes a non-blocking advisory lock and marks the
// terminal exclusive (TIOCEXCL), retrying at a fixed interval while the
// device is busy. The line is switched to raw mode so bytes pass through
// unmodified, and reads are bounded by a poll timeout rather than blocking
// indefinitely.
//
// This package does **not** support Windows.
package serial
