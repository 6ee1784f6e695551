// Command mcucmd sends a single command to a microcontroller console over
// a serial link and prints the device's response.
package main

import "github.com/luhtfiimanal/mcucmd/internal/cli"

func main() {
	cli.Execute()
}
