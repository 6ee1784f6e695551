// Package cli defines the mcucmd command-line surface: flag parsing,
// environment defaults, logger setup, and wiring of the serial session.
package cli

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/luhtfiimanal/mcucmd/internal/caps"
	"github.com/luhtfiimanal/mcucmd/internal/serial"
	"github.com/luhtfiimanal/mcucmd/internal/session"
)

// Environment variables consulted when the corresponding flag is unset.
const (
	deviceEnv = "MCUCMD_DEV"
	promptEnv = "MCUCMD_PROMPT"
)

// defaultPrompt matches an end-of-line console prompt such as "uboot> "
// or "sh# ".
const defaultPrompt = `^[[:alnum:]]*[#$>] $`

const defaultTimeoutMs = 2000

var (
	optDevice  string
	optPrompt  string
	optTimeout int
	optDebug   int
	optForce   bool
)

var rootCmd = &cobra.Command{
	Use:   "mcucmd [flags] [--] <command> ...",
	Short: "Send a command to a microcontroller console and print its response",
	Long: `mcucmd sends a single command line to a serial console, waits for the
device to echo it back, then prints every response line until the shell
prompt reappears. The whole exchange is bounded by a configurable timeout.`,
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func run(cmd *cobra.Command, args []string) error {
	switch {
	case optDebug >= 2:
		logrus.SetLevel(logrus.TraceLevel)
	case optDebug == 1:
		logrus.SetLevel(logrus.DebugLevel)
	default:
		logrus.SetLevel(logrus.WarnLevel)
	}

	device := optDevice
	if device == "" {
		device = os.Getenv(deviceEnv)
	}
	if device == "" {
		return fmt.Errorf("no device given (use --device or $%s)", deviceEnv)
	}

	promptStr := optPrompt
	if promptStr == "" {
		promptStr = os.Getenv(promptEnv)
	}
	if promptStr == "" {
		promptStr = defaultPrompt
	}
	prompt, err := regexp.CompilePOSIX(promptStr)
	if err != nil {
		return fmt.Errorf("invalid prompt pattern: %w", err)
	}

	timeout := time.Duration(optTimeout) * time.Millisecond
	command := JoinCommand(args)

	port, err := serial.Open(device, serial.Options{
		Timeout:        timeout,
		Force:          optForce,
		DropPrivileges: caps.DropSysAdmin,
	})
	if err != nil {
		return err
	}
	defer port.Close()

	sess := session.New(port, session.Config{
		Prompt:  prompt,
		Timeout: timeout,
	}, os.Stdout)
	return sess.Run(command)
}

// JoinCommand assembles the command payload: the words joined by single
// spaces with a trailing newline.
func JoinCommand(words []string) string {
	return strings.Join(words, " ") + "\n"
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVarP(&optDevice, "device", "s", "", "serial device to use (default $"+deviceEnv+")")
	rootCmd.Flags().StringVarP(&optPrompt, "prompt", "p", "", `expected prompt regex (default $`+promptEnv+` or "`+defaultPrompt+`")`)
	rootCmd.Flags().IntVarP(&optTimeout, "timeout", "t", defaultTimeoutMs, "timeout in milliseconds (<= 0 disables)")
	rootCmd.Flags().CountVarP(&optDebug, "debug", "d", "increase debug level")
	rootCmd.Flags().BoolVarP(&optForce, "force", "f", false, "force open when busy (needs CAP_SYS_ADMIN)")
}
