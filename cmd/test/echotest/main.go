package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	RunDuration int    `long:"run-duration" description:"Duration in seconds to run the echotest (debug feature)"`
	Fail        string `long:"fail" description:"Write the message to stderr and exit with code 1 (debug feature)"`
}

// failEnv lets a watchdog, which passes no arguments, trigger the fail mode
// through the environment its children inherit
const failEnv = "ECHOTEST_FAIL"

// failureMessage prefers the --fail flag over the environment
func failureMessage(flag string, getenv func(string) string) string {
	if flag != "" {
		return flag
	}
	return getenv(failEnv)
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Running Echotest, opts: %+v...\n", opts)

	if message := failureMessage(opts.Fail, os.Getenv); message != "" {
		fmt.Fprintln(os.Stderr, message)
		os.Exit(1)
	}

	ctx := context.Background()

	if opts.RunDuration > 0 {
		fmt.Printf("Using RUN DURATION of %d seconds\n", opts.RunDuration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.RunDuration)*time.Second)
		defer cancel()
	}

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}

	fmt.Printf("Echotest is ready\n")

	select {
	case receivedSignal := <-sig:
		fmt.Printf("Echotest received signal: %v\n", receivedSignal)
	case <-ctx.Done():
		fmt.Printf("Echotest timed out\n")
	}

	fmt.Printf("Echotest stopped\n")
}
