package main

import (
	"fmt"
	"os"
)

// Exit codes
const (
	ExitSuccess        = 0
	ExitGeneralError   = 1
	ExitInvalidArgs    = 2
	ExitAuthFailed     = 3
	ExitPartialFailure = 4
	ExitStorageError   = 5
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "fetch":
		return runFetch(cmdArgs)
	case "list":
		return runList(cmdArgs)
	case "versions":
		return runVersions(cmdArgs)
	case "restore":
		return runRestore(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: ifetch <command> [options]

Commands:
  fetch     Transfer a remote file or directory tree to a local destination
  list      List the children of a remote directory
  versions  List archived versions of a destination file
  restore   Restore an archived version of a destination file

Run 'ifetch <command> -h' for command-specific help.`)
}
