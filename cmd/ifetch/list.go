package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/roshanlam/iFetch/internal/progress"
	"github.com/roshanlam/iFetch/internal/remote"
)

func runList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ExitOnError)

	baseURL := fs.String("url", "", "Remote server base URL (required)")
	username := fs.String("username", "", "Login username")
	path := fs.String("path", "/", "Remote directory to list")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: ifetch list [options]

List the direct children of a remote directory.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if *baseURL == "" {
		fmt.Fprintln(os.Stderr, "Error: -url is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	ctx := context.Background()
	session := remote.NewClient(remote.Options{
		BaseURL:   *baseURL,
		Username:  *username,
		Password:  os.Getenv("IFETCH_PASSWORD"),
		TwoFactor: promptTwoFactor,
	})

	if err := session.Authenticate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitAuthFailed
	}

	items, err := session.ListChildren(ctx, *path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, remote.ErrUnauthorized) {
			return ExitAuthFailed
		}
		return ExitGeneralError
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, item := range items {
		kind := "file"
		size := progress.FormatBytes(item.Size)
		if item.Dir {
			kind = "dir"
			size = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", kind, size,
			item.ModTime.Format("2006-01-02 15:04"), item.Name)
	}
	w.Flush()
	return ExitSuccess
}
