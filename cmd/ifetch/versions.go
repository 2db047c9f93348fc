package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/roshanlam/iFetch/internal/archive"
)

func runVersions(args []string) int {
	fs := flag.NewFlagSet("versions", flag.ExitOnError)

	dest := fs.String("dest", ".", "Destination root holding the history")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: ifetch versions [options] <path>

List the archived versions of a destination file. The path is relative
to the destination root.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one path is required")
		fs.Usage()
		return ExitInvalidArgs
	}
	rel := fs.Arg(0)

	archiver, err := archive.New(*dest)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	versions := archiver.Versions(rel)
	if len(versions) == 0 {
		fmt.Fprintf(os.Stderr, "No archived versions of %s\n", rel)
		return ExitGeneralError
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tARCHIVED AT\tCHECKSUM")
	for _, v := range versions {
		fmt.Fprintf(w, "v%d\t%s\t%s\n", v.Version,
			v.ArchivedAt.Format("2006-01-02 15:04:05"), v.Checksum[:12])
	}
	w.Flush()
	return ExitSuccess
}

func runRestore(args []string) int {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)

	dest := fs.String("dest", ".", "Destination root holding the history")
	version := fs.Int("version", 0, "Version to restore (default: newest)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: ifetch restore [options] <path>

Copy an archived version of a destination file back into place. The
archived copy stays in history.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one path is required")
		fs.Usage()
		return ExitInvalidArgs
	}
	rel := fs.Arg(0)

	archiver, err := archive.New(*dest)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	if err := archiver.Restore(rel, *version); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, archive.ErrNoVersion) {
			return ExitGeneralError
		}
		return ExitStorageError
	}

	if *version <= 0 {
		fmt.Fprintf(os.Stderr, "[ifetch] Restored newest version of %s\n", rel)
	} else {
		fmt.Fprintf(os.Stderr, "[ifetch] Restored %s v%d\n", rel, *version)
	}
	return ExitSuccess
}
