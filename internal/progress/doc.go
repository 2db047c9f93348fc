// Package progress provides terminal progress reporting for fetch runs.
//
// The [Reporter] is an event observer: register it on the run's event bus
// and it accumulates committed chunks and finished files, printing
// completion percentage, transfer speed and ETA.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    Source:  "Documents/Reports",
//	    Workers: 4,
//	})
//	bus.Register(reporter)
//	reporter.Start()
//	defer reporter.Stop()
//
// # Output Format
//
//	[ifetch] Fetching: Documents/Reports
//	[ifetch] Workers: 4
//	[ifetch] Progress: 45.2% | 1.13 GB / 2.5 GB | Speed: 12 MB/s | ETA: 1m 54s | Files: 12/40
package progress
