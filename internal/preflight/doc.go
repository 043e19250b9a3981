// Package preflight checks that the environment can run a long indexing
// run before it starts: a writable data directory with room for records
// and snapshots, an open file limit that fits the worker count, the corpus
// itself, OCR tools when OCR is on, and the embedding model.
//
//	checker := preflight.New(
//	    preflight.WithCorpus(corpusDir, exclude),
//	    preflight.WithWorkers(workers),
//	    preflight.WithOCR(true),
//	)
//	results := checker.RunAll(ctx, dataDir)
//	if checker.HasCriticalFailures(results) {
//	    checker.PrintResults(results)
//	}
//
// A passed run is recorded with MarkPassed; NeedsCheck tells 'loki index'
// when to check again.
package preflight
