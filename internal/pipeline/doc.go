// Package pipeline coordinates catalog ingestion.
//
// A run lists the archive files of one dataset, seeds the tracking table
// and processes the files that are not yet completed in sequential batches:
//
//	Init -> Enumerate -> {Download -> ParseAndFilter -> BulkInsert -> MarkStatus}* -> Finalize
//
// The batch size equals the download parallelism. In file mode each batch
// is downloaded to the temp directory and parsed file by file; in streaming
// mode the files are parsed straight from the live responses, concurrently.
// Every batch is written with one insert call, then its files are marked
// completed. Download, parse and insert failures mark the affected files
// failed and the run moves on; the next run retries them.
//
// Basic usage:
//
//	c := pipeline.New(cfg, st, dl, publisher, logger)
//	stats, err := c.Run(ctx, store.DatasetGaia)
package pipeline
