// Package export writes detection results as JSON or CSV.
//
// Both exporters accept either a slice of records or a lazy sequence such as
// the one returned by Repository.ListByOwnerOrdered:
//
//	exporter, err := export.ForFormat("csv", false)
//	if err != nil {
//	    return err
//	}
//	err = exporter.ExportSeq(ctx, repo.ListByOwnerOrdered(ctx, "alice"), w)
//
// The retention sweeper uses the JSON exporter to archive evicted records.
package export
