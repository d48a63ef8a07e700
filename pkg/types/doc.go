// Package types defines the records, statuses and ledger entries shared by
// every bellhop package, along with their external JSON representations
// (RecordDoc, ChangeDoc) and the sentinel errors the engine returns.
package types
