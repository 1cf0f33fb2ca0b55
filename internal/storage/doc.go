// Package storage persists broadcast history and answers audience snapshot
// queries, backed by sqlite.
//
// The Store satisfies both broadcast.JobStore (counter/status mutations)
// and broadcast.Resolver (frozen recipient snapshots of plain scalars).
package storage
