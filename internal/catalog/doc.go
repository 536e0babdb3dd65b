// Package catalog persists what the bridge learns about a QLC+ project.
//
// Two SQLite-backed repositories live here:
//   - ClassificationRepository stores the type name of every function and
//     widget, so a restarted bridge does not re-query the controller for
//     objects it has already classified. PersistentCache plugs it into the
//     qlc client as a ClassificationCache.
//   - HistoryRepository records status changes and implements the bridge's
//     StatusRecorder.
//
// Both take a *sql.DB whose schema comes from the migrations package.
package catalog
