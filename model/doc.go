// Package model reconciles the raw indexed-event stream of a symbol into
// consistent transactions.
//
// Each source of a symbol has a tracker that buffers events while a snapshot
// (SNAPSHOT_BEGIN .. SNAPSHOT_END/SNIP) or a transaction (TX_PENDING) is in
// progress and releases them as a single unit once it completes. Snapshots
// are conflated to one event per index. Markers arriving out of order are
// absorbed: an end without a begin is ignored and a new begin drops whatever
// an unfinished snapshot had buffered.
//
// TxModel hands every completed transaction to a listener. ListModel folds
// them into a list ordered by source id and index, with per-entry change
// tracking and a size limit. OrderBook splits a ListModel into buy and
// sell sides ordered by price.
//
// Notifications of one model never run concurrently. They run on the
// goroutine that delivered the batch unless an Executor is configured.
package model
