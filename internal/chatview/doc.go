// Package chatview keeps one participant's view of a two-party conversation
// consistent while history loads, live messages arrive and local sends are in
// flight.
//
// # Buffer and events
//
// A Buffer is an immutable, ordered snapshot scoped to one open of one
// conversation. Every change is expressed as an Event and folded in with
// Buffer.Apply:
//
//   - HistoryLoaded: replaces the buffer with the fetched history, keeping
//     entries that arrived during the fetch and are not in it
//   - MessageReceived: appends a push delivery unless it duplicates an entry
//   - SendStarted: appends an optimistic placeholder
//   - SendConfirmed: replaces the placeholder at its position
//   - SendFailed: leaves the placeholder as it is
//
// Events carry the Scope they were produced for; events from a previous
// conversation or a previous open are ignored.
//
// # Matching
//
// MatchCorrelation (default) reconciles by the correlation id attached to
// each send and echoed by the store and push channel. MatchContent keeps the
// older behaviour of treating messages with the same sender and trimmed body
// as duplicates, and confirming the first optimistic entry with the exact
// submitted text.
//
// # View
//
// View runs the loader, live merger and send pipeline against one buffer.
// All mutations are serialized through a single dispatch step that reads the
// latest buffer, applies an event and stores the result. The push
// subscription is held as a lease that is released exactly once, when the
// next conversation is opened or the view is closed.
package chatview
