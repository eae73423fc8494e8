// Package retry promotes due messages from the retry set back onto the
// topic stream.
//
// The [Scheduler] runs on its own broker session. Each tick watches the
// retry set, takes the earliest member whose due time has passed, and in
// one transaction appends it to the stream and removes it from the set.
// At most one entry moves per tick. If another scheduler touches the set
// between the read and the commit, the transaction aborts and the entry
// is picked up again on a later tick.
//
// Promoted messages are appended at the tail of the stream, so they run
// after anything enqueued before them.
package retry
