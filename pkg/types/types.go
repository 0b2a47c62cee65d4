// Package types defines the shared value types of TidemarkDB: digests, page
// ids, entries, commits and the status taxonomy used across storage,
// encryption and sync.
package types

// Entry is one key's value pointer within a page's key-value view at a point
// in time. Entries are immutable; a change to a key produces a new Entry
// referencing a new object.
type Entry struct {
	Key      string
	Object   ObjectID
	Priority Priority
}

// Equals reports structural equality.
func (e Entry) Equals(other Entry) bool {
	return e.Key == other.Key &&
		e.Object == other.Object &&
		e.Priority == other.Priority
}

// Commit is a node in a page's directed acyclic graph, capturing one
// snapshot of the page's key-value state. More than one parent denotes a
// merge. The ID is a hash over the parents, root and timestamp, which gives
// tamper evidence and deduplication across devices.
type Commit struct {
	ID        CommitID
	Parents   []CommitID
	Root      ObjectID
	Timestamp Timestamp
}

func (c Commit) IsMerge() bool {
	return len(c.Parents) > 1
}
