package types

import "time"

// OperationKind classifies a keyed operation inside a commit.
type OperationKind string

const (
	OpPut       OperationKind = "put"
	OpDelete    OperationKind = "delete"
	OpUnchanged OperationKind = "unchanged" // asserts the key was read but not modified
)

// Operation is one keyed change carried by a commit. For Put, Content holds
// the new payload; the engine seals the operation by storing the payload and
// filling ContentID, ContentType and Payload before the commit is hashed.
// Delete and Unchanged carry the key only.
type Operation struct {
	Kind OperationKind
	Key  Key

	// Content is the Put payload as supplied by the caller. It is not part
	// of the commit's canonical bytes; the sealed fields below are.
	Content *Content

	ContentID   string
	ContentType ContentType
	Payload     ID // address of the stored content bytes; zero unless Put
}

// Put builds a Put operation for a key.
func Put(key Key, content *Content) Operation {
	return Operation{Kind: OpPut, Key: key, Content: content}
}

// Delete builds a Delete operation for a key.
func Delete(key Key) Operation {
	return Operation{Kind: OpDelete, Key: key}
}

// Unchanged builds an Unchanged assertion for a key.
func Unchanged(key Key) Operation {
	return Operation{Kind: OpUnchanged, Key: key}
}

// Commit is an immutable node of the version DAG. Its ID is the hash of its
// canonical bytes; the ID field is filled after encoding and is not itself
// part of those bytes.
type Commit struct {
	ID ID

	// Parents is ordered: element 0 is the logical predecessor, additional
	// parents record merge sources.
	Parents []ID

	// Seq is the generation number: 0 for a root commit, otherwise one more
	// than the highest parent Seq. It bounds ancestry walks.
	Seq int64

	Author     string
	Committer  string
	Message    string
	CommitTime time.Time // stored at microsecond precision

	Operations []Operation

	// IndexRoot addresses the key-index root reflecting the cumulative
	// effect of all operations from the root commit. Zero for an empty
	// index.
	IndexRoot ID

	Metadata map[string]string
}

// ParentID returns the logical predecessor, or a zero ID for a root commit.
func (c *Commit) ParentID() ID {
	if len(c.Parents) == 0 {
		return ID{}
	}
	return c.Parents[0]
}

// IsMerge reports whether the commit has more than one parent.
func (c *Commit) IsMerge() bool {
	return len(c.Parents) > 1
}
