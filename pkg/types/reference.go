package types

import "time"

// RefKind classifies a named reference.
type RefKind string

const (
	RefKindBranch   RefKind = "branch"
	RefKindTag      RefKind = "tag"
	RefKindDetached RefKind = "detached" // transient, never stored
)

// Reference is a named pointer into the commit DAG. Branch heads move via
// compare-and-swap; tags are fixed unless reassignment is enabled.
type Reference struct {
	Name      string
	Kind      RefKind
	Head      ID // zero for a branch with no commits yet
	CreatedAt time.Time
}

// Detached wraps a bare commit hash as an unnamed reference.
func Detached(head ID) Reference {
	return Reference{Kind: RefKindDetached, Head: head}
}

// RepositoryDescriptor is the singleton record describing one repository.
// It is created once and updated via compare-and-swap.
type RepositoryDescriptor struct {
	RepoID        string
	DefaultBranch string
	CreatedAt     time.Time
	Properties    map[string]string
}
