package versioned

import (
	"context"
	"strings"

	"github.com/tarnlabs/tarn/pkg/dag"
	"github.com/tarnlabs/tarn/pkg/index"
	"github.com/tarnlabs/tarn/pkg/types"
)

// DefaultLogLimit is the page size of CommitLog when the caller passes no
// limit.
const DefaultLogLimit = 100

// ContentsResult is a consistent multi-key read: every value was looked up
// at the single commit recorded in Ref.Hash. Keys absent at that commit are
// simply missing from the map.
type ContentsResult struct {
	Ref      *ResolvedRef
	Contents map[string]*types.Content
}

// GetContents resolves the spec once and reads all keys at that commit.
func (s *Store) GetContents(ctx context.Context, spec RefSpec, keys []types.Key) (*ContentsResult, error) {
	resolved, err := s.Resolve(ctx, spec)
	if err != nil {
		return nil, err
	}
	result := &ContentsResult{Ref: resolved, Contents: make(map[string]*types.Content, len(keys))}
	if resolved.Hash.IsZero() {
		return result, nil
	}
	commit, err := s.dag.Fetch(ctx, resolved.Hash)
	if err != nil {
		return nil, s.coded(err, "commit %s", resolved.Hash)
	}

	var ids []types.ID
	var hit []string
	for _, key := range keys {
		entry, err := s.dag.ValueAt(ctx, commit, key)
		if err != nil {
			return nil, s.coded(err, "lookup of key %s at %s", key, commit.ID)
		}
		if entry == nil {
			continue
		}
		ids = append(ids, entry.Payload)
		hit = append(hit, key.String())
	}
	contents, err := s.dag.GetContents(ctx, ids)
	if err != nil {
		return nil, s.coded(err, "contents at %s", commit.ID)
	}
	for i, c := range contents {
		if c == nil {
			return nil, types.NewError(types.CodeInternal,
				"payload %s for key %s is missing at %s", ids[i], hit[i], commit.ID)
		}
		result.Contents[hit[i]] = c
	}
	return result, nil
}

// GetContent reads a single key and fails NotFound when it is unbound.
func (s *Store) GetContent(ctx context.Context, spec RefSpec, key types.Key) (*types.Content, *ResolvedRef, error) {
	resolved, err := s.Resolve(ctx, spec)
	if err != nil {
		return nil, nil, err
	}
	if resolved.Hash.IsZero() {
		return nil, nil, types.NewError(types.CodeNotFound, "key %s not found on %s", key, spec)
	}
	commit, err := s.dag.Fetch(ctx, resolved.Hash)
	if err != nil {
		return nil, nil, s.coded(err, "commit %s", resolved.Hash)
	}
	entry, err := s.dag.ValueAt(ctx, commit, key)
	if err != nil {
		return nil, nil, s.coded(err, "lookup of key %s at %s", key, commit.ID)
	}
	if entry == nil {
		return nil, nil, types.NewError(types.CodeNotFound, "key %s not found at %s", key, commit.ID)
	}
	content, err := s.dag.GetContent(ctx, entry.Payload)
	if err != nil {
		return nil, nil, s.coded(err, "payload %s for key %s", entry.Payload, key)
	}
	return content, resolved, nil
}

// LogPage is one page of commit history, newest first. Next is empty once
// the root commit has been returned.
type LogPage struct {
	Ref     *ResolvedRef
	Commits []*types.Commit
	Next    string
}

// CommitLog pages through the history reachable from a spec. The paging
// token is the hash the next page starts at, so pages stay consistent while
// the reference moves.
func (s *Store) CommitLog(ctx context.Context, spec RefSpec, pageToken string, limit int) (*LogPage, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	resolved, err := s.Resolve(ctx, spec)
	if err != nil {
		return nil, err
	}
	start := resolved.Hash
	if pageToken != "" {
		id, err := types.ParseID(pageToken)
		if err != nil {
			return nil, types.WrapError(types.CodeInvalidArgument, err, "malformed paging token %q", pageToken)
		}
		start = id
	}
	page := &LogPage{Ref: resolved}
	if start.IsZero() {
		return page, nil
	}
	err = s.dag.Log(ctx, start, func(c *types.Commit) error {
		if len(page.Commits) == limit {
			page.Next = c.ID.String()
			return dag.ErrStop
		}
		page.Commits = append(page.Commits, c)
		return nil
	})
	if err != nil {
		return nil, s.coded(err, "log of %s", spec)
	}
	return page, nil
}

// EntriesPage is one page of the key index at a fixed commit.
type EntriesPage struct {
	Ref     *ResolvedRef
	Entries []index.Entry
	Next    string
}

// Entries pages through the keys under a prefix. The paging token embeds
// the commit the first page resolved, so later pages read the same index
// even while the reference moves; prefix and limit must be repeated
// unchanged across pages.
func (s *Store) Entries(ctx context.Context, spec RefSpec, prefix types.Key, pageToken string, limit int) (*EntriesPage, error) {
	resolved, err := s.Resolve(ctx, spec)
	if err != nil {
		return nil, err
	}
	at := resolved.Hash
	var cursor *index.Cursor
	if pageToken != "" {
		pin, rest, ok := strings.Cut(pageToken, ":")
		if !ok {
			return nil, types.NewError(types.CodeInvalidArgument, "malformed paging token %q", pageToken)
		}
		id, err := types.ParseID(pin)
		if err != nil {
			return nil, types.WrapError(types.CodeInvalidArgument, err, "malformed paging token %q", pageToken)
		}
		c, err := index.ParseCursor(rest)
		if err != nil {
			return nil, types.WrapError(types.CodeInvalidArgument, err, "malformed paging token %q", pageToken)
		}
		at, cursor = id, &c
	}
	page := &EntriesPage{Ref: resolved}
	if at.IsZero() {
		return page, nil
	}
	commit, err := s.dag.Fetch(ctx, at)
	if err != nil {
		return nil, s.coded(err, "commit %s", at)
	}
	entries, next, err := s.dag.EntriesAt(ctx, commit, prefix, cursor, limit)
	if err != nil {
		return nil, s.coded(err, "entries at %s", at)
	}
	page.Entries = entries
	if next != nil {
		page.Next = at.String() + ":" + next.Token()
	}
	return page, nil
}

// Diff walks the keyed differences between two specs in key order. The
// callback may return index.ErrStop to end the walk early. Both resolved
// views are returned so callers can report the exact commits compared.
func (s *Store) Diff(ctx context.Context, from, to RefSpec, fn func(index.DiffEntry) error) (*ResolvedRef, *ResolvedRef, error) {
	fromRef, err := s.Resolve(ctx, from)
	if err != nil {
		return nil, nil, err
	}
	toRef, err := s.Resolve(ctx, to)
	if err != nil {
		return nil, nil, err
	}
	fromRoot, err := s.rootOf(ctx, fromRef.Hash)
	if err != nil {
		return nil, nil, err
	}
	toRoot, err := s.rootOf(ctx, toRef.Hash)
	if err != nil {
		return nil, nil, err
	}
	if err := s.dag.Index().Diff(ctx, fromRoot, toRoot, fn); err != nil {
		return nil, nil, s.coded(err, "diff of %s against %s", from, to)
	}
	return fromRef, toRef, nil
}
