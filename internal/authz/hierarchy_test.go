package authz

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func int64ptr(v int64) *int64 { return &v }

func sortedKeys(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestDescendantIDsCollectsSubtree(t *testing.T) {
	store := newFixtureStore()
	h := NewHierarchy(store)

	descendants, err := h.DescendantIDs(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, []int64{2, 3, 4, 5, 6}, sortedKeys(descendants))

	_, self := descendants[1]
	require.False(t, self, "a permission is not its own descendant")
}

func TestDescendantIDsLeafIsEmpty(t *testing.T) {
	store := newFixtureStore()
	h := NewHierarchy(store)

	descendants, err := h.DescendantIDs(context.Background(), 3)
	require.NoError(t, err)
	require.Empty(t, descendants)
}

func TestDescendantIDsTerminatesOnCorruptTree(t *testing.T) {
	store := newFixtureStore()
	// Corrupt the tree: make 1's parent its own grandchild.
	p := store.perms[1]
	p.ParentID = int64ptr(3)
	store.perms[1] = p
	h := NewHierarchy(store)

	descendants, err := h.DescendantIDs(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, []int64{2, 3, 4, 5, 6}, sortedKeys(descendants))
}

func TestAncestorsNearestFirst(t *testing.T) {
	store := newFixtureStore()
	h := NewHierarchy(store)

	chain, err := h.Ancestors(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	require.Equal(t, int64(2), chain[0].ID)
	require.Equal(t, int64(1), chain[1].ID)
}

func TestAncestorsRootHasNone(t *testing.T) {
	store := newFixtureStore()
	h := NewHierarchy(store)

	chain, err := h.Ancestors(context.Background(), 1)
	require.NoError(t, err)
	require.Empty(t, chain)
}

func TestAncestorsDetectsCycle(t *testing.T) {
	store := newFixtureStore()
	p := store.perms[1]
	p.ParentID = int64ptr(3)
	store.perms[1] = p
	h := NewHierarchy(store)

	_, err := h.Ancestors(context.Background(), 3)
	require.ErrorIs(t, err, ErrHierarchyCorrupt)
}

func TestValidateParentAssignment(t *testing.T) {
	store := newFixtureStore()
	h := NewHierarchy(store)
	ctx := context.Background()

	require.NoError(t, h.ValidateParentAssignment(ctx, 3, nil), "moving to root is always allowed")
	require.ErrorIs(t, h.ValidateParentAssignment(ctx, 3, int64ptr(3)), ErrSelfParent)
	require.ErrorIs(t, h.ValidateParentAssignment(ctx, 3, int64ptr(999)), ErrNotFound)
	require.ErrorIs(t, h.ValidateParentAssignment(ctx, 1, int64ptr(3)), ErrCycle, "parent inside own subtree")
	require.NoError(t, h.ValidateParentAssignment(ctx, 1, int64ptr(7)))
	require.NoError(t, h.ValidateParentAssignment(ctx, 999, int64ptr(1)), "unsaved permission has no descendants to collide with")
}

func TestSetParentCommitsValidMove(t *testing.T) {
	store := newFixtureStore()
	h := NewHierarchy(store)
	ctx := context.Background()

	require.NoError(t, h.SetParent(ctx, 5, int64ptr(7)))
	parent, err := store.ParentOf(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, int64(7), parent.ID)

	// An invalid move leaves the tree untouched.
	require.ErrorIs(t, h.SetParent(ctx, 7, int64ptr(5)), ErrCycle)
	parent, err = store.ParentOf(ctx, 7)
	require.NoError(t, err)
	require.Nil(t, parent)
}

func TestTreeBuildsNestedForest(t *testing.T) {
	store := newFixtureStore()
	h := NewHierarchy(store)

	nodes, err := h.Tree(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	require.Equal(t, int64(1), nodes[0].ID)
	require.Equal(t, int64(7), nodes[1].ID)

	require.Len(t, nodes[0].Children, 2)
	require.Equal(t, "reports.finance", nodes[0].Children[0].Slug)
	require.Equal(t, "reports.sales", nodes[0].Children[1].Slug)
	require.Len(t, nodes[0].Children[0].Children, 2)
	require.Equal(t, "reports.finance.view", nodes[0].Children[0].Children[0].Slug)

	// Leaves serialize with an empty slice, not null.
	require.NotNil(t, nodes[0].Children[0].Children[0].Children)
	require.Empty(t, nodes[0].Children[0].Children[0].Children)
}

func TestTreeScopedToRoot(t *testing.T) {
	store := newFixtureStore()
	h := NewHierarchy(store)

	nodes, err := h.Tree(context.Background(), int64ptr(2))
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	require.Equal(t, "reports.finance", nodes[0].Slug)
	require.Len(t, nodes[0].Children, 2)
}

func TestTreeDetectsCycle(t *testing.T) {
	store := newFixtureStore()
	p := store.perms[1]
	p.ParentID = int64ptr(3)
	store.perms[1] = p
	h := NewHierarchy(store)

	_, err := h.Tree(context.Background(), int64ptr(1))
	require.ErrorIs(t, err, ErrHierarchyCorrupt)
}
