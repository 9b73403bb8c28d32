package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storefinder/internal/crawler"
)

func TestRegistryEnforcesPerOwnerCap(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(2)
	a := crawler.SearchRef{Owner: "alice", ID: "1"}
	b := crawler.SearchRef{Owner: "alice", ID: "2"}
	c := crawler.SearchRef{Owner: "alice", ID: "3"}
	other := crawler.SearchRef{Owner: "bob", ID: "4"}

	require.NoError(t, reg.Reserve(a))
	require.NoError(t, reg.Reserve(b))
	require.ErrorIs(t, reg.Reserve(c), crawler.ErrTooManySearches)
	require.NoError(t, reg.Reserve(other))
	require.NoError(t, reg.Reserve(a))
	require.Equal(t, 2, reg.Count("alice"))

	reg.Release(a)
	reg.Release(a)
	require.Equal(t, 1, reg.Count("alice"))
	require.NoError(t, reg.Reserve(c))
}

func TestRegistryCancelBeforeActivation(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(0)
	ref := crawler.SearchRef{Owner: "alice", ID: "1"}
	require.False(t, reg.Cancel(ref))
	require.NoError(t, reg.Reserve(ref))
	require.True(t, reg.Cancel(ref))

	ctx, ok := reg.Activate(context.Background(), ref)
	require.True(t, ok)
	require.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestRegistryCancelRunningSearch(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(1)
	ref := crawler.SearchRef{Owner: "alice", ID: "1"}
	_, ok := reg.Activate(context.Background(), ref)
	require.False(t, ok)

	require.NoError(t, reg.Reserve(ref))
	ctx, ok := reg.Activate(context.Background(), ref)
	require.True(t, ok)
	require.NoError(t, ctx.Err())

	reg.CancelAll()
	require.ErrorIs(t, ctx.Err(), context.Canceled)
	reg.Release(ref)
	require.False(t, reg.Active(ref))
}
