package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"cubesync/protocol"
)

func TestAllocator_StartsAtOne(t *testing.T) {
	a := NewAllocator()
	assert.Equal(t, protocol.ClientID(1), a.Next())
	assert.Equal(t, protocol.ClientID(2), a.Next())
}

func TestAllocator_WrapsBeforeCeiling(t *testing.T) {
	a := &Allocator{next: MaxClientID}
	assert.Equal(t, MaxClientID, a.Next())
	assert.Equal(t, protocol.ClientID(1), a.Next(), "ceiling is never issued")
}

func TestAllocator_NeverZero(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		a := &Allocator{next: protocol.ClientID(rapid.Uint16().Draw(rt, "start"))}
		n := rapid.IntRange(1, 200).Draw(rt, "n")
		for range n {
			id := a.Next()
			require.NotZero(rt, id)
			require.Less(rt, id, ReservedCeiling)
		}
	})
}

func TestAllocator_DistinctWithinOneCycle(t *testing.T) {
	a := NewAllocator()
	seen := make(map[protocol.ClientID]bool, int(MaxClientID))
	for range int(MaxClientID) {
		id := a.Next()
		require.False(t, seen[id], "id %d issued twice", id)
		seen[id] = true
	}
	assert.Equal(t, protocol.ClientID(1), a.Next())
}

func TestAllocator_NextFreeSkipsLive(t *testing.T) {
	a := &Allocator{next: MaxClientID}
	live := map[protocol.ClientID]bool{MaxClientID: true, 1: true, 2: true}
	id, err := a.NextFree(func(id protocol.ClientID) bool { return live[id] })
	require.NoError(t, err)
	assert.Equal(t, protocol.ClientID(3), id)
}

func TestAllocator_NextFreeExhausted(t *testing.T) {
	a := NewAllocator()
	_, err := a.NextFree(func(protocol.ClientID) bool { return true })
	assert.ErrorIs(t, err, ErrIDsExhausted)
}
