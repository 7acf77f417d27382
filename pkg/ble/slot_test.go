package ble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotPoolAcquireReleaseInvariant(t *testing.T) {
	pool := NewSlotPool(nil, 2)
	assert.Equal(t, 2, pool.Capacity())
	assert.Equal(t, 0, pool.Count())

	s1, err := pool.Acquire(0x1111, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, pool.Count())
	assert.Equal(t, SlotConnecting, s1.State)

	_, err = pool.Acquire(0x2222, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Count())

	_, err = pool.Acquire(0x3333, 0)
	assert.ErrorIs(t, err, ErrNoFreeSlot)

	pool.Release(0x1111)
	assert.Equal(t, 1, pool.Count())

	s3, err := pool.Acquire(0x3333, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Count())
	assert.Equal(t, s1.Index, s3.Index, "released slot should be reused")
}

func TestSlotPoolRejectsDuplicateAddress(t *testing.T) {
	pool := NewSlotPool(nil, 4)
	_, err := pool.Acquire(0xAAAA, 0)
	require.NoError(t, err)

	_, err = pool.Acquire(0xAAAA, 0)
	assert.Error(t, err)
	assert.Equal(t, 1, pool.Count())
}

func TestSlotPoolNotifySubscriptionTracking(t *testing.T) {
	pool := NewSlotPool(nil, 1)
	_, err := pool.Acquire(0x1234, 0)
	require.NoError(t, err)

	assert.False(t, pool.IsNotifySubscribed(0x1234, 5))
	pool.SetNotifySubscribed(0x1234, 5, true)
	assert.True(t, pool.IsNotifySubscribed(0x1234, 5))
	pool.SetNotifySubscribed(0x1234, 5, false)
	assert.False(t, pool.IsNotifySubscribed(0x1234, 5))
}

func TestSlotPoolReleaseClearsNotifyState(t *testing.T) {
	pool := NewSlotPool(nil, 1)
	_, err := pool.Acquire(0x1234, 0)
	require.NoError(t, err)
	pool.SetNotifySubscribed(0x1234, 5, true)

	pool.Release(0x1234)
	_, ok := pool.Get(0x1234)
	assert.False(t, ok)

	_, err = pool.Acquire(0x1234, 0)
	require.NoError(t, err)
	assert.False(t, pool.IsNotifySubscribed(0x1234, 5), "re-acquired slot must not carry over stale subscriptions")
}
