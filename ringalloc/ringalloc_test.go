package ringalloc_test

import (
	"testing"

	"github.com/DmitrySigaev/RayPlatform/ringalloc"
	"github.com/stretchr/testify/require"
)

func TestAllocateWithinCapacity(t *testing.T) {
	a := ringalloc.New(4, 64)
	for i := 0; i < 4; i++ {
		slot, err := a.Allocate()
		require.NoError(t, err)
		require.Len(t, slot, 64)
	}
	require.Equal(t, 4, a.Count())
}

func TestAllocateBeyondCapacityIsFatal(t *testing.T) {
	a := ringalloc.New(4, 64)
	for i := 0; i < 4; i++ {
		_, err := a.Allocate()
		require.NoError(t, err)
	}
	_, err := a.Allocate()
	require.Error(t, err)
}

func TestResetCountAllowsReuse(t *testing.T) {
	a := ringalloc.New(2, 32)
	_, err := a.Allocate()
	require.NoError(t, err)
	_, err = a.Allocate()
	require.NoError(t, err)
	_, err = a.Allocate()
	require.Error(t, err)

	a.ResetCount()
	require.Equal(t, 0, a.Count())
	_, err = a.Allocate()
	require.NoError(t, err)
}

func TestWraparoundReusesSlots(t *testing.T) {
	a := ringalloc.New(2, 8)
	s1, _ := a.Allocate()
	s2, _ := a.Allocate()
	a.ResetCount()
	s3, _ := a.Allocate() // wraps back to the same underlying array as s1

	s1[0] = 0xFF
	require.Equal(t, byte(0xFF), s3[0], "wraparound should reuse the same backing slot")
	_ = s2
}
