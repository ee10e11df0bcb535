package qvm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadStringsRoundTrip(t *testing.T) {
	vm := newTestVM(t, 64, 16)

	keepID := vm.strings.store([]byte("keep"))
	freedID := vm.strings.store([]byte("gone"))
	vm.strings.release(freedID) // frees the slot, leaving a hole at its index

	blob := vm.SaveStrings()

	restored := newTestVM(t, 64, 16)
	require.NoError(t, restored.LoadStrings(blob))

	b, ok := restored.strings.get(keepID)
	require.True(t, ok)
	assert.Equal(t, "keep", string(b))

	_, ok = restored.strings.get(freedID)
	assert.False(t, ok, "a freed slot must round-trip as freed, not as a live empty string")

	assert.EqualValues(t, 0, restored.strings.refCount(keepID), "restore does not re-acquire references")

	// the freed index must be reusable, same as it would be after a plain release.
	reused := restored.strings.store([]byte("new"))
	assert.Equal(t, freedID, reused)
}

func TestLoadStringsRejectsBadVersion(t *testing.T) {
	vm := newTestVM(t, 64, 16)
	err := vm.LoadStrings([]byte{9, 0, 0, 0})
	assert.Error(t, err)
}

func TestLoadStringsRejectsTruncated(t *testing.T) {
	vm := newTestVM(t, 64, 16)
	err := vm.LoadStrings([]byte{1, 0, 0, 0, 5, 0, 0, 0})
	assert.Error(t, err)
}
