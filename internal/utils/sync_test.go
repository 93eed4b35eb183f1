package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOptionalRWMutexDisabled(t *testing.T) {
	var m OptionalRWMutex

	// Without UseMutex, recursive locking must not deadlock
	m.Lock()
	m.Lock()
	m.RLock()
	m.Unlock()
	m.Unlock()
	m.RUnlock()
}

func TestOptionalRWMutexEnabled(t *testing.T) {
	m := OptionalRWMutex{UseMutex: true}

	m.RLock()
	m.RLock()
	require.False(t, m.Mutex.TryLock())
	m.RUnlock()
	m.RUnlock()

	m.Lock()
	require.False(t, m.Mutex.TryRLock())
	m.Unlock()
	require.True(t, m.Mutex.TryLock())
	m.Mutex.Unlock()
}
