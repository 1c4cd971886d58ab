package portprobe

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSecureReturnsBoundListener(t *testing.T) {
	ln, err := Secure(minPort)
	require.NoError(t, err)
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	require.GreaterOrEqual(t, port, minPort)
	require.LessOrEqual(t, port, maxPort)
}

func TestSecureSkipsOccupiedPortAndProbesUpward(t *testing.T) {
	blocker, err := Secure(minPort)
	require.NoError(t, err)
	defer blocker.Close()
	occupied := blocker.Addr().(*net.TCPAddr).Port

	ln, err := Secure(occupied)
	require.NoError(t, err)
	defer ln.Close()

	require.NotEqual(t, occupied, ln.Addr().(*net.TCPAddr).Port)
	require.Greater(t, ln.Addr().(*net.TCPAddr).Port, occupied)
}

func TestSecureRejectsOutOfRangeStart(t *testing.T) {
	_, err := Secure(1024)
	require.Error(t, err)
}

func TestRandomStartInRange(t *testing.T) {
	for i := 0; i < 20; i++ {
		port, err := RandomStart()
		require.NoError(t, err)
		require.GreaterOrEqual(t, port, minPort)
		require.LessOrEqual(t, port, maxPort)
	}
}
