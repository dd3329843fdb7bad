package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunCommand(t *testing.T) {
	cmd := newRunCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--keys", "64", "--readers", "2", "--rounds", "3", "--collide"})

	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "reclaimed")
	require.Contains(t, out.String(), "violations")
}

func TestRunCommandRejectsBadFlags(t *testing.T) {
	cmd := newRunCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--keys", "1"})
	require.Error(t, cmd.Execute())
}
