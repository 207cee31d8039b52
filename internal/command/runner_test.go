package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestShellRunnerCapturesOutput(t *testing.T) {
	res, err := ShellRunner{}.Run(context.Background(), "echo hello; echo oops >&2", time.Second)
	require.NoError(t, err)
	require.Equal(t, "hello\n", res.Stdout)
	require.Equal(t, "oops\n", res.Stderr)
	require.Zero(t, res.ExitCode)
}

func TestShellRunnerNonZeroExitIsNotAnError(t *testing.T) {
	res, err := ShellRunner{}.Run(context.Background(), "exit 3", time.Second)
	require.NoError(t, err)
	require.Equal(t, 3, res.ExitCode)
}

func TestShellRunnerTimeout(t *testing.T) {
	_, err := ShellRunner{}.Run(context.Background(), "sleep 5", 50*time.Millisecond)
	require.Error(t, err)
	require.Contains(t, err.Error(), "timed out")
}
