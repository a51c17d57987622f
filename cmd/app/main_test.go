package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionCmd(t *testing.T) {
	assert := require.New(t)

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	assert.NoError(cmd.Execute())
	assert.Contains(out.String(), "voicestudio dev")
}

func TestBatchCmdRejectsEmptyText(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetIn(bytes.NewBufferString("\n  \n"))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"batch", "--text", "-"})

	require.ErrorContains(t, cmd.Execute(), "no text")
}
