package pty

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFunc(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestPosixCandidate(t *testing.T) {
	tests := []struct {
		shell    string
		program  string
		wantArgs []string
	}{
		{shell: "/bin/zsh", program: "/bin/zsh", wantArgs: []string{"-i"}},
		{shell: "/usr/local/bin/bash", program: "/usr/local/bin/bash", wantArgs: []string{"-i"}},
		{shell: "/usr/bin/fish", program: "/usr/bin/fish"},
		{shell: "/bin/dash", program: "/bin/dash"},
		{shell: "", program: DefaultPosixShell},
	}

	for _, tt := range tests {
		t.Run(tt.shell, func(t *testing.T) {
			c := PosixCandidate(tt.shell)
			assert.Equal(t, tt.program, c.Program)
			assert.Equal(t, tt.wantArgs, c.Args)
		})
	}
}

func TestDefaultCandidates_Posix(t *testing.T) {
	got := DefaultCandidates("linux", envFunc(map[string]string{"SHELL": "/bin/bash"}))
	require.Len(t, got, 1)
	assert.Equal(t, Candidate{Program: "/bin/bash", Args: []string{"-i"}}, got[0])

	got = DefaultCandidates("darwin", envFunc(nil))
	require.Len(t, got, 1)
	assert.Equal(t, DefaultPosixShell, got[0].Program)
}

func TestDefaultCandidates_Windows(t *testing.T) {
	got := DefaultCandidates("windows", envFunc(map[string]string{"ComSpec": `C:\Windows\system32\cmd.exe`}))
	require.Len(t, got, 3)

	assert.Equal(t, "pwsh.exe", got[0].Program)
	assert.Equal(t, "powershell.exe", got[1].Program)
	assert.Equal(t, `C:\Windows\system32\cmd.exe`, got[2].Program)
	assert.Equal(t, []string{"/d", "/k"}, got[2].Args)

	for _, c := range got[:2] {
		require.Len(t, c.Args, 5)
		assert.Equal(t, []string{"-NoLogo", "-NoProfile", "-NoExit", "-Command"}, c.Args[:4])
		assert.Equal(t, HookCommand(promptHook), c.Args[4])
	}
}

func TestDefaultCandidates_WindowsWithoutComSpec(t *testing.T) {
	got := DefaultCandidates("windows", envFunc(nil))
	require.Len(t, got, 3)
	assert.Equal(t, "cmd.exe", got[2].Program)
}

func TestHookCommand(t *testing.T) {
	script := "\n  $a = 1\n\n\t$b = 2  \n   \n$c = 3\n"
	assert.Equal(t, ". { $a = 1; $b = 2; $c = 3 }", HookCommand(script))
}

func TestHookCommand_PromptHook(t *testing.T) {
	cmd := HookCommand(promptHook)

	assert.NotContains(t, cmd, "\n")
	assert.NotContains(t, cmd, ";  ;")
	assert.True(t, strings.HasPrefix(cmd, ". { "))
	assert.True(t, strings.HasSuffix(cmd, " }"))

	assert.Contains(t, cmd, `$esc]777;cwd=$uriPath$bel`)
	assert.Contains(t, cmd, `$esc]7;file:///$uriPath$bel`)
	assert.Contains(t, cmd, "function global:prompt")
	assert.Contains(t, cmd, `"PS " + (Get-Location) + "> "`)
	// The cwd is announced once at install time, after the prompt wrapper.
	assert.True(t, strings.HasSuffix(cmd, "; __shellpty_emit_cwd }"))
}

func TestShellEnv(t *testing.T) {
	base := []string{"HOME=/home/u", "TERM=dumb", "PATH=/bin"}
	extra := []string{"FOO=bar", "Term=vt100"}

	env := shellEnv(base, extra)

	assert.Equal(t, []string{"HOME=/home/u", "PATH=/bin", "FOO=bar", "TERM=" + TermType}, env)
	assert.Equal(t, []string{"HOME=/home/u", "TERM=dumb", "PATH=/bin"}, base)
}

func TestCandidateString(t *testing.T) {
	assert.Equal(t, "/bin/sh", Candidate{Program: "/bin/sh"}.String())
	assert.Equal(t, "cmd.exe /d /k", Candidate{Program: "cmd.exe", Args: []string{"/d", "/k"}}.String())
}
