package pty

import (
	"fmt"
	"strings"
)

// TermType is exported to every launched shell as TERM.
const TermType = "xterm-256color"

// DefaultPosixShell is used when SHELL is unset.
const DefaultPosixShell = "/bin/sh"

// Candidate is one entry of a shell fallback chain.
type Candidate struct {
	Program string   `yaml:"program" json:"program"`
	Args    []string `yaml:"args,omitempty" json:"args,omitempty"`
}

func (c Candidate) String() string {
	if len(c.Args) == 0 {
		return c.Program
	}
	return c.Program + " " + strings.Join(c.Args, " ")
}

// interactiveShells get -i so their rc files and prompt hooks run.
var interactiveShells = []string{"zsh", "bash"}

// promptHook makes PowerShell announce its working directory before every
// prompt, chaining to whatever prompt function was installed before it.
// Each line must stay a complete statement once joined with "; ".
const promptHook = `
$esc = [char]27
$bel = [char]7
function global:__shellpty_emit_cwd {
  $p = (Get-Location).Path
  $uriPath = $p -replace '\\','/'
  [Console]::Write("$esc]777;cwd=$uriPath$bel")
  [Console]::Write("$esc]7;file:///$uriPath$bel")
}
if (-not (Test-Path function:__shellpty_prev_prompt)) {
  if (Test-Path function:prompt) { $function:global:__shellpty_prev_prompt = $function:prompt }
}
function global:prompt {
  __shellpty_emit_cwd
  if (Test-Path function:__shellpty_prev_prompt) { __shellpty_prev_prompt } else { "PS " + (Get-Location) + "> " }
}
__shellpty_emit_cwd
`

// DefaultCandidates returns the fallback chain for goos. getenv is usually
// os.Getenv.
func DefaultCandidates(goos string, getenv func(string) string) []Candidate {
	if goos == "windows" {
		return ConsoleCandidates(getenv("ComSpec"))
	}
	return []Candidate{PosixCandidate(getenv("SHELL"))}
}

// PosixCandidate builds the single POSIX candidate for a SHELL value.
func PosixCandidate(shell string) Candidate {
	if shell == "" {
		shell = DefaultPosixShell
	}
	c := Candidate{Program: shell}
	for _, name := range interactiveShells {
		if strings.Contains(shell, name) {
			c.Args = []string{"-i"}
			break
		}
	}
	return c
}

// ConsoleCandidates returns pwsh, Windows PowerShell and the command
// interpreter, in that order. comspec overrides the cmd.exe path.
func ConsoleCandidates(comspec string) []Candidate {
	hook := HookCommand(promptHook)
	psArgs := func() []string {
		return []string{"-NoLogo", "-NoProfile", "-NoExit", "-Command", hook}
	}
	if comspec == "" {
		comspec = "cmd.exe"
	}
	return []Candidate{
		{Program: "pwsh.exe", Args: psArgs()},
		{Program: "powershell.exe", Args: psArgs()},
		{Program: comspec, Args: []string{"/d", "/k"}},
	}
}

// HookCommand flattens a multi-line PowerShell script into a single
// -Command argument that dot-sources it into the session scope.
func HookCommand(script string) string {
	lines := strings.Split(script, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return fmt.Sprintf(". { %s }", strings.Join(kept, "; "))
}

// shellEnv returns base with extra appended and TERM forced to TermType.
// Keys compare case-insensitively so a Windows "Term" is replaced too.
func shellEnv(base, extra []string) []string {
	env := make([]string, 0, len(base)+len(extra)+1)
	for _, kv := range append(append([]string{}, base...), extra...) {
		key, _, _ := strings.Cut(kv, "=")
		if strings.EqualFold(key, "TERM") {
			continue
		}
		env = append(env, kv)
	}
	return append(env, "TERM="+TermType)
}
