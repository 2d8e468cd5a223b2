// Package pty manages interactive shell sessions running on pseudo-terminals.
//
// A Registry keys sessions by caller-chosen ids. Spawn opens a pseudo-terminal,
// launches the first shell of an ordered candidate chain that starts, and
// relays the shell's raw output to an OutputFunc from a per-session goroutine.
// Write forwards input bytes unmodified.
//
// On POSIX systems the device comes from github.com/creack/pty and the chain
// holds a single entry derived from $SHELL. On Windows the device is a pseudo
// console and the chain falls back from pwsh to Windows PowerShell to the
// command interpreter; the PowerShell candidates install a prompt hook that
// announces the working directory with OSC 777 and OSC 7 sequences.
//
// Output is not interpreted. Chunks are at most RelayBufferSize bytes and are
// decoded independently, so a rune split across two reads shows up as
// replacement characters.
package pty
