package process

import (
	"fmt"
	"os/exec"
	"strings"
	"syscall"
)

// DefaultShell runs command lines when PoolOptions does not say otherwise.
const DefaultShell = "/bin/sh"

// buildCommand turns a command line into an unstarted exec.Cmd.
// With a shell the line is passed verbatim as `shell -c line`; without one it
// is split into argv and the program is resolved on PATH.
func buildCommand(shell, commandLine string) (*exec.Cmd, error) {
	var cmd *exec.Cmd
	if shell != "" {
		if strings.TrimSpace(commandLine) == "" {
			return nil, ErrEmptyCommand
		}
		cmd = exec.Command(shell, "-c", commandLine)
	} else {
		args, err := parseCommand(commandLine)
		if err != nil {
			return nil, err
		}
		if len(args) == 0 {
			return nil, ErrEmptyCommand
		}
		cmd = exec.Command(args[0], args[1:]...)
		if cmd.Err != nil {
			return nil, cmd.Err
		}
	}

	// Own process group so Terminate reaches the whole tree
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd, nil
}

// parseCommand splits a command line into arguments.
// Single and double quotes group words; a backslash escapes the next rune.
func parseCommand(command string) ([]string, error) {
	var args []string
	var current strings.Builder
	inQuote := false
	inWord := false
	quoteChar := rune(0)

	runes := []rune(strings.TrimSpace(command))

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case inQuote && r == quoteChar:
			inQuote = false
			quoteChar = 0
		case !inQuote && (r == '"' || r == '\''):
			inQuote = true
			inWord = true
			quoteChar = r
		case !inQuote && (r == ' ' || r == '\t' || r == '\n'):
			if inWord {
				args = append(args, current.String())
				current.Reset()
				inWord = false
			}
		case r == '\\' && i+1 < len(runes) && quoteChar != '\'':
			i++
			current.WriteRune(runes[i])
			inWord = true
		default:
			current.WriteRune(r)
			inWord = true
		}
	}

	if inQuote {
		return nil, fmt.Errorf("unclosed quote in command")
	}

	if inWord {
		args = append(args, current.String())
	}

	return args, nil
}
