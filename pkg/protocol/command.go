package protocol

import (
	"bytes"
	"strings"
	"unicode"
)

// Command is a parsed text command line.
type Command struct {
	Name string // Upper-cased command token
	Arg  string // First argument token, empty when absent
}

// ParseCommandLine parses one command line (without its terminator).
//
// The line is split on whitespace and the first token selects the command,
// case-insensitively. Extra tokens after the argument are ignored.
func ParseCommandLine(line []byte) (Command, error) {
	line = bytes.TrimRight(line, "\r")

	fields := strings.Fields(string(line))
	if len(fields) == 0 {
		return Command{}, ErrUnknownCommand
	}

	cmd := Command{Name: strings.ToUpper(fields[0])}
	if len(fields) > 1 {
		cmd.Arg = fields[1]
	}

	switch cmd.Name {
	case CommandHello, CommandFetch:
		if cmd.Arg == "" {
			return cmd, ErrMissingArgument
		}
		return cmd, nil
	default:
		return cmd, ErrUnknownCommand
	}
}

// FormatCommandLine renders the canonical request line "NAME ARG\n".
func FormatCommandLine(name, arg string) ([]byte, error) {
	if arg == "" {
		return nil, ErrMissingArgument
	}
	if strings.IndexFunc(arg, unicode.IsSpace) >= 0 {
		return nil, ErrInvalidArgument
	}
	return []byte(name + " " + arg + "\n"), nil
}

// WelcomeMessage is the HELLO response for clientID.
func WelcomeMessage(clientID string) string {
	return "Welcome, " + clientID + "!\n"
}
