package transport

import "strings"

// OutputMode selects how a spawned process delivers its output.
type OutputMode int

const (
	// OutputAuto splits stdout/stderr when the transport supports it and
	// falls back to a single combined stream otherwise.
	OutputAuto OutputMode = iota
	OutputSplit
	OutputCombined
)

// ParseOutputMode accepts "auto", "split" and "combined". Anything else is auto.
func ParseOutputMode(s string) OutputMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "split", "shell":
		return OutputSplit
	case "combined", "none":
		return OutputCombined
	default:
		return OutputAuto
	}
}

func (m OutputMode) String() string {
	switch m {
	case OutputSplit:
		return "split"
	case OutputCombined:
		return "combined"
	default:
		return "auto"
	}
}

// CommandSpec describes a remote command.
type CommandSpec struct {
	Argv   []string
	Output OutputMode
}

// Line renders the command as the single string handed to the remote side.
func (c CommandSpec) Line() string {
	return strings.Join(c.Argv, " ")
}

// Split resolves Output against what the transport supports. A split
// request on a transport without split support degrades to combined.
func (c CommandSpec) Split(supported bool) bool {
	return c.Output != OutputCombined && supported
}

// Command builds a spec from a plain command line.
func Command(argv ...string) CommandSpec {
	return CommandSpec{Argv: argv}
}

// ShellCommand wraps user input as sh -c "<input>". Only the whole string is
// quoted; embedded quotes and metacharacters are passed through as typed.
func ShellCommand(input string) CommandSpec {
	return CommandSpec{Argv: []string{"sh", "-c", `"` + input + `"`}}
}
