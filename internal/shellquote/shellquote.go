// Package shellquote renders argument lists as POSIX shell command
// lines that reproduce each input string as one literal argument.
package shellquote

import (
	"fmt"
	"io"
	"strings"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
)

// Characters that never need quoting. ASCII ranges only: non-ASCII
// letters and digits must still be quoted.
const safeChars = "@%-_+:,./"

func isSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	default:
		return strings.ContainsRune(safeChars, r)
	}
}

// Quote escapes a single string so a POSIX shell treats it as one
// literal argument. The empty string becomes a pair of single quotes
// so it survives as a separate argument; strings of safe characters
// pass through unchanged; everything else is single-quoted, with each
// embedded quote rewritten to close, escape and reopen the quoting.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !isSafe(r) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Join quotes each argument and joins them with single spaces.
func Join(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = Quote(arg)
	}
	return strings.Join(quoted, " ")
}

// WriteCommand renders a runnable shell form of a command: one
// name=value line per environment variable, each continued with a
// backslash, then the indented argument list.
func WriteCommand(w io.Writer, cmd *remoteexecution.Command) {
	for _, env := range cmd.EnvironmentVariables {
		fmt.Fprintf(w, "%s=%s \\\n", Quote(env.Name), Quote(env.Value))
	}
	fmt.Fprintf(w, "  %s\n", Join(cmd.Arguments))
}
