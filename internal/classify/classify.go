// Package classify decides how a typed line enters the trust pipeline.
//
// Classification is a pure function over static keyword tables: it looks
// at the first word of the line and nothing else, and it never touches
// shared state. The router relies on that purity: the same line always
// classifies the same way.
package classify

import (
	"strings"
)

// Kind is the routing class of a command line.
type Kind int

const (
	// KindAmbiguous is the default: the line may be a shell command or
	// natural language, and the pipeline must disambiguate.
	KindAmbiguous Kind = iota
	// KindSimple is a read-only/low-risk verb on the fast-path
	// allow-list; it executes directly with no sandbox and no gateway.
	KindSimple
	// KindBuiltin is handled by the shell itself (cd, pwd, exit).
	KindBuiltin
	// KindInteractive needs a real terminal (vim, top, ssh) and cannot
	// run inside the sandbox session.
	KindInteractive
)

func (k Kind) String() string {
	switch k {
	case KindSimple:
		return "simple"
	case KindBuiltin:
		return "builtin"
	case KindInteractive:
		return "interactive"
	default:
		return "ambiguous"
	}
}

// Command is an immutable command line plus its derived kind.
type Command struct {
	Line string
	Kind Kind
}

// simpleVerbs is the fast-path allow-list: read-only or low-risk verbs
// that skip the sandbox and the gateway entirely. ls and echo stay out
// of the table so their output and errors pass through the sandbox like
// any other command.
var simpleVerbs = map[string]struct{}{
	"pwd": {}, "whoami": {}, "date": {}, "uptime": {},
	"free": {}, "df": {}, "du": {}, "ps": {}, "cat": {}, "head": {},
	"tail": {}, "which": {}, "whereis": {}, "locate": {}, "stat": {},
	"file": {}, "env": {}, "printenv": {}, "history": {}, "alias": {},
	"type": {}, "help": {}, "uname": {}, "id": {},
	"groups": {}, "who": {}, "cal": {},
}

// builtins are handled by the shell process itself.
var builtins = map[string]struct{}{
	"cd": {}, "pwd": {}, "exit": {},
}

// interactiveVerbs need the controlling terminal and are executed
// through a PTY after routing.
var interactiveVerbs = map[string]struct{}{
	"vi": {}, "vim": {}, "nano": {}, "emacs": {}, "htop": {},
	"top": {}, "less": {}, "more": {}, "man": {}, "ssh": {},
	"ftp": {}, "telnet": {}, "mysql": {}, "psql": {}, "python": {},
	"python3": {}, "node": {}, "irb": {}, "bash": {}, "sh": {},
	"zsh": {}, "sudo": {}, "screen": {}, "tmux": {}, "watch": {},
}

// ambiguousVerbs are common verbs that read equally well as shell
// commands and as the first word of an English sentence; they stay
// KindAmbiguous so the pipeline disambiguates them.
var ambiguousVerbs = map[string]struct{}{
	"find": {}, "grep": {}, "search": {}, "list": {}, "show": {},
	"display": {}, "get": {}, "check": {}, "count": {}, "sort": {},
	"filter": {}, "remove": {}, "delete": {}, "clean": {}, "copy": {},
	"move": {}, "rename": {}, "update": {}, "edit": {}, "create": {},
	"make": {}, "build": {}, "install": {}, "start": {}, "stop": {},
	"restart": {}, "run": {}, "open": {}, "close": {}, "explain": {},
	"describe": {}, "summarize": {}, "compare": {}, "fix": {},
}

// FirstWord extracts the command verb from a line.
func FirstWord(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}

	return fields[0]
}

// Line classifies one command line. Precedence: builtin > interactive >
// ambiguous > simple. A verb in both the ambiguous and simple tables
// stays ambiguous; the pipeline errs toward validation.
func Line(line string) Command {
	cmd := Command{Line: line, Kind: KindAmbiguous}
	verb := FirstWord(line)

	if verb == "" {
		return cmd
	}

	switch {
	case isBuiltin(verb):
		cmd.Kind = KindBuiltin
	case isInteractive(verb):
		cmd.Kind = KindInteractive
	case isAmbiguous(verb):
		cmd.Kind = KindAmbiguous
	case isSimple(verb):
		cmd.Kind = KindSimple
	}

	return cmd
}

func isBuiltin(verb string) bool {
	_, ok := builtins[verb]
	return ok
}

func isInteractive(verb string) bool {
	_, ok := interactiveVerbs[verb]
	return ok
}

func isAmbiguous(verb string) bool {
	_, ok := ambiguousVerbs[verb]
	return ok
}

func isSimple(verb string) bool {
	_, ok := simpleVerbs[verb]
	return ok
}
