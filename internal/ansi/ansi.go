// Package ansi strips terminal escape sequences. Sandbox output may
// carry color codes from the dry-run subshell; they are removed before
// the text is forwarded to the AI backend.
package ansi

import "strings"

// Strip removes ANSI escape sequences from a string. An unterminated
// trailing sequence is kept verbatim rather than silently swallowing
// the bytes.
func Strip(s string) string {
	var b strings.Builder

	var pending strings.Builder

	inEscape := false

	for _, r := range s {
		if !inEscape {
			if r == '\x1b' {
				inEscape = true

				pending.Reset()
				pending.WriteRune(r)

				continue
			}

			b.WriteRune(r)

			continue
		}

		pending.WriteRune(r)

		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			inEscape = false

			pending.Reset()
		}
	}

	if inEscape {
		b.WriteString(pending.String())
	}

	return b.String()
}
