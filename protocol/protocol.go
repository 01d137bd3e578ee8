package protocol

import (
	"strconv"
	"strings"
)

// Command is one client line split into its verb and the unread remainder.
// Arguments are read in order with Next; Rest returns the unsplit tail,
// which is how message bodies keep their embedded spaces.
type Command struct {
	Verb string
	rest string
}

// ParseCommand splits off the verb. Lines that are empty or hold only
// spaces yield ok == false and are ignored by the server.
func ParseCommand(line string) (cmd Command, ok bool) {
	line = strings.TrimSuffix(line, "\r")

	verb, rest := nextToken(line)
	if verb == "" {
		return Command{}, false
	}

	return Command{Verb: verb, rest: rest}, true
}

// Next returns the next space-delimited argument, or "" when none is left.
func (c *Command) Next() string {
	tok, rest := nextToken(c.rest)
	c.rest = rest
	return tok
}

// Rest returns everything after the last consumed argument and its
// delimiter, without further splitting.
func (c *Command) Rest() string {
	rest := c.rest
	c.rest = ""
	return rest
}

func nextToken(s string) (string, string) {
	s = strings.TrimLeft(s, " ")
	if s == "" {
		return "", ""
	}

	i := strings.IndexByte(s, ' ')
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i+1:]
}

// FormatList renders a titled list block the way every listing verb answers:
//
//	=== Title ===
//	- item
//	Total: N
func FormatList(title string, items []string) string {
	var b strings.Builder
	b.WriteString("=== " + title + " ===\n")
	for _, item := range items {
		b.WriteString("- " + item + "\n")
	}
	b.WriteString("Total: ")
	b.WriteString(strconv.Itoa(len(items)))
	b.WriteString("\n")
	return b.String()
}
