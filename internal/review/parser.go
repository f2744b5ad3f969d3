// Package review interprets reviewer commands posted in the review group.
package review

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

// Verb is a review command.
type Verb string

const (
	VerbApprove Verb = "approve"
	VerbReject  Verb = "reject"
	VerbInfo    Verb = "info"
	VerbList    Verb = "list"
	VerbHelp    Verb = "help"
)

var aliases = map[string]Verb{
	"approve": VerbApprove,
	"accept":  VerbApprove,
	"通过":      VerbApprove,
	"同意":      VerbApprove,
	"reject":  VerbReject,
	"deny":    VerbReject,
	"拒绝":      VerbReject,
	"info":    VerbInfo,
	"查看":      VerbInfo,
	"list":    VerbList,
	"列表":      VerbList,
	"help":    VerbHelp,
	"帮助":      VerbHelp,
}

var usages = map[Verb]string{
	VerbApprove: "/approve <申请ID>",
	VerbReject:  "/reject <申请ID> [原因]",
	VerbInfo:    "/info <申请ID>",
	VerbList:    "/list",
	VerbHelp:    "/help",
}

// Usage returns the usage line for v.
func Usage(v Verb) string {
	return usages[v]
}

// ErrNotCommand is returned for messages that are not review commands.
var ErrNotCommand = errors.New("not a review command")

// UsageError reports a recognized command with missing arguments.
type UsageError struct {
	Verb Verb
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("usage: %s", Usage(e.Verb))
}

// Command is a parsed review command.
type Command struct {
	Verb   Verb
	Ref    string
	Reason string
}

// Parse reads a command from message text. The verb and the request ref are
// folded from full-width to ASCII forms, the leading slash is optional, and
// the verb may be an English or Chinese alias. A reject reason is kept as
// written, minus one pair of surrounding quotes.
func Parse(text string) (Command, error) {
	first, rest := nextField(text)
	if first == "" {
		return Command{}, ErrNotCommand
	}

	word := strings.ToLower(strings.TrimPrefix(width.Fold.String(first), "/"))
	verb, ok := aliases[word]
	if !ok {
		return Command{}, ErrNotCommand
	}

	cmd := Command{Verb: verb}
	switch verb {
	case VerbApprove, VerbInfo, VerbReject:
		ref, tail := nextField(rest)
		if ref == "" {
			return cmd, &UsageError{Verb: verb}
		}
		cmd.Ref = width.Fold.String(ref)
		if verb == VerbReject {
			cmd.Reason = unquote(strings.TrimSpace(tail))
		}
	}
	return cmd, nil
}

// nextField splits off the first whitespace-delimited field of s, including
// ideographic spaces.
func nextField(s string) (field, rest string) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	if i := strings.IndexFunc(s, unicode.IsSpace); i >= 0 {
		return s[:i], s[i:]
	}
	return s, ""
}

var quotePairs = [][2]string{
	{`"`, `"`},
	{`'`, `'`},
	{"“", "”"},
	{"「", "」"},
	{"＂", "＂"},
}

func unquote(s string) string {
	for _, q := range quotePairs {
		if len(s) >= len(q[0])+len(q[1]) && strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) {
			return strings.TrimSpace(s[len(q[0]) : len(s)-len(q[1])])
		}
	}
	return s
}
