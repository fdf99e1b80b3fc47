package scan

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"github.com/appstore-research/mascache/internal/ux"
)

// Decision is an operator's verdict on a metadata conflict.
type Decision int

const (
	// DecisionUpdate overwrites the stored payload with the observed one.
	DecisionUpdate Decision = iota
	// DecisionKeep discards the observation and leaves the store untouched.
	DecisionKeep
	// DecisionAbort terminates the ingestion run.
	DecisionAbort
)

// Conflict describes a metadata collision: the same uniqueness key was
// observed with a different payload.
type Conflict struct {
	AppID     int64
	Country   string
	Source    string
	Timestamp time.Time
	Diff      []DiffLine
}

// Resolver decides what happens to a metadata conflict. Implementations may
// block; the engine suspends row processing until a decision is returned.
type Resolver interface {
	Resolve(c Conflict) (Decision, error)
}

// TerminalResolver presents the conflict diff on a terminal and prompts the
// operator for one of update/keep/abort.
type TerminalResolver struct {
	In  io.Reader
	Out io.Writer
}

// NewTerminalResolver returns a resolver reading decisions from in and
// rendering diffs to out.
func NewTerminalResolver(in io.Reader, out io.Writer) *TerminalResolver {
	return &TerminalResolver{In: in, Out: out}
}

func (r *TerminalResolver) Resolve(c Conflict) (Decision, error) {
	ux.Warnf(r.Out, "cached entries are different:\n  App: %d\n  Store: %s\n  Source: %s\n  Timestamp: %s",
		c.AppID, c.Country, c.Source, c.Timestamp)

	for _, line := range c.Diff {
		switch line.Kind {
		case LineRemoved:
			fmt.Fprintln(r.Out, ux.Removed.Render("- "+line.Text))
		case LineAdded:
			fmt.Fprintln(r.Out, ux.Added.Render("+ "+line.Text))
		case LineHint:
			fmt.Fprintln(r.Out, ux.Hint.Render("? "+line.Text))
		default:
			fmt.Fprintln(r.Out, "  "+line.Text)
		}
	}

	fmt.Fprintln(r.Out, ux.Prompt.Render("Update [u] / Keep [k] / Abort [a]:"))

	scanner := bufio.NewScanner(r.In)
	fmt.Fprint(r.Out, "Select an option: ")
	for scanner.Scan() {
		switch scanner.Text() {
		case "u":
			return DecisionUpdate, nil
		case "k":
			return DecisionKeep, nil
		case "a":
			return DecisionAbort, nil
		}
		fmt.Fprint(r.Out, "Please select a valid option: ")
	}
	if err := scanner.Err(); err != nil {
		return DecisionAbort, fmt.Errorf("read decision: %w", err)
	}
	return DecisionAbort, fmt.Errorf("input closed before a decision was made")
}
