package txn

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pingcap-incubator/tinyocc/occ/cell"
)

// ParseError reports a malformed transaction. It is never retried.
type ParseError struct {
	Command string
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid command %q: %s", e.Command, e.Reason)
}

func parseErrorf(command string, format string, args ...interface{}) *ParseError {
	return &ParseError{Command: strings.TrimSpace(command), Reason: fmt.Sprintf(format, args...)}
}

// Ref names a cell, possibly through dereferences: `B**` starts at B and twice replaces the current cell with the
// cell indexed by its value modulo the table size.
type Ref struct {
	Cell   int
	Derefs int
}

func (r Ref) String() string {
	return cell.Name(r.Cell) + strings.Repeat("*", r.Derefs)
}

func (r Ref) resolve(c *Cache) int {
	id := r.Cell
	for i := 0; i < r.Derefs; i++ {
		id = cell.Mod(c.Get(id), c.Size())
	}
	return id
}

// Term is one signed operand of a command's right-hand side. Exactly one of Ref and Literal is meaningful.
type Term struct {
	Negate  bool
	Ref     *Ref
	Literal int
}

func (t Term) String() string {
	s := strconv.Itoa(t.Literal)
	if t.Ref != nil {
		s = t.Ref.String()
	}
	return s
}

func (t Term) value(c *Cache) int {
	v := t.Literal
	if t.Ref != nil {
		v = c.Get(t.Ref.resolve(c))
	}
	if t.Negate {
		return -v
	}
	return v
}

// Command is one assignment `target = term (+|- term)*`.
type Command struct {
	Target Ref
	Terms  []Term
}

func (cmd Command) String() string {
	var b strings.Builder
	b.WriteString(cmd.Target.String())
	b.WriteString(" =")
	for i, t := range cmd.Terms {
		if i > 0 {
			if t.Negate {
				b.WriteString(" -")
			} else {
				b.WriteString(" +")
			}
		}
		b.WriteByte(' ')
		b.WriteString(t.String())
	}
	return b.String()
}

// Eval resolves the target and the right-hand side through c, left to right, and stages the result on the target.
// The target is resolved first, so its dereferences are peeked before any operand.
func (cmd Command) Eval(c *Cache) {
	target := cmd.Target.resolve(c)
	sum := 0
	for _, t := range cmd.Terms {
		sum += t.value(c)
	}
	c.Set(target, sum)
}

// ParseTransaction parses `command (; command)*` for a table of n cells. It touches no cell, so parsing the same
// text twice yields the same commands.
func ParseTransaction(text string, n int) ([]Command, error) {
	parts := strings.Split(text, ";")
	cmds := make([]Command, 0, len(parts))
	for _, part := range parts {
		cmd, err := ParseCommand(part, n)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

// ParseCommand parses a single `target = term (+|- term)*` for a table of n cells.
func ParseCommand(text string, n int) (Command, error) {
	words := strings.Fields(text)
	if len(words) < 3 {
		return Command{}, parseErrorf(text, "expected at least 3 tokens, got %d", len(words))
	}
	if words[1] != "=" {
		return Command{}, parseErrorf(text, "expected '=' after target, got %q", words[1])
	}
	if len(words)%2 == 0 {
		return Command{}, parseErrorf(text, "operators and operands do not alternate")
	}

	target, err := parseRef(text, words[0], n)
	if err != nil {
		return Command{}, err
	}
	cmd := Command{Target: target, Terms: make([]Term, 0, (len(words)-1)/2)}

	first, err := parseTerm(text, words[2], n)
	if err != nil {
		return Command{}, err
	}
	cmd.Terms = append(cmd.Terms, first)

	for j := 3; j < len(words); j += 2 {
		t, err := parseTerm(text, words[j+1], n)
		if err != nil {
			return Command{}, err
		}
		switch words[j] {
		case "+":
		case "-":
			t.Negate = true
		default:
			return Command{}, parseErrorf(text, "unknown operator %q", words[j])
		}
		cmd.Terms = append(cmd.Terms, t)
	}
	return cmd, nil
}

func parseTerm(text, word string, n int) (Term, error) {
	if word[0] >= '0' && word[0] <= '9' {
		v, err := strconv.Atoi(word)
		if err != nil {
			return Term{}, parseErrorf(text, "bad literal %q", word)
		}
		return Term{Literal: v}, nil
	}
	ref, err := parseRef(text, word, n)
	if err != nil {
		return Term{}, err
	}
	return Term{Ref: &ref}, nil
}

func parseRef(text, word string, n int) (Ref, error) {
	id := int(word[0]) - 'A'
	if id < 0 || id >= n {
		return Ref{}, parseErrorf(text, "cell %q out of range A-%s", word[:1], cell.Name(n-1))
	}
	for i := 1; i < len(word); i++ {
		if word[i] != '*' {
			return Ref{}, parseErrorf(text, "unexpected %q in reference %q", word[i], word)
		}
	}
	return Ref{Cell: id, Derefs: len(word) - 1}, nil
}
