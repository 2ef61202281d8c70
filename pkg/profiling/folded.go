package profiling

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	perrors "github.com/scope-profiler/pkg/errors"
	"github.com/scope-profiler/pkg/profiler"
	"github.com/scope-profiler/pkg/utils"
)

// StackToString converts a call stack to a semicolon-separated string.
func StackToString(stack []string) string {
	if len(stack) == 0 {
		return ""
	}
	return strings.Join(stack, ";")
}

// StringToStack converts a semicolon-separated string back to a call stack.
func StringToStack(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ";")
}

// frameName makes a label safe for a folded line.
func frameName(label string) string {
	return strings.ReplaceAll(label, ";", ":")
}

// Fold sums the self time, in microseconds, of every distinct stack under
// root. Stacks whose self time rounds to zero are kept so that every scope
// shows up.
func Fold(root *profiler.Node, clock utils.TickClock) map[string]int64 {
	folded := make(map[string]int64)
	if root == nil {
		return folded
	}
	var stack []string
	var visit func(n *profiler.Node)
	visit = func(n *profiler.Node) {
		stack = append(stack, frameName(n.Label()))
		self := n.LifeTime()
		for _, c := range n.Children() {
			self -= c.LifeTime()
			visit(c)
		}
		if self < 0 {
			self = 0
		}
		folded[StackToString(stack)] += utils.TicksToDuration(clock, self).Microseconds()
		stack = stack[:len(stack)-1]
	}
	visit(root)
	return folded
}

// WriteFolded writes folded stacks, one "a;b;c <micros>" line each, sorted
// by stack. It returns the number of lines written.
func WriteFolded(w io.Writer, folded map[string]int64) (int, error) {
	stacks := make([]string, 0, len(folded))
	for s := range folded {
		stacks = append(stacks, s)
	}
	sort.Strings(stacks)

	bw := bufio.NewWriter(w)
	for _, s := range stacks {
		if _, err := fmt.Fprintf(bw, "%s %d\n", s, folded[s]); err != nil {
			return 0, err
		}
	}
	return len(stacks), bw.Flush()
}

// ReadFolded parses folded stack lines, summing repeated stacks. Blank lines
// are skipped.
func ReadFolded(r io.Reader) (map[string]int64, error) {
	folded := make(map[string]int64)
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		i := strings.LastIndexByte(text, ' ')
		if i <= 0 {
			return nil, perrors.Newf(perrors.CodeInvalidInput, "line %d: missing count", line)
		}
		count, err := strconv.ParseInt(text[i+1:], 10, 64)
		if err != nil {
			return nil, perrors.Wrap(perrors.CodeInvalidInput, fmt.Sprintf("line %d: bad count", line), err)
		}
		folded[strings.TrimSpace(text[:i])] += count
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return folded, nil
}
