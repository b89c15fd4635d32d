// Package align computes word-level edit scripts between a reference text and
// a candidate text.
//
// The alignment follows the Ratcliff/Obershelp "gestalt" approach: find the
// longest contiguous run of tokens shared by both sequences, then recurse into
// the unmatched regions on either side. The resulting matching blocks are
// turned into an ordered list of [Opcode] values that cover both sequences
// exactly once.
//
// Runs are searched with the candidate as the primary sequence: ties between
// equally long runs go to the run that starts earliest in the candidate, then
// earliest in the reference. This decides which words of a reordered
// sentence are reported as added and which as removed, so it must stay
// stable. Opcodes are still expressed from the reference's point of view.
//
// Everything in this package is pure and safe for concurrent use.
package align

import (
	"fmt"
	"slices"
	"strings"
)

// Tag identifies the kind of an edit operation.
type Tag int

const (
	// Equal marks spans that are identical in both sequences.
	Equal Tag = iota

	// Insert marks tokens present only in the candidate.
	Insert

	// Delete marks tokens present only in the reference.
	Delete

	// Replace marks a reference span that was substituted by a candidate span.
	Replace
)

// String returns the lower-case name of the tag.
func (t Tag) String() string {
	switch t {
	case Equal:
		return "equal"
	case Insert:
		return "insert"
	case Delete:
		return "delete"
	case Replace:
		return "replace"
	default:
		return "unknown"
	}
}

// Opcode describes one edit operation: reference[I1:I2] relates to
// candidate[J1:J2] according to Tag.
type Opcode struct {
	Tag    Tag
	I1, I2 int
	J1, J2 int
}

// String renders the opcode for logs and test output.
func (o Opcode) String() string {
	return fmt.Sprintf("%s a[%d:%d] b[%d:%d]", o.Tag, o.I1, o.I2, o.J1, o.J2)
}

// Tokenize splits text into whitespace-delimited tokens.
func Tokenize(text string) []string {
	return strings.Fields(text)
}

// match is a run of size tokens shared by two sequences at offsets a and b.
type match struct {
	a, b, size int
}

// Align returns the edit script that transforms reference into candidate.
//
// Two empty inputs yield no opcodes. When exactly one input is empty the
// result is a single Insert or Delete spanning the other.
func Align(reference, candidate []string) []Opcode {
	blocks := newMatcher(candidate, reference).matchingBlocks()
	for k := range blocks {
		blocks[k].a, blocks[k].b = blocks[k].b, blocks[k].a
	}
	return opcodes(blocks)
}

type matcher struct {
	a, b []string

	// b2j maps each candidate token to the ascending positions where it occurs.
	b2j map[string][]int
}

func newMatcher(a, b []string) *matcher {
	b2j := make(map[string][]int, len(b))
	for j, tok := range b {
		b2j[tok] = append(b2j[tok], j)
	}
	return &matcher{a: a, b: b, b2j: b2j}
}

// longestMatch finds the longest run shared by a[alo:ahi] and b[blo:bhi].
// Among runs of maximal length it returns the one starting earliest in a and,
// for that start, earliest in b. size is 0 when nothing matches.
func (m *matcher) longestMatch(alo, ahi, blo, bhi int) match {
	best := match{a: alo, b: blo}

	// j2len[j] is the length of the match ending at a[i-1], b[j].
	j2len := map[int]int{}
	for i := alo; i < ahi; i++ {
		next := map[int]int{}
		for _, j := range m.b2j[m.a[i]] {
			if j < blo {
				continue
			}
			if j >= bhi {
				break
			}
			k := j2len[j-1] + 1
			next[j] = k
			if k > best.size {
				best = match{a: i - k + 1, b: j - k + 1, size: k}
			}
		}
		j2len = next
	}
	return best
}

// matchingBlocks returns the maximal matching runs in ascending order with
// adjacent runs merged, terminated by a zero-size sentinel at (len(a), len(b)).
func (m *matcher) matchingBlocks() []match {
	type region struct{ alo, ahi, blo, bhi int }

	var blocks []match
	stack := []region{{0, len(m.a), 0, len(m.b)}}
	for len(stack) > 0 {
		r := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		x := m.longestMatch(r.alo, r.ahi, r.blo, r.bhi)
		if x.size == 0 {
			continue
		}
		blocks = append(blocks, x)
		if r.alo < x.a && r.blo < x.b {
			stack = append(stack, region{r.alo, x.a, r.blo, x.b})
		}
		if x.a+x.size < r.ahi && x.b+x.size < r.bhi {
			stack = append(stack, region{x.a + x.size, r.ahi, x.b + x.size, r.bhi})
		}
	}

	slices.SortFunc(blocks, func(x, y match) int {
		if x.a != y.a {
			return x.a - y.a
		}
		if x.b != y.b {
			return x.b - y.b
		}
		return x.size - y.size
	})

	merged := make([]match, 0, len(blocks)+1)
	var cur match
	for _, blk := range blocks {
		if cur.a+cur.size == blk.a && cur.b+cur.size == blk.b {
			cur.size += blk.size
			continue
		}
		if cur.size > 0 {
			merged = append(merged, cur)
		}
		cur = blk
	}
	if cur.size > 0 {
		merged = append(merged, cur)
	}
	return append(merged, match{a: len(m.a), b: len(m.b)})
}

// opcodes turns matching blocks, with a indexing the reference and b the
// candidate, into the covering edit script.
func opcodes(blocks []match) []Opcode {
	var ops []Opcode
	i, j := 0, 0
	for _, blk := range blocks {
		switch {
		case i < blk.a && j < blk.b:
			ops = append(ops, Opcode{Tag: Replace, I1: i, I2: blk.a, J1: j, J2: blk.b})
		case i < blk.a:
			ops = append(ops, Opcode{Tag: Delete, I1: i, I2: blk.a, J1: j, J2: blk.b})
		case j < blk.b:
			ops = append(ops, Opcode{Tag: Insert, I1: i, I2: blk.a, J1: j, J2: blk.b})
		}
		i, j = blk.a+blk.size, blk.b+blk.size
		if blk.size > 0 {
			ops = append(ops, Opcode{Tag: Equal, I1: blk.a, I2: i, J1: blk.b, J2: j})
		}
	}
	return ops
}

// Apply replays ops against reference, taking inserted and replacing tokens
// from candidate. For ops produced by Align(reference, candidate) the result
// equals candidate.
func Apply(ops []Opcode, reference, candidate []string) []string {
	out := make([]string, 0, len(candidate))
	for _, op := range ops {
		switch op.Tag {
		case Equal:
			out = append(out, reference[op.I1:op.I2]...)
		case Insert, Replace:
			out = append(out, candidate[op.J1:op.J2]...)
		case Delete:
		}
	}
	return out
}
