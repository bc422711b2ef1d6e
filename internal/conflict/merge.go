package conflict

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// MergeResult is the outcome of a three-way merge. Content carries conflict
// markers when Clean is false.
type MergeResult struct {
	Clean     bool
	Content   string
	Conflicts int
}

// hunk replaces base lines [start,end) with lines.
type hunk struct {
	start, end int
	lines      []string
}

// Merge3 combines the edits base->local and base->upstream line by line.
// Edits to disjoint regions are both applied; identical edits collapse;
// overlapping different edits are conflicts.
func Merge3(base, local, upstream string) MergeResult {
	switch {
	case local == upstream:
		return MergeResult{Clean: true, Content: upstream}
	case base == local:
		return MergeResult{Clean: true, Content: upstream}
	case base == upstream:
		return MergeResult{Clean: true, Content: local}
	}

	baseLines := splitLines(base)
	lh := diffHunks(base, local)
	uh := diffHunks(base, upstream)

	var out strings.Builder
	conflicts := 0
	pos, i, j := 0, 0, 0
	for i < len(lh) || j < len(uh) {
		var first hunk
		fromLocal := j >= len(uh) || (i < len(lh) && lh[i].start <= uh[j].start)
		if fromLocal {
			first = lh[i]
		} else {
			first = uh[j]
		}
		rs, re := first.start, first.end
		li, uj := i, j
		for {
			grown := false
			for li < len(lh) && overlaps(lh[li], rs, re) {
				rs, re = min(rs, lh[li].start), max(re, lh[li].end)
				li++
				grown = true
			}
			for uj < len(uh) && overlaps(uh[uj], rs, re) {
				rs, re = min(rs, uh[uj].start), max(re, uh[uj].end)
				uj++
				grown = true
			}
			if !grown {
				break
			}
		}

		writeLines(&out, baseLines[pos:rs])
		localHunks, upHunks := lh[i:li], uh[j:uj]
		switch {
		case len(upHunks) == 0:
			out.WriteString(applyRange(baseLines, localHunks, rs, re))
		case len(localHunks) == 0:
			out.WriteString(applyRange(baseLines, upHunks, rs, re))
		default:
			l := applyRange(baseLines, localHunks, rs, re)
			u := applyRange(baseLines, upHunks, rs, re)
			if l == u {
				out.WriteString(l)
			} else {
				conflicts++
				writeConflict(&out, l, u)
			}
		}
		pos = re
		i, j = li, uj
	}
	writeLines(&out, baseLines[pos:])
	return MergeResult{Clean: conflicts == 0, Content: out.String(), Conflicts: conflicts}
}

func overlaps(h hunk, rs, re int) bool {
	if h.start == rs {
		return true
	}
	return h.start < re && rs < h.end
}

func applyRange(base []string, hunks []hunk, rs, re int) string {
	var b strings.Builder
	pos := rs
	for _, h := range hunks {
		writeLines(&b, base[pos:h.start])
		writeLines(&b, h.lines)
		pos = h.end
	}
	writeLines(&b, base[pos:re])
	return b.String()
}

func writeConflict(b *strings.Builder, local, upstream string) {
	b.WriteString("<<<<<<< local\n")
	b.WriteString(withTrailingNewline(local))
	b.WriteString("=======\n")
	b.WriteString(withTrailingNewline(upstream))
	b.WriteString(">>>>>>> upstream\n")
}

// diffHunks returns the line edits turning a into b, in base order.
func diffHunks(a, b string) []hunk {
	dmp := diffmatchpatch.New()
	ca, cb, lines := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(ca, cb, false), lines)

	var hunks []hunk
	var cur *hunk
	pos := 0
	flush := func() {
		if cur != nil {
			hunks = append(hunks, *cur)
			cur = nil
		}
	}
	for _, d := range diffs {
		n := splitLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			flush()
			pos += len(n)
		case diffmatchpatch.DiffDelete:
			if cur == nil {
				cur = &hunk{start: pos, end: pos}
			}
			cur.end += len(n)
			pos += len(n)
		case diffmatchpatch.DiffInsert:
			if cur == nil {
				cur = &hunk{start: pos, end: pos}
			}
			cur.lines = append(cur.lines, n...)
		}
	}
	flush()
	return hunks
}

// splitLines keeps line terminators so joining the result restores s.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.SplitAfter(s, "\n")
	if parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

func writeLines(b *strings.Builder, lines []string) {
	for _, l := range lines {
		b.WriteString(l)
	}
}

func withTrailingNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
