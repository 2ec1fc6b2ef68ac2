package mact

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/marcdred/bully-mact-tool/internal/bio"
	"github.com/marcdred/bully-mact-tool/internal/logic"
)

// WriteOptions configures the MACT writer's optional annotations.
type WriteOptions struct {
	// Debug emits a "# Pos: 0x..." comment before each node/condition/track
	// line, sourced from logic.LogicNode.DebugOffset. Off by default.
	Debug bool
}

// Write renders a decoded logic tree as MACT text, the reverse of Lift:
// tab-indented keyword lines, braces reopening ConditionGroup/Tracks
// containers around the Conditions/Tracks fields that Lift had re-parented
// out of them.
func Write(root *logic.LogicNode, opts WriteOptions) string {
	var b strings.Builder
	w := &writer{opts: opts}
	w.writeNode(&b, root, 0)
	return b.String()
}

type writer struct {
	opts WriteOptions
}

func indent(b *strings.Builder, depth int) {
	for i := 0; i < depth; i++ {
		b.WriteByte('\t')
	}
}

func (w *writer) writePos(b *strings.Builder, depth int, n *logic.LogicNode) {
	if !w.opts.Debug {
		return
	}
	indent(b, depth)
	fmt.Fprintf(b, "# Pos: %#x\n", n.DebugOffset)
}

func (w *writer) writeNode(b *strings.Builder, n *logic.LogicNode, depth int) {
	w.writePos(b, depth, n)
	indent(b, depth)
	if n.Kind == logic.Bank {
		b.WriteString(kwBank)
	} else {
		b.WriteString(kwNode)
	}
	if n.Title != "" {
		b.WriteByte(' ')
		b.WriteString(n.Title)
	}
	b.WriteString("\n")
	indent(b, depth)
	b.WriteString("{\n")

	indent(b, depth+1)
	b.WriteString(kwConditionGroup + "\n")
	indent(b, depth+1)
	b.WriteString("{\n")
	for _, c := range n.Conditions {
		w.writeLogic(b, c, depth+2)
	}
	indent(b, depth+1)
	b.WriteString("}\n")

	if len(n.Tracks) > 0 {
		indent(b, depth+1)
		b.WriteString(kwTracks + "\n")
		indent(b, depth+1)
		b.WriteString("{\n")
		for _, t := range n.Tracks {
			w.writeLogic(b, t, depth+2)
		}
		indent(b, depth+1)
		b.WriteString("}\n")
	}

	for _, c := range n.Children {
		if c.Kind == logic.FileReference {
			writeFileReference(b, c, depth+1)
		} else {
			w.writeNode(b, c, depth+1)
		}
	}

	indent(b, depth)
	b.WriteString("}\n")
}

func writeFileReference(b *strings.Builder, n *logic.LogicNode, depth int) {
	indent(b, depth)
	b.WriteString(kwFileReference + "\n")
	indent(b, depth)
	b.WriteString("{\n")
	indent(b, depth+1)
	fmt.Fprintf(b, "fileName %q\n", n.FileName)
	indent(b, depth+1)
	fmt.Fprintf(b, "path %q\n", n.Path)
	indent(b, depth+1)
	fmt.Fprintf(b, "includeFile %s\n", boolWord(n.IncludeFile))
	indent(b, depth)
	b.WriteString("}\n")
}

func (w *writer) writeLogic(b *strings.Builder, n *logic.LogicNode, depth int) {
	w.writePos(b, depth, n)
	indent(b, depth)
	b.WriteString(n.Title)

	visible := 0
	for _, p := range n.Params {
		if p.ParamID != 0 {
			visible++
		}
	}
	if visible == 0 {
		b.WriteString("\n")
		return
	}
	b.WriteString("\n")
	indent(b, depth)
	b.WriteString("{\n")
	for _, p := range n.Params {
		// Param id 0 is the logic's own hash, elided from the textual
		// form.
		if p.ParamID == 0 {
			continue
		}
		w.writeParam(b, p, depth+1)
	}
	indent(b, depth)
	b.WriteString("}\n")
}

// writeParam renders one Param line, or (for a cg-typed param with
// conditions) a valueless line followed by a brace-nested inline condition
// group.
func (w *writer) writeParam(b *strings.Builder, p *logic.LogicNode, depth int) {
	indent(b, depth)
	b.WriteString(paramName(p))
	if p.ValueType == logic.TypeCG {
		if len(p.Conditions) == 0 {
			b.WriteString("\n")
			return
		}
		b.WriteString("\n")
		indent(b, depth)
		b.WriteString("{\n")
		for _, c := range p.Conditions {
			w.writeLogic(b, c, depth+1)
		}
		indent(b, depth)
		b.WriteString("}\n")
		return
	}
	b.WriteByte(' ')
	b.WriteString(formatValue(p))
	b.WriteString("\n")
}

// paramDigits matches catbin's own constant of the same name.
const paramDigits = 5

// paramName renders a Param's name: its symbolic template-DB name if
// known, else the synthetic "[NNNNN]" form.
func paramName(p *logic.LogicNode) string {
	if p.Title != "" {
		return p.Title
	}
	return fmt.Sprintf("[%0*d]", paramDigits, p.ParamID)
}

func formatValue(p *logic.LogicNode) string {
	switch p.ValueType {
	case logic.TypeBool:
		v, _ := p.Value.(int64)
		return boolWord(v != 0)
	case logic.TypeInt:
		v, _ := p.Value.(int64)
		return strconv.FormatInt(v, 10)
	case logic.TypeFloat:
		v, _ := p.Value.(float64)
		return formatFloat(v)
	case logic.TypeString:
		s, _ := p.Value.(string)
		return strconv.Quote(s)
	case logic.TypeHashedString, logic.TypeBytes:
		raw, _ := p.Value.([]byte)
		if len(raw) != 4 {
			full := make([]byte, 4)
			copy(full, raw)
			raw = full
		}
		if p.HashName != "" {
			return fmt.Sprintf("h%q", p.HashName)
		}
		h := bio.LittleEndian.Uint32(raw)
		return bio.FormatHash(h)
	default:
		return ""
	}
}

// formatFloat renders a float value with a guaranteed decimal point, so a
// re-parse's "contains a '.'" rule recovers TypeFloat, trimming
// insignificant trailing zeros but keeping at least one digit after the
// point.
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func boolWord(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}
