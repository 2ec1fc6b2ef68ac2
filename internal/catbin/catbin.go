// Package catbin implements the CAT binary codec: the layered file format
// (header, variable tables, node tree, condition groups, parameter blobs,
// string pool), its two-pass offset fix-up discipline, and the parameter
// typing and track-optimization algorithms.
//
// The encoder emits in a single forward pass, reserving zero-filled slots
// for forward references and seeking back to patch them once their targets
// are placed. golang.org/x/xerrors wraps every decode/encode error with
// file-offset context.
package catbin

import (
	"fmt"

	"github.com/marcdred/bully-mact-tool/internal/logic"
)

// header is the fixed CAT file header: section offsets plus node counters.
type header struct {
	FileLength uint32
	PData      uint32
	PStrings   uint32
	PGroups    uint32
	CounterA   uint32 // Banks, stored as count-1 (see bankCountBias)
	CounterB   uint32 // Node-like entries
	CounterC   uint32 // FileReferences
	CounterD   uint32 // leaves
}

// bankCountBias is a host-format quirk: the Bank counter is always written
// as (count - 1), and the engine expects it that way.
const bankCountBias = 1

// paramDigits is the zero-padded width of a synthetic "[NNNNN]" param
// name.
const paramDigits = 5

// tagByte identifies a node-tree record kind.
type tagByte byte

const (
	tagBank          tagByte = 'b'
	tagNode          tagByte = 'n'
	tagLeaf          tagByte = 'l'
	tagFileReference tagByte = 'r' // includeFile = false
	tagInclude       tagByte = 'i' // includeFile = true
)

// padBoundary is the trailing zero-pad alignment of the whole file.
const padBoundary = 1024

// File is the fully decoded/loaded logical representation of a CAT file:
// its root Bank plus the emission-order bookkeeping the encoder needs to
// reproduce byte-identical output on a round trip.
type File struct {
	Root *logic.LogicNode

	// StringOrder records the decoded file's string-variable table order,
	// so a round-trip encode interns strings in the same order the original
	// file did. Nil for a MACT-authored tree, in which case the encoder
	// interns in tree-walk discovery order. Condition-group and reference
	// strings need no such record: group table order and reference-pool
	// order both follow tree emission order structurally.
	StringOrder []string
}

// bracketName formats a synthetic parameter name for a param id the
// template DB doesn't know, e.g. "[00024]" at paramDigits width.
func bracketName(id int) string {
	return fmt.Sprintf("[%0*d]", paramDigits, id)
}
