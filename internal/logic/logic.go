// Package logic implements the universal intermediate tree shared by the CAT
// decoder/encoder and the MACT parser/writer: LogicNode, its kind
// discriminator, and its value types.
//
// A single tagged-sum struct is used rather than one Go type per kind: a
// common header with kind-specific payload fields. Here the "header" is
// Title/Kind and the
// "payload" fields (Conditions/Tracks/Children vs. FileName/Path/IncludeFile
// vs. Params) are
// meaningful only for the kinds that use them; callers switch on Kind.
package logic

// Kind discriminates the roles a Node can play in the tree.
type Kind int

const (
	// Bank is the tree root. Exactly one exists per file.
	Bank Kind = iota
	// Node is an interior or leaf Bank/Node-shaped entry. Node and Leaf are
	// distinguished only by whether Children is empty; Kind itself does not
	// separate them because the textual form doesn't either. IsLeaf below
	// exists purely as a query helper.
	Node
	// FileReference names another CAT file by filename/path, with an
	// includeFile flag for whether it is transcluded.
	FileReference
	// Condition gates entry into a Bank/Node; carries an ordered Param list.
	Condition
	// Track describes an effect; carries an ordered Param list.
	Track
	// Param is an (id, name, type, value) tuple belonging to a Condition or
	// Track. A cg-typed Param owns a nested Conditions list (an inline
	// condition group).
	Param
)

func (k Kind) String() string {
	switch k {
	case Bank:
		return "Bank"
	case Node:
		return "Node"
	case FileReference:
		return "FileReference"
	case Condition:
		return "Condition"
	case Track:
		return "Track"
	case Param:
		return "Param"
	default:
		return "Unknown"
	}
}

// ValueType is the display/wire type of a Param's value.
type ValueType int

const (
	// TypeNone marks a Node with no value (structural, not a Param).
	TypeNone ValueType = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeBytes
	TypeString
	// TypeHashedString is a string value stored only as its value-hash; no
	// interning, no recoverable original text.
	TypeHashedString
	// TypeCG is a condition-group parameter: its Value is unused and its
	// Conditions field holds the inline group.
	TypeCG
)

func (t ValueType) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBytes:
		return "bytes"
	case TypeString:
		return "string"
	case TypeHashedString:
		return "hashed_string"
	case TypeCG:
		return "cg"
	default:
		return "none"
	}
}

// LogicNode is the universal intermediate tree node.
type LogicNode struct {
	Kind Kind

	// Title identifies a Bank/Node/Condition/Track/Param. For Bank/Node it
	// is a hash-or-name ("container" title); for Condition/Track/Param it is
	// a hash-or-name ("value" title). See bio.HashTitle/HashValue.
	Title string
	// TitleIsHash is true when Title was not resolved to a human name via a
	// hash dictionary and is instead rendered as a hex literal (decode) or
	// was supplied as one in MACT text (encode).
	TitleIsHash bool
	// TitleHash is the resolved 32-bit hash backing Title, valid whenever
	// TitleIsHash is true or when re-encoding requires recomputing it for
	// comparison.
	TitleHash uint32

	// ParamID is meaningful only for Kind == Param: the logic-unique
	// parameter id. Id 0 conventionally means "this logic's own hash" and is
	// elided from MACT text.
	ParamID int
	// ParamHeaderBits carries the raw 16-bit track-parameter header
	// (more/unk/size bits 0..2 plus the id) as observed on decode. Bit 1's
	// meaning is unknown, so the raw bits are preserved rather than
	// decomposed away; the encoder reuses only bit 1 from it. Zero-value on
	// freshly-authored (MACT-sourced) params.
	ParamHeaderBits uint16

	// Value is the typed value of a Param. For ValueType.String this is the
	// decoded text (without quotes); for Bytes/HashedString it is the raw
	// 4-byte pattern; for Bool/Int it is stored as int64; for Float as
	// float64.
	Value     interface{}
	ValueType ValueType

	// Conditions holds: for Bank/Node, its condition group; for a cg-typed
	// Param, its inline condition group.
	Conditions []*LogicNode
	// Tracks holds a Bank/Node's track list.
	Tracks []*LogicNode
	// Params holds a Condition/Track's ordered parameter list.
	Params []*LogicNode
	// Children holds a Bank/Node's child Bank/Node/FileReference entries.
	Children []*LogicNode

	// FileName/Path/IncludeFile are meaningful only for Kind ==
	// FileReference.
	FileName    string
	Path        string
	IncludeFile bool

	// DebugOffset is the absolute file offset a Bank/Node/Condition/Track
	// was decoded from, used only by the MACT writer's optional "# Pos:"
	// annotations. Zero on freshly-authored (MACT-sourced) nodes.
	DebugOffset uint32

	// HashName is a human name recovered for a bytes-typed Param's raw
	// 4-byte value via HASHES_GENERIC.txt. When set, the MACT writer renders
	// the value as h"name" instead of a raw hex literal; purely a
	// readability aid; re-parsing that rendering recovers a
	// TypeHashedString value whose hash is identical, so it never affects
	// round-trip.
	HashName string
}

// IsLeaf reports whether n is a Node-shaped entry with no children, i.e.
// should be encoded with the 'l' tag rather than 'n'.
func (n *LogicNode) IsLeaf() bool {
	return n.Kind == Node && len(n.Children) == 0
}

// Walk calls fn for n and every descendant reachable through Conditions,
// Tracks, Params, and Children, in that order, pre-order. Conditions
// nested inside cg Params are visited as part of the owning Param's
// Conditions slice.
func Walk(n *LogicNode, fn func(*LogicNode)) {
	if n == nil {
		return
	}
	fn(n)
	for _, c := range n.Conditions {
		Walk(c, fn)
	}
	for _, t := range n.Tracks {
		Walk(t, fn)
	}
	for _, p := range n.Params {
		Walk(p, fn)
	}
	for _, c := range n.Children {
		Walk(c, fn)
	}
}
