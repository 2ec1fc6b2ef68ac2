package catbin

import (
	"encoding/binary"

	"golang.org/x/xerrors"

	"github.com/marcdred/bully-mact-tool/internal/bio"
	"github.com/marcdred/bully-mact-tool/internal/catdb"
	"github.com/marcdred/bully-mact-tool/internal/logic"
	"github.com/marcdred/bully-mact-tool/internal/mact"
)

// ResolveParamIDs fills in the numeric ParamID of every Param lifted from
// MACT text with a symbolic name (mact.UnresolvedParamID), consulting the
// template DB for the owning Condition/Track's title. A param whose name
// is unknown to the template DB is a format error:
// the encoder has no other source for it (unlike decode, where a guess is
// always possible from raw bytes).
func ResolveParamIDs(root *logic.LogicNode, dbctx *catdb.Context) error {
	var err error
	logic.Walk(root, func(n *logic.LogicNode) {
		if err != nil || n.Kind != logic.Condition && n.Kind != logic.Track {
			return
		}
		schema := dbctx.Conditions
		if n.Kind == logic.Track {
			schema = dbctx.Tracks
		}
		for _, p := range n.Params {
			if p.ParamID != mact.UnresolvedParamID {
				continue
			}
			id, ok := schema.ResolveID(n.Title, p.Title)
			if !ok {
				err = xerrors.Errorf("%s %q: parameter %q has no known id (missing from template DB)", n.Kind, n.Title, p.Title)
				return
			}
			p.ParamID = id
		}
	})
	return err
}

// ApplyTemplateTypeOverrides resolves schema mismatches on encode: when a
// param's text-inferred type disagrees with the template DB's declared
// type for (logic title, id), the template DB wins. A warning is logged
// and the value is re-typed to match, converting a string value to its
// value-hash so it is no longer interned. Must run after ResolveParamIDs
// so every param id is known.
func ApplyTemplateTypeOverrides(root *logic.LogicNode, dbctx *catdb.Context) {
	logic.Walk(root, func(n *logic.LogicNode) {
		if n.Kind != logic.Condition && n.Kind != logic.Track {
			return
		}
		schema := dbctx.Conditions
		if n.Kind == logic.Track {
			schema = dbctx.Tracks
		}
		for _, p := range n.Params {
			ps, ok := schema.Lookup(n.Title, p.ParamID)
			if !ok || ps.Type == p.ValueType {
				continue
			}
			dbctx.Log.Printf("warning: %s %q param %q: template DB declares type %s, MACT text implies %s; template DB wins",
				n.Kind, n.Title, p.Title, ps.Type, p.ValueType)
			retypeParam(p, ps.Type)
		}
	})
}

// EnsureHashParams inserts the implicit id-0 "own hash" Param into every
// Condition's and Track's Params list. MACT text never spells this param
// out, so a tree freshly lifted from text is missing it; a tree produced
// by catbin.Decode
// already carries it and is left untouched. Must run after ResolveParamIDs
// (so every other param's id is already numeric) and before Encode.
func EnsureHashParams(root *logic.LogicNode) {
	logic.Walk(root, func(n *logic.LogicNode) {
		if n.Kind != logic.Condition && n.Kind != logic.Track {
			return
		}
		for _, p := range n.Params {
			if p.ParamID == 0 {
				return
			}
		}
		hash := n.TitleHash
		if !n.TitleIsHash {
			hash = bio.HashValue(n.Title)
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, hash)
		hashParam := &logic.LogicNode{
			Kind:      logic.Param,
			ParamID:   0,
			ValueType: logic.TypeBytes,
			Value:     buf,
		}
		n.Params = append([]*logic.LogicNode{hashParam}, n.Params...)
	})
}

// retypeParam converts p's already-parsed value into the 4-byte
// representation schema.Type expects. For a bytes or hashed_string target,
// a string becomes its value-hash (scenario 6), a 4-byte value is kept,
// and any other value becomes 0x00000000. For every other target only
// ValueType changes; Value is not converted, so a Value of the wrong Go
// type is emitted as zero by the encoder.
func retypeParam(p *logic.LogicNode, want logic.ValueType) {
	switch want {
	case logic.TypeBytes, logic.TypeHashedString:
		var h uint32
		switch v := p.Value.(type) {
		case string:
			h = bio.HashValue(v)
		case []byte:
			if len(v) == 4 {
				h = binary.LittleEndian.Uint32(v)
			}
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, h)
		p.Value = buf
	}
	p.ValueType = want
}
