package catbin

import (
	"encoding/binary"
	"io"
	"sort"

	"golang.org/x/xerrors"

	"github.com/marcdred/bully-mact-tool/internal/bio"
	"github.com/marcdred/bully-mact-tool/internal/catdb"
	"github.com/marcdred/bully-mact-tool/internal/logic"
)

// varEntry is a string-variable or group-variable table entry: base is
// the string_offset/group_offset (relative to
// p_strings/p_groups), holes are the param-data holes (relative to p_data)
// that must receive base's resolved pool/group offset.
type varEntry struct {
	base  uint32
	holes []uint32
}

// rawNode is the as-decoded node tree record, before its
// condition/track offsets are resolved into logic.LogicNode subtrees.
type rawNode struct {
	tag          tagByte
	hash         uint32
	offset       uint32 // absolute file offset this record started at
	condOffsets  []uint32
	trackOffsets []uint32
	children     []*rawNode
	fileOffset   uint32
	pathOffset   uint32
}

// rawParam is one slot of a condition or track parameter blob prior to
// typing.
type rawParam struct {
	id         int
	headerBits uint16
	value      []byte
}

// trackState holds one track's raw and (after unoptimization) expanded
// parameter list, addressed by its p_data-relative offset so opti_offset
// chains resolve without pointer cycles.
type trackState struct {
	offset     uint32
	optiOffset uint16
	raw        []rawParam
	params     []rawParam
	resolving  bool
	resolved   bool
}

// Decode parses a complete CAT binary file into a File, resolving
// parameter types, rehydrating interned strings and condition groups, and
// un-optimizing tracks into self-contained parameter lists.
func Decode(r io.ReaderAt, dbctx *catdb.Context) (*File, error) {
	br := bio.NewReader(r)

	h, err := readHeader(br)
	if err != nil {
		return nil, xerrors.Errorf("reading header: %w", err)
	}

	stringVars, err := readVarTable(br)
	if err != nil {
		return nil, xerrors.Errorf("reading string-variable table: %w", err)
	}
	groupVars, err := readVarTable(br)
	if err != nil {
		return nil, xerrors.Errorf("reading group-variable table: %w", err)
	}

	root, err := decodeNodeRecord(br)
	if err != nil {
		return nil, xerrors.Errorf("reading node tree: %w", err)
	}
	if root.tag != tagBank {
		return nil, xerrors.Errorf("root node tree record has tag %q, want 'b'", root.tag)
	}

	br.Seek(int64(h.PGroups))
	vcgConditions := make([][]uint32, len(groupVars))
	for i := range groupVars {
		n, err := br.U8()
		if err != nil {
			return nil, xerrors.Errorf("reading variable condition group %d: %w", i, err)
		}
		offs := make([]uint32, n)
		for j := range offs {
			offs[j], err = br.U32()
			if err != nil {
				return nil, xerrors.Errorf("reading variable condition group %d condition %d: %w", i, j, err)
			}
		}
		vcgConditions[i] = offs
	}

	stringHoles := map[uint32]int{}
	for i, v := range stringVars {
		for _, off := range v.holes {
			stringHoles[off] = i
		}
	}
	groupHoles := map[uint32]int{}
	for i, v := range groupVars {
		for _, off := range v.holes {
			groupHoles[off] = i
		}
	}

	condOffsetSet := map[uint32]bool{}
	trackOffsetSet := map[uint32]bool{}
	var walkRaw func(n *rawNode)
	walkRaw = func(n *rawNode) {
		for _, o := range n.condOffsets {
			condOffsetSet[o] = true
		}
		for _, o := range n.trackOffsets {
			trackOffsetSet[o] = true
		}
		for _, c := range n.children {
			walkRaw(c)
		}
	}
	walkRaw(root)
	for _, offs := range vcgConditions {
		for _, o := range offs {
			condOffsetSet[o] = true
		}
	}

	condOffsets := sortedKeys(condOffsetSet)
	trackOffsets := sortedKeys(trackOffsetSet)

	// Condition blobs carry no length of their own; the decoder derives
	// slot counts from the sorted adjacency of condition start offsets.
	conditions := map[uint32]*logic.LogicNode{}
	condParamRaw := map[uint32][]rawParam{}
	for i, off := range condOffsets {
		var boundary uint32
		if i+1 < len(condOffsets) {
			boundary = condOffsets[i+1]
		} else if len(trackOffsets) > 0 {
			boundary = trackOffsets[0]
		} else {
			boundary = h.PStrings - h.PData
		}
		slots := int(boundary-off) / 4
		if slots < 1 {
			return nil, xerrors.Errorf("condition at data-offset %#x has non-positive slot count %d", off, slots)
		}
		br.Seek(int64(h.PData) + int64(off))
		params := make([]rawParam, slots)
		for s := 0; s < slots; s++ {
			v, err := br.Bytes(4)
			if err != nil {
				return nil, xerrors.Errorf("reading condition slot %d at data-offset %#x: %w", s, off, err)
			}
			params[s] = rawParam{id: s, value: v}
		}
		condParamRaw[off] = params
	}

	tracks := map[uint32]*trackState{}
	for _, off := range trackOffsets {
		br.Seek(int64(h.PData) + int64(off))
		opti, err := br.U16()
		if err != nil {
			return nil, xerrors.Errorf("reading track opti_offset at data-offset %#x: %w", off, err)
		}
		var params []rawParam
		for {
			hdr, err := br.U16()
			if err != nil {
				return nil, xerrors.Errorf("reading track param header at data-offset %#x: %w", off, err)
			}
			more := bio.GetBits(uint32(hdr), 0, 1)
			size := bio.GetBits(uint32(hdr), 2, 3)
			id := bio.GetBits(uint32(hdr), 3, 16)
			n := 1
			if size == 1 {
				n = 4
			}
			v, err := br.Bytes(n)
			if err != nil {
				return nil, xerrors.Errorf("reading track param value at data-offset %#x: %w", off, err)
			}
			params = append(params, rawParam{id: int(id), headerBits: hdr, value: v})
			if more == 0 {
				break
			}
		}
		tracks[off] = &trackState{offset: off, optiOffset: opti, raw: params}
	}
	for _, ts := range tracks {
		if err := unoptimizeTrack(ts, tracks); err != nil {
			return nil, xerrors.Errorf("un-optimizing track at data-offset %#x: %w", ts.offset, err)
		}
	}

	readPoolString := func(poolOffset uint32) (string, error) {
		br.Seek(int64(h.PStrings) + int64(poolOffset))
		return br.ReadString()
	}

	// Track param slot offsets aren't simply baseOffset+i*4 (headers and
	// 1-byte values vary the stride), so each track param's p_data-relative
	// value offset is recomputed here by re-walking its raw params with the
	// header's size bit. Condition slots are plain baseOffset+i*4. The
	// typed-param construction below looks these offsets up.
	condParamOffset := map[uint32]map[int]uint32{}
	for off, params := range condParamRaw {
		m := map[int]uint32{}
		for i := range params {
			m[i] = off + uint32(i)*4
		}
		condParamOffset[off] = m
	}
	trackParamOffset := map[uint32]map[int]uint32{}
	for off, ts := range tracks {
		cursor := int64(h.PData) + int64(off) + 2 // past opti_offset
		m := map[int]uint32{}
		for _, rp := range ts.raw {
			cursor += 2 // past this param's header; cursor now at the value hole
			m[rp.id] = uint32(cursor) - h.PData
			n := int64(1)
			if rp.headerBits&0x4 != 0 {
				n = 4
			}
			cursor += n
		}
		trackParamOffset[off] = m
	}

	var makeCondition func(off uint32) (*logic.LogicNode, error)
	makeCondition = func(off uint32) (*logic.LogicNode, error) {
		if n, ok := conditions[off]; ok {
			return n, nil
		}
		raw := condParamRaw[off]
		if len(raw) == 0 {
			return nil, xerrors.Errorf("condition at data-offset %#x has no slots", off)
		}
		hash := binary.LittleEndian.Uint32(raw[0].value)
		title, isHash := dbctx.LogicHashes.Name(hash)
		if !isHash {
			title = bio.FormatHash(hash)
		}
		schema := dbctx.Conditions
		offs := condParamOffset[off]
		params := make([]*logic.LogicNode, len(raw))
		for i, rp := range raw {
			slotAbs := offs[i]
			_, isString := stringHoles[slotAbs]
			_, isCG := groupHoles[slotAbs]
			t := resolveType(isString, isCG, false, false, schema, title, rp.id, rp.value)
			p := &logic.LogicNode{Kind: logic.Param, ParamID: rp.id, ValueType: t}
			if err := fillParamValue(p, t, rp.value, isString, isCG, stringHoles, groupHoles, slotAbs, stringVars, groupVars, vcgConditions, readPoolString, makeCondition, dbctx.GenericHashes); err != nil {
				return nil, err
			}
			if ps, ok := schema.Lookup(title, rp.id); ok {
				p.Title = ps.Name
			} else {
				p.Title = syntheticParamName(rp.id)
			}
			params[i] = p
		}
		node := &logic.LogicNode{
			Kind:        logic.Condition,
			Title:       title,
			TitleIsHash: !isHash,
			TitleHash:   hash,
			Params:      params,
			DebugOffset: h.PData + off,
		}
		conditions[off] = node
		return node, nil
	}

	trackNodes := map[uint32]*logic.LogicNode{}
	makeTrack := func(off uint32) (*logic.LogicNode, error) {
		if n, ok := trackNodes[off]; ok {
			return n, nil
		}
		ts := tracks[off]
		if ts == nil || len(ts.params) == 0 {
			return nil, xerrors.Errorf("track at data-offset %#x has no params", off)
		}
		var hashParam *rawParam
		for i := range ts.params {
			if ts.params[i].id == 0 {
				hashParam = &ts.params[i]
			}
		}
		if hashParam == nil || len(hashParam.value) != 4 {
			return nil, xerrors.Errorf("track at data-offset %#x has no 4-byte hash param (id 0)", off)
		}
		hash := binary.LittleEndian.Uint32(hashParam.value)
		title, isHash := dbctx.LogicHashes.Name(hash)
		if !isHash {
			title = bio.FormatHash(hash)
		}
		schema := dbctx.Tracks
		offs := trackParamOffset[off]
		params := make([]*logic.LogicNode, len(ts.params))
		for i, rp := range ts.params {
			// A param inherited through un-optimization never had its own
			// hole in this track's blob, so it can't be string/cg typed
			// here; only a param read directly from this track's own
			// bytes can carry variable-table evidence.
			slotAbs, known := offs[rp.id]
			isString, isCG := false, false
			if known {
				_, isString = stringHoles[slotAbs]
				_, isCG = groupHoles[slotAbs]
			}
			sizeBit := rp.headerBits&0x4 != 0
			t := resolveType(isString, isCG, true, sizeBit, schema, title, rp.id, rp.value)
			p := &logic.LogicNode{Kind: logic.Param, ParamID: rp.id, ValueType: t, ParamHeaderBits: rp.headerBits}
			if err := fillParamValue(p, t, rp.value, isString, isCG, stringHoles, groupHoles, slotAbs, stringVars, groupVars, vcgConditions, readPoolString, makeCondition, dbctx.GenericHashes); err != nil {
				return nil, err
			}
			if ps, ok := schema.Lookup(title, rp.id); ok {
				p.Title = ps.Name
			} else {
				p.Title = syntheticParamName(rp.id)
			}
			params[i] = p
		}
		node := &logic.LogicNode{
			Kind:        logic.Track,
			Title:       title,
			TitleIsHash: !isHash,
			TitleHash:   hash,
			Params:      params,
			DebugOffset: h.PData + off,
		}
		trackNodes[off] = node
		return node, nil
	}

	var buildTree func(raw *rawNode) (*logic.LogicNode, error)
	buildTree = func(raw *rawNode) (*logic.LogicNode, error) {
		switch raw.tag {
		case tagFileReference, tagInclude:
			name, err := readPoolString(raw.fileOffset)
			if err != nil {
				return nil, xerrors.Errorf("reading FileReference filename: %w", err)
			}
			path, err := readPoolString(raw.pathOffset)
			if err != nil {
				return nil, xerrors.Errorf("reading FileReference path: %w", err)
			}
			return &logic.LogicNode{
				Kind:        logic.FileReference,
				FileName:    name,
				Path:        path,
				IncludeFile: raw.tag == tagInclude,
			}, nil
		}

		title, isHash := dbctx.TitleHashes.Name(raw.hash)
		if !isHash {
			title = bio.FormatHash(raw.hash)
		}
		node := &logic.LogicNode{
			Kind:        logic.Node,
			Title:       title,
			TitleIsHash: !isHash,
			TitleHash:   raw.hash,
			DebugOffset: raw.offset,
		}
		if raw.tag == tagBank {
			node.Kind = logic.Bank
		}
		for _, off := range raw.condOffsets {
			c, err := makeCondition(off)
			if err != nil {
				return nil, err
			}
			node.Conditions = append(node.Conditions, c)
		}
		for _, off := range raw.trackOffsets {
			t, err := makeTrack(off)
			if err != nil {
				return nil, err
			}
			node.Tracks = append(node.Tracks, t)
		}
		for _, c := range raw.children {
			cn, err := buildTree(c)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, cn)
		}
		return node, nil
	}

	rootNode, err := buildTree(root)
	if err != nil {
		return nil, xerrors.Errorf("building logic tree: %w", err)
	}

	order := &File{Root: rootNode}
	seenStrings := map[string]bool{}
	for _, v := range stringVars {
		s, err := readPoolString(v.base)
		if err != nil {
			return nil, xerrors.Errorf("reading pooled string at %#x: %w", v.base, err)
		}
		if !seenStrings[s] {
			seenStrings[s] = true
			order.StringOrder = append(order.StringOrder, s)
		}
	}
	return order, nil
}

func readHeader(r *bio.Reader) (header, error) {
	var h header
	fields := []*uint32{&h.FileLength, &h.PData, &h.PStrings, &h.PGroups, &h.CounterA, &h.CounterB, &h.CounterC, &h.CounterD}
	for _, f := range fields {
		v, err := r.U32()
		if err != nil {
			return header{}, err
		}
		*f = v
	}
	return h, nil
}

func readVarTable(r *bio.Reader) ([]varEntry, error) {
	count, err := r.U32()
	if err != nil {
		return nil, err
	}
	out := make([]varEntry, count)
	for i := range out {
		base, err := r.U32()
		if err != nil {
			return nil, xerrors.Errorf("entry %d base: %w", i, err)
		}
		n, err := r.U16()
		if err != nil {
			return nil, xerrors.Errorf("entry %d count: %w", i, err)
		}
		holes := make([]uint32, n)
		for j := range holes {
			holes[j], err = r.U32()
			if err != nil {
				return nil, xerrors.Errorf("entry %d hole %d: %w", i, j, err)
			}
		}
		out[i] = varEntry{base: base, holes: holes}
	}
	return out, nil
}

func decodeNodeRecord(r *bio.Reader) (*rawNode, error) {
	start := r.Pos()
	tb, err := r.U8()
	if err != nil {
		return nil, err
	}
	tag := tagByte(tb)
	n := &rawNode{tag: tag, offset: uint32(start)}

	switch tag {
	case tagFileReference, tagInclude:
		n.fileOffset, err = r.U32()
		if err != nil {
			return nil, err
		}
		n.pathOffset, err = r.U32()
		if err != nil {
			return nil, err
		}
		return n, nil
	case tagBank, tagNode, tagLeaf:
		n.hash, err = r.U32()
		if err != nil {
			return nil, err
		}
		n.condOffsets, err = readU32Array8(r)
		if err != nil {
			return nil, xerrors.Errorf("condition offsets: %w", err)
		}
		if tag != tagBank {
			n.trackOffsets, err = readU32Array8(r)
			if err != nil {
				return nil, xerrors.Errorf("track offsets: %w", err)
			}
		}
		if tag == tagLeaf {
			return n, nil
		}
		nChildren, err := r.U16()
		if err != nil {
			return nil, err
		}
		for i := uint16(0); i < nChildren; i++ {
			c, err := decodeNodeRecord(r)
			if err != nil {
				return nil, xerrors.Errorf("child %d: %w", i, err)
			}
			n.children = append(n.children, c)
		}
		return n, nil
	default:
		return nil, xerrors.Errorf("unrecognized node tag %q at offset %#x", tb, start)
	}
}

// readU32Array8 reads a U8 count followed by that many U32 values, the
// shape shared by condition_offsets and track_offsets.
func readU32Array8(r *bio.Reader) ([]uint32, error) {
	n, err := r.U8()
	if err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	for i := range out {
		out[i], err = r.U32()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func sortedKeys(set map[uint32]bool) []uint32 {
	out := make([]uint32, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func syntheticParamName(id int) string {
	return bracketName(id)
}

// fillParamValue fills p.Value from raw according to t, resolving pooled
// strings and nested condition groups as needed.
func fillParamValue(
	p *logic.LogicNode,
	t logic.ValueType,
	raw []byte,
	isString, isCG bool,
	stringHoles map[uint32]int,
	groupHoles map[uint32]int,
	slotAbs uint32,
	stringVars []varEntry,
	groupVars []varEntry,
	vcgConditions [][]uint32,
	readPoolString func(uint32) (string, error),
	makeCondition func(uint32) (*logic.LogicNode, error),
	generic catdb.HashDict,
) error {
	switch {
	case isString && t == logic.TypeString:
		idx := stringHoles[slotAbs]
		s, err := readPoolString(stringVars[idx].base)
		if err != nil {
			return xerrors.Errorf("resolving string param: %w", err)
		}
		p.Value = s
		return nil
	case isCG && t == logic.TypeCG:
		idx := groupHoles[slotAbs]
		for _, off := range vcgConditions[idx] {
			c, err := makeCondition(off)
			if err != nil {
				return err
			}
			p.Conditions = append(p.Conditions, c)
		}
		return nil
	default:
		p.Value = decodeValue(t, raw)
		// A bytes-typed value whose 4 bytes match a known
		// HASHES_GENERIC.txt entry gets a readable h"name" rendering
		// hint; purely additional, never required for round-trip since
		// the raw bytes are preserved regardless.
		if t == logic.TypeBytes && len(raw) == 4 {
			if name, ok := generic.Name(binary.LittleEndian.Uint32(raw)); ok {
				p.HashName = name
			}
		}
		return nil
	}
}
