package catbin

import (
	"math"
	"sort"

	"golang.org/x/xerrors"

	"github.com/marcdred/bully-mact-tool/internal/bio"
	"github.com/marcdred/bully-mact-tool/internal/catdb"
	"github.com/marcdred/bully-mact-tool/internal/logic"
)

// Options configures an Encode pass.
type Options struct {
	// Optimize enables track parameter optimization (CLI --PO).
	Optimize bool
	// QuickMode restricts optimization donors to tracks whose title hash
	// matches. The zero value is false (slow mode); the bmact CLI sets it
	// unless -slow-optimize is given, since no observed corpus benefits
	// from slow mode.
	QuickMode bool
}

// refFixup is a deferred patch for a FileReference's filename/path holes,
// resolved once the reference pool position for Text is known. Multiple
// HolePositions exist when a node's filename and path are textually
// identical; dedup is per node, so emission order is preserved across
// nodes.
type refFixup struct {
	HolePositions []int64
	Text          string
}

// Encode renders a logic tree into a complete CAT binary file, performing
// string/group interning, the two-pass offset fix-up, and (optionally)
// track parameter optimization.
func Encode(f *File, dbctx *catdb.Context, opts Options) ([]byte, error) {
	d := discover(f.Root)
	d.reorderStrings(f.StringOrder)

	w := bio.NewWriter()
	for i := 0; i < 8; i++ {
		w.U32(0)
	}

	sleepingStrings, strIndex := emitStringTable(w, d)
	sleepingGroups, groupByParam := emitGroupTable(w, d)

	sleepingLogic := map[*logic.LogicNode]*SleepingLogic{}
	for _, c := range d.conditions {
		sleepingLogic[c] = &SleepingLogic{Node: c}
	}
	for _, t := range d.tracks {
		sleepingLogic[t] = &SleepingLogic{Node: t}
	}

	var refFixups []refFixup
	if err := emitTree(w, f.Root, sleepingLogic, &refFixups); err != nil {
		return nil, xerrors.Errorf("emitting node tree: %w", err)
	}

	pGroups := w.Len()
	for _, sg := range sleepingGroups {
		recordStart := w.Len()
		w.PutU32At(sg.GroupSlot, uint32(recordStart-pGroups))
		w.U8(uint8(len(sg.Conditions)))
		for _, c := range sg.Conditions {
			hole := w.Len()
			w.U32(0)
			sg.ConditionSlots = append(sg.ConditionSlots, hole)
			sl, ok := sleepingLogic[c]
			if !ok {
				return nil, xerrors.Errorf("condition group references unregistered condition")
			}
			sl.HolePositions = append(sl.HolePositions, hole)
		}
	}

	pData := w.Len()
	offsetOf := map[*logic.LogicNode]int64{}

	for _, c := range d.conditions {
		sl := sleepingLogic[c]
		start := w.Len()
		offsetOf[c] = start
		for _, hp := range sl.HolePositions {
			w.PutU32At(hp, uint32(start-pData))
		}
		for _, p := range c.Params {
			if err := emitParamValue(w, p, dbctx, strIndex, groupByParam, 4); err != nil {
				return nil, xerrors.Errorf("condition %s: %w", c.Title, err)
			}
		}
	}

	var plans map[*logic.LogicNode]*trackPlan
	if opts.Optimize {
		plans = computeOptimization(d.tracks, opts.QuickMode)
	}
	var optiFixups []optiFixup
	for _, t := range d.tracks {
		sl := sleepingLogic[t]
		start := w.Len()
		offsetOf[t] = start
		for _, hp := range sl.HolePositions {
			w.PutU32At(hp, uint32(start-pData))
		}

		optiHole := w.Len()
		w.U16(0)

		plan := plans[t]
		kept := t.Params
		if plan != nil {
			kept = nil
			for _, p := range t.Params {
				if !plan.SkipIDs[p.ParamID] {
					kept = append(kept, p)
				}
			}
			optiFixups = append(optiFixups, optiFixup{HolePos: optiHole, TrackStart: start, Target: plan.Target})
		}
		sort.Slice(kept, func(i, j int) bool { return kept[i].ParamID < kept[j].ParamID })

		for i, p := range kept {
			more := uint16(0)
			if i+1 < len(kept) {
				more = 1
			}
			size := uint16(1)
			if p.ValueType == logic.TypeBool {
				size = 0
			}
			unk := bio.GetBits(uint32(p.ParamHeaderBits), 1, 2)
			hdr := more | (uint16(unk) << 1) | (size << 2) | ((uint16(p.ParamID) & 0x1FFF) << 3)
			w.U16(hdr)
			nbytes := 4
			if size == 0 {
				nbytes = 1
			}
			if err := emitParamValue(w, p, dbctx, strIndex, groupByParam, nbytes); err != nil {
				return nil, xerrors.Errorf("track %s: %w", t.Title, err)
			}
		}
	}

	for _, of := range optiFixups {
		targetOff, ok := offsetOf[of.Target]
		if !ok {
			return nil, xerrors.Errorf("optimization target not yet emitted")
		}
		delta := targetOff - of.TrackStart
		if delta < math.MinInt16 || delta > math.MaxInt16 {
			return nil, xerrors.Errorf("opti_offset distance %d exceeds signed 16-bit range", delta)
		}
		w.PutU16At(of.HolePos, uint16(int16(delta)))
	}

	for _, sg := range sleepingGroups {
		w.PutU32At(sg.ParamSlot, uint32(sg.ParamOffset-pData))
	}

	pStrings := w.Len()
	for _, ss := range sleepingStrings {
		pos := w.Len()
		w.PutU32At(ss.StringSlot, uint32(pos-pStrings))
		for i, slot := range ss.ParamSlots {
			if i < len(ss.ParamOffsets) {
				w.PutU32At(slot, uint32(ss.ParamOffsets[i]-pData))
			} else {
				dbctx.Log.Printf("warning: string %q has an unfilled parameter slot, writing 0", ss.Text)
			}
		}
		w.CString(ss.Text)
	}
	for _, rf := range refFixups {
		pos := w.Len()
		for _, hp := range rf.HolePositions {
			w.PutU32At(hp, uint32(pos-pStrings))
		}
		w.CString(rf.Text)
	}

	finalLen := roundUp(w.Len(), padBoundary)

	var counterA, counterB, counterC, counterD uint32
	logic.Walk(f.Root, func(n *logic.LogicNode) {
		switch n.Kind {
		case logic.Bank:
			counterA++
		case logic.Node:
			counterB++
			if n.IsLeaf() {
				counterD++
			}
		case logic.FileReference:
			counterC++
		}
	})
	if counterA == 0 {
		return nil, xerrors.Errorf("tree has no Bank root")
	}

	w.PutU32At(0, uint32(finalLen))
	w.PutU32At(4, uint32(pData))
	w.PutU32At(8, uint32(pStrings))
	w.PutU32At(12, uint32(pGroups))
	w.PutU32At(16, counterA-bankCountBias)
	w.PutU32At(20, counterB)
	w.PutU32At(24, counterC)
	w.PutU32At(28, counterD)

	w.PadTo(padBoundary)
	return w.Bytes(), nil
}

func roundUp(n, boundary int64) int64 {
	if rem := n % boundary; rem != 0 {
		return n + (boundary - rem)
	}
	return n
}

// discovery collects, in tree-walk order, every distinct interned string,
// inline condition-group param, condition, and track reachable from root:
// the information the encoder's variable tables and sleeper registries
// must know before a single byte is written.
type discovery struct {
	stringOrder  []string
	stringUsers  map[string][]*logic.LogicNode
	groupParams  []*logic.LogicNode
	conditions   []*logic.LogicNode
	conditionSet map[*logic.LogicNode]bool
	tracks       []*logic.LogicNode
	trackSet     map[*logic.LogicNode]bool
}

func discover(root *logic.LogicNode) *discovery {
	d := &discovery{
		stringUsers:  map[string][]*logic.LogicNode{},
		conditionSet: map[*logic.LogicNode]bool{},
		trackSet:     map[*logic.LogicNode]bool{},
	}

	var visitParams func(params []*logic.LogicNode)
	var visitCondition func(c *logic.LogicNode)
	var visitTrack func(t *logic.LogicNode)

	visitParams = func(params []*logic.LogicNode) {
		for _, p := range params {
			switch p.ValueType {
			case logic.TypeString:
				s, _ := p.Value.(string)
				if _, seen := d.stringUsers[s]; !seen {
					d.stringOrder = append(d.stringOrder, s)
				}
				d.stringUsers[s] = append(d.stringUsers[s], p)
			case logic.TypeCG:
				if len(p.Conditions) > 0 {
					d.groupParams = append(d.groupParams, p)
					for _, c := range p.Conditions {
						visitCondition(c)
					}
				}
			}
		}
	}
	visitCondition = func(c *logic.LogicNode) {
		if d.conditionSet[c] {
			return
		}
		d.conditionSet[c] = true
		d.conditions = append(d.conditions, c)
		visitParams(c.Params)
	}
	visitTrack = func(t *logic.LogicNode) {
		if d.trackSet[t] {
			return
		}
		d.trackSet[t] = true
		d.tracks = append(d.tracks, t)
		visitParams(t.Params)
	}

	var visit func(n *logic.LogicNode)
	visit = func(n *logic.LogicNode) {
		for _, c := range n.Conditions {
			visitCondition(c)
		}
		for _, t := range n.Tracks {
			visitTrack(t)
		}
		for _, c := range n.Children {
			if c.Kind != logic.FileReference {
				visit(c)
			}
		}
	}
	visit(root)
	return d
}

// reorderStrings re-interns d.stringOrder to follow a previously decoded
// file's string-table order, so a decode/encode round trip reproduces the
// original table byte-for-byte. Strings named by order come first, in that
// order, when the tree still uses them; strings the tree uses but order
// doesn't name keep their tree-walk position after them. A nil order (a
// MACT-authored tree) leaves the tree-walk order untouched.
func (d *discovery) reorderStrings(order []string) {
	if len(order) == 0 {
		return
	}
	placed := map[string]bool{}
	merged := make([]string, 0, len(d.stringOrder))
	for _, s := range order {
		if _, used := d.stringUsers[s]; used && !placed[s] {
			placed[s] = true
			merged = append(merged, s)
		}
	}
	for _, s := range d.stringOrder {
		if !placed[s] {
			placed[s] = true
			merged = append(merged, s)
		}
	}
	d.stringOrder = merged
}

func emitStringTable(w *bio.Writer, d *discovery) ([]*SleepingString, map[string]*SleepingString) {
	w.U32(uint32(len(d.stringOrder)))
	out := make([]*SleepingString, len(d.stringOrder))
	index := map[string]*SleepingString{}
	for i, text := range d.stringOrder {
		ss := &SleepingString{Text: text}
		ss.StringSlot = w.Len()
		w.U32(0)
		users := d.stringUsers[text]
		w.U16(uint16(len(users)))
		for range users {
			ss.ParamSlots = append(ss.ParamSlots, w.Len())
			w.U32(0)
		}
		out[i] = ss
		index[text] = ss
	}
	return out, index
}

func emitGroupTable(w *bio.Writer, d *discovery) ([]*SleepingGroup, map[*logic.LogicNode]*SleepingGroup) {
	w.U32(uint32(len(d.groupParams)))
	out := make([]*SleepingGroup, len(d.groupParams))
	index := map[*logic.LogicNode]*SleepingGroup{}
	for i, gp := range d.groupParams {
		sg := &SleepingGroup{Param: gp, Conditions: gp.Conditions}
		sg.GroupSlot = w.Len()
		w.U32(0)
		w.U16(1)
		sg.ParamSlot = w.Len()
		w.U32(0)
		out[i] = sg
		index[gp] = sg
	}
	return out, index
}

func emitTree(w *bio.Writer, n *logic.LogicNode, sleepingLogic map[*logic.LogicNode]*SleepingLogic, refFixups *[]refFixup) error {
	if n.Kind == logic.FileReference {
		tag := tagFileReference
		if n.IncludeFile {
			tag = tagInclude
		}
		w.U8(uint8(tag))
		fileHole := w.Len()
		w.U32(0)
		pathHole := w.Len()
		w.U32(0)
		if n.Path == n.FileName {
			*refFixups = append(*refFixups, refFixup{HolePositions: []int64{fileHole, pathHole}, Text: n.FileName})
		} else {
			*refFixups = append(*refFixups, refFixup{HolePositions: []int64{fileHole}, Text: n.FileName})
			*refFixups = append(*refFixups, refFixup{HolePositions: []int64{pathHole}, Text: n.Path})
		}
		return nil
	}

	tag := tagNode
	switch {
	case n.Kind == logic.Bank:
		tag = tagBank
	case n.IsLeaf():
		tag = tagLeaf
	}
	w.U8(uint8(tag))
	hash := n.TitleHash
	if !n.TitleIsHash {
		hash = bio.HashTitle(n.Title)
	}
	w.U32(hash)

	w.U8(uint8(len(n.Conditions)))
	for _, c := range n.Conditions {
		hole := w.Len()
		w.U32(0)
		sl, ok := sleepingLogic[c]
		if !ok {
			return xerrors.Errorf("node %s references an unregistered condition", n.Title)
		}
		sl.HolePositions = append(sl.HolePositions, hole)
	}

	if tag != tagBank {
		w.U8(uint8(len(n.Tracks)))
		for _, t := range n.Tracks {
			hole := w.Len()
			w.U32(0)
			sl, ok := sleepingLogic[t]
			if !ok {
				return xerrors.Errorf("node %s references an unregistered track", n.Title)
			}
			sl.HolePositions = append(sl.HolePositions, hole)
		}
	}

	if tag == tagLeaf {
		return nil
	}

	w.U16(uint16(len(n.Children)))
	for _, c := range n.Children {
		if err := emitTree(w, c, sleepingLogic, refFixups); err != nil {
			return err
		}
	}
	return nil
}

func emitParamValue(w *bio.Writer, p *logic.LogicNode, dbctx *catdb.Context, strIndex map[string]*SleepingString, groupByParam map[*logic.LogicNode]*SleepingGroup, nbytes int) error {
	writeZero := func() {
		if nbytes == 1 {
			w.U8(0)
		} else {
			w.U32(0)
		}
	}
	writeU32 := func(v uint32) {
		if nbytes == 1 {
			w.U8(uint8(v))
		} else {
			w.U32(v)
		}
	}

	switch p.ValueType {
	case logic.TypeString:
		s, _ := p.Value.(string)
		ss := strIndex[s]
		if ss != nil && len(ss.ParamOffsets) < len(ss.ParamSlots) {
			ss.ParamOffsets = append(ss.ParamOffsets, w.Len())
			writeZero()
			return nil
		}
		dbctx.Log.Printf("warning: string param %q could not be interned, writing its value hash instead", s)
		writeU32(bio.HashValue(s))
		return nil
	case logic.TypeCG:
		if len(p.Conditions) == 0 {
			writeZero()
			return nil
		}
		sg, ok := groupByParam[p]
		if !ok {
			return xerrors.Errorf("cg param has conditions but is not registered")
		}
		sg.ParamOffset = w.Len()
		writeZero()
		return nil
	case logic.TypeHashedString, logic.TypeBytes:
		raw, _ := p.Value.([]byte)
		full := make([]byte, 4)
		copy(full, raw)
		if nbytes == 1 {
			w.U8(full[0])
		} else {
			w.Raw(full)
		}
		return nil
	case logic.TypeBool:
		v, _ := p.Value.(int64)
		b := uint32(0)
		if v != 0 {
			b = 1
		}
		writeU32(b)
		return nil
	case logic.TypeInt:
		v, _ := p.Value.(int64)
		writeU32(uint32(int32(v)))
		return nil
	case logic.TypeFloat:
		v, _ := p.Value.(float64)
		writeU32(math.Float32bits(float32(v)))
		return nil
	default:
		writeZero()
		return nil
	}
}
