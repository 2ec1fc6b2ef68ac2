package catbin

import (
	"sort"

	"golang.org/x/xerrors"

	"github.com/marcdred/bully-mact-tool/internal/bio"
	"github.com/marcdred/bully-mact-tool/internal/logic"
)

// trackPlan is the optimizer's decision for one track: which param ids to
// omit because Target's un-optimization will restore them.
type trackPlan struct {
	SkipIDs map[int]bool
	Target  *logic.LogicNode
}

// computeOptimization implements the track delta-reuse search: for each
// track, the best later track sharing its full id set and the most
// identical non-cg (id, value) pairs becomes its donor. Quick mode
// additionally requires the donor's title hash to match; it is the
// default, since no observed corpus benefits from slow mode.
func computeOptimization(tracks []*logic.LogicNode, quick bool) map[*logic.LogicNode]*trackPlan {
	plans := map[*logic.LogicNode]*trackPlan{}
	for i, a := range tracks {
		aIDs := idSet(a)
		var best *logic.LogicNode
		bestScore := 0
		for j := i + 1; j < len(tracks); j++ {
			b := tracks[j]
			if quick && trackHash(a) != trackHash(b) {
				continue
			}
			if !sameIDSet(aIDs, idSet(b)) {
				continue
			}
			score := identicalParamCount(a, b)
			if score > bestScore {
				bestScore = score
				best = b
			}
		}
		if best == nil {
			continue
		}
		skip := map[int]bool{}
		for _, p := range a.Params {
			if p.ValueType == logic.TypeCG {
				continue
			}
			if bp := findParamByID(best, p.ParamID); bp != nil && paramValuesEqual(p, bp) {
				skip[p.ParamID] = true
			}
		}
		if len(skip) == 0 {
			continue
		}
		plans[a] = &trackPlan{SkipIDs: skip, Target: best}
	}
	return plans
}

func trackHash(t *logic.LogicNode) uint32 {
	if t.TitleIsHash {
		return t.TitleHash
	}
	return bio.HashValue(t.Title)
}

func idSet(t *logic.LogicNode) map[int]bool {
	s := map[int]bool{}
	for _, p := range t.Params {
		s[p.ParamID] = true
	}
	return s
}

func sameIDSet(a, b map[int]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if !b[id] {
			return false
		}
	}
	return true
}

func findParamByID(t *logic.LogicNode, id int) *logic.LogicNode {
	for _, p := range t.Params {
		if p.ParamID == id {
			return p
		}
	}
	return nil
}

func identicalParamCount(a, b *logic.LogicNode) int {
	n := 0
	for _, p := range a.Params {
		if p.ValueType == logic.TypeCG {
			continue
		}
		if bp := findParamByID(b, p.ParamID); bp != nil && paramValuesEqual(p, bp) {
			n++
		}
	}
	return n
}

func paramValuesEqual(a, b *logic.LogicNode) bool {
	if a.ValueType != b.ValueType {
		return false
	}
	switch a.ValueType {
	case logic.TypeBytes, logic.TypeHashedString:
		ab, _ := a.Value.([]byte)
		bb, _ := b.Value.([]byte)
		if len(ab) != len(bb) {
			return false
		}
		for i := range ab {
			if ab[i] != bb[i] {
				return false
			}
		}
		return true
	default:
		return a.Value == b.Value
	}
}

// unoptimizeTrack expands ts in place into a self-contained, id-sorted
// parameter list by following its opti_offset donor chain: ids
// present in the donor but not in ts are adopted, ts's own values always
// win, and chains recurse through the donor's own opti_offset.
func unoptimizeTrack(ts *trackState, all map[uint32]*trackState) error {
	if ts.resolved {
		return nil
	}
	if ts.resolving {
		return xerrors.Errorf("optimization cycle detected at data-offset %#x", ts.offset)
	}
	ts.resolving = true
	defer func() { ts.resolving = false }()

	params := append([]rawParam(nil), ts.raw...)
	if ts.optiOffset != 0 {
		// opti_offset is a signed 16-bit delta, even though the optimizer
		// only ever picks later donors in practice.
		targetOffset := uint32(int32(ts.offset) + int32(int16(ts.optiOffset)))
		target, ok := all[targetOffset]
		if !ok {
			return xerrors.Errorf("optimization chain target at data-offset %#x not found", targetOffset)
		}
		if err := unoptimizeTrack(target, all); err != nil {
			return err
		}
		have := map[int]bool{}
		for _, p := range params {
			have[p.id] = true
		}
		for _, tp := range target.params {
			if !have[tp.id] {
				params = append(params, tp)
			}
		}
	}
	sort.Slice(params, func(i, j int) bool { return params[i].id < params[j].id })
	ts.params = params
	ts.resolved = true
	return nil
}
