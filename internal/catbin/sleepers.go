package catbin

import "github.com/marcdred/bully-mact-tool/internal/logic"

// The encoder writes the node tree, condition groups, and parameter blobs
// in a single forward pass, but many fields are forward references: a
// string-typed param's value hole isn't known until that text is placed in
// the string pool, a cg-param's var-table entry isn't known until its
// group record is placed, a node's condition/track pointer isn't known
// until that logic's parameter blob is placed, and a track's opti_offset
// isn't known until a later track is chosen as its donor. Rather than
// threading pointers back into already-written Writer bytes, every pending
// fix-up is recorded as a "sleeper": the absolute byte offset of the hole
// plus enough identity to resolve it once its target is placed. Sleepers
// are addressed by slice index or map key, never by pointer cycles back
// into the LogicNode tree. Typed sleeper records rather than a single
// offset map, because a CAT file's holes need more resolution context
// than a plain "file offset once known".

// SleepingString is the encoder-side record for one distinct interned
// string value.
type SleepingString struct {
	Text string

	// StringSlot is the table position of this entry's string_offset
	// field, patched once the string's pool placement is known.
	StringSlot int64

	// ParamSlots are the table positions of this entry's var_offsets[i]
	// fields, one reserved per known occurrence.
	ParamSlots []int64

	// ParamOffsets accumulates, in emission order, the absolute file
	// position of each occurrence's own 4-byte value hole in the
	// parameter-data region, recorded as each occurrence is emitted.
	// FIFO-matched against ParamSlots at fix-up time.
	ParamOffsets []int64
}

// SleepingGroup is the encoder-side record for one distinct inline
// condition-group param. Unlike strings, condition groups are not
// content-interned: one SleepingGroup exists per cg Param node identity
// that has at least one child condition (an empty cg param is written as
// a literal zero with no var-table entry at all).
type SleepingGroup struct {
	Param *logic.LogicNode // the cg-typed Param node owning this group

	// GroupSlot is the table position of this entry's group_offset field,
	// patched as soon as the group's record position in p_groups is known,
	// immediately rather than in the later fix-up pass.
	GroupSlot int64

	// ParamSlot is the table position of this entry's single var_offsets
	// field (always n=1: a cg param's inline group is never reused by
	// identity elsewhere in the tree).
	ParamSlot int64
	// ParamOffset is the absolute file position of the cg param's own
	// 4-byte value hole, recorded when that value is emitted.
	ParamOffset int64

	// ConditionSlots are the positions, inside this group's own record in
	// p_groups, of each condition_offset field, one per child condition,
	// in order. Each slot is also added to that condition's
	// SleepingLogic.HolePositions and patched when the condition's
	// parameter blob is placed.
	ConditionSlots []int64
	// Conditions are the child condition LogicNodes, parallel to
	// ConditionSlots.
	Conditions []*logic.LogicNode
}

// SleepingLogic is the encoder-side record for one distinct Condition or
// Track LogicNode: duplicates of the same logic are coalesced into one
// entry whose hole list collects all slot positions. A logic can be
// referenced from more than one node's condition/track offset list when
// the same *logic.LogicNode is shared, or from a SleepingGroup's
// ConditionSlots.
type SleepingLogic struct {
	Node *logic.LogicNode

	// HolePositions are every 4-byte slot in the tree or in a variable
	// condition group record that must receive this logic's resolved
	// (logic_offset - p_data).
	HolePositions []int64
}

// optiFixup is a deferred patch for one track's 2-byte opti_offset field:
// Target is chosen by the optimizer as a later-emitted donor track, so its
// absolute parameter-data offset isn't known until that track's
// SleepingLogic has been placed.
type optiFixup struct {
	HolePos int64
	// TrackStart is the optimized track's own absolute file start,
	// needed to compute the signed 16-bit delta to Target once Target's
	// own start is known.
	TrackStart int64
	Target     *logic.LogicNode
}
