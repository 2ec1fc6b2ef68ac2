package catbin

import (
	"bytes"
	"io"
	"log"
	"testing"

	"github.com/marcdred/bully-mact-tool/internal/bio"
	"github.com/marcdred/bully-mact-tool/internal/catdb"
	"github.com/marcdred/bully-mact-tool/internal/logic"
)

// buildFixtureTree constructs a small hand-built logic tree: a Bank root
// with one leaf Node carrying one Condition (a hash param plus a bool
// param) and one Track (a hash param plus a bool param). Condition/Track
// Params must already be in positional id order (condition slots are
// addressed by position, not an explicit id field). The returned context's
// template DBs name and type param 1 of both logics, since decode takes
// param names and non-variable-table types from there.
func buildFixtureTree() (*logic.LogicNode, *catdb.Context) {
	condHash := bio.HashValue("HasFlag")
	trackHash := bio.HashValue("PlaySound")

	hashParam := func(h uint32) *logic.LogicNode {
		buf := make([]byte, 4)
		bio.LittleEndian.PutUint32(buf, h)
		return &logic.LogicNode{Kind: logic.Param, ParamID: 0, ValueType: logic.TypeBytes, Value: buf}
	}

	cond := &logic.LogicNode{
		Kind:  logic.Condition,
		Title: "HasFlag",
		Params: []*logic.LogicNode{
			hashParam(condHash),
			{Kind: logic.Param, ParamID: 1, Title: "flag", ValueType: logic.TypeBool, Value: int64(1)},
		},
	}
	track := &logic.LogicNode{
		Kind:  logic.Track,
		Title: "PlaySound",
		Params: []*logic.LogicNode{
			hashParam(trackHash),
			{Kind: logic.Param, ParamID: 1, Title: "enabled", ValueType: logic.TypeBool, Value: int64(1)},
		},
	}
	leaf := &logic.LogicNode{
		Kind:       logic.Node,
		Title:      "Leaf",
		Conditions: []*logic.LogicNode{cond},
		Tracks:     []*logic.LogicNode{track},
	}
	root := &logic.LogicNode{
		Kind:     logic.Bank,
		Title:    "Root",
		Children: []*logic.LogicNode{leaf},
	}

	dbctx := &catdb.Context{
		Log: log.New(io.Discard, "", 0),
		Tracks: catdb.Templates{"PlaySound": {Title: "PlaySound", Params: map[int]catdb.ParamSchema{
			1: {ID: 1, Name: "enabled", Type: logic.TypeBool},
		}}},
		Conditions: catdb.Templates{"HasFlag": {Title: "HasFlag", Params: map[int]catdb.ParamSchema{
			1: {ID: 1, Name: "flag", Type: logic.TypeBool},
		}}},
		LogicHashes: catdb.HashDict{
			bio.FormatHash(condHash):  "HasFlag",
			bio.FormatHash(trackHash): "PlaySound",
		},
		TitleHashes: catdb.HashDict{
			bio.FormatHash(bio.HashTitle("Root")): "Root",
			bio.FormatHash(bio.HashTitle("Leaf")): "Leaf",
		},
		GenericHashes: catdb.HashDict{},
	}
	return root, dbctx
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	root, dbctx := buildFixtureTree()

	data, err := Encode(&File{Root: root}, dbctx, Options{})
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	if len(data)%1024 != 0 {
		t.Errorf("encoded file length %d is not a multiple of the 1024-byte pad boundary", len(data))
	}

	decoded, err := Decode(bytes.NewReader(data), dbctx)
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}

	if decoded.Root.Kind != logic.Bank || decoded.Root.Title != "Root" {
		t.Fatalf("Root = %+v, want Bank titled Root", decoded.Root)
	}
	if len(decoded.Root.Children) != 1 {
		t.Fatalf("Root.Children = %d, want 1", len(decoded.Root.Children))
	}
	leaf := decoded.Root.Children[0]
	if leaf.Title != "Leaf" || !leaf.IsLeaf() {
		t.Fatalf("child = %+v, want leaf titled Leaf", leaf)
	}

	if len(leaf.Conditions) != 1 || leaf.Conditions[0].Title != "HasFlag" {
		t.Fatalf("Conditions = %+v, want one HasFlag condition", leaf.Conditions)
	}
	cond := leaf.Conditions[0]
	var flagParam *logic.LogicNode
	for _, p := range cond.Params {
		if p.ParamID == 1 {
			flagParam = p
		}
	}
	if flagParam == nil || flagParam.Title != "flag" || flagParam.ValueType != logic.TypeBool || flagParam.Value != int64(1) {
		t.Errorf("condition param 1 = %+v, want flag/bool/1", flagParam)
	}

	if len(leaf.Tracks) != 1 || leaf.Tracks[0].Title != "PlaySound" {
		t.Fatalf("Tracks = %+v, want one PlaySound track", leaf.Tracks)
	}
	track := leaf.Tracks[0]
	var enabledParam *logic.LogicNode
	for _, p := range track.Params {
		if p.ParamID == 1 {
			enabledParam = p
		}
	}
	if enabledParam == nil || enabledParam.Title != "enabled" || enabledParam.ValueType != logic.TypeBool || enabledParam.Value != int64(1) {
		t.Errorf("track param 1 = %+v, want enabled/bool/1", enabledParam)
	}
}

func TestDecodeThenReencodeIsIdempotent(t *testing.T) {
	root, dbctx := buildFixtureTree()

	data1, err := Encode(&File{Root: root}, dbctx, Options{})
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	decoded, err := Decode(bytes.NewReader(data1), dbctx)
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	data2, err := Encode(&File{Root: decoded.Root}, dbctx, Options{})
	if err != nil {
		t.Fatalf("re-Encode() failed: %v", err)
	}
	if !bytes.Equal(data1, data2) {
		t.Errorf("encode(decode(encode(x))) != encode(x): got %d bytes vs %d bytes", len(data2), len(data1))
	}
}

func TestEncodeHonorsDecodedStringTableOrder(t *testing.T) {
	trackHash := bio.HashValue("PlaySound")
	hashBytes := make([]byte, 4)
	bio.LittleEndian.PutUint32(hashBytes, trackHash)

	track := &logic.LogicNode{
		Kind:  logic.Track,
		Title: "PlaySound",
		Params: []*logic.LogicNode{
			{Kind: logic.Param, ParamID: 0, ValueType: logic.TypeBytes, Value: hashBytes},
			{Kind: logic.Param, ParamID: 1, Title: "first", ValueType: logic.TypeString, Value: "BBB"},
			{Kind: logic.Param, ParamID: 2, Title: "second", ValueType: logic.TypeString, Value: "AAA"},
		},
	}
	leaf := &logic.LogicNode{Kind: logic.Node, Title: "Leaf", Tracks: []*logic.LogicNode{track}}
	root := &logic.LogicNode{Kind: logic.Bank, Title: "Root", Children: []*logic.LogicNode{leaf}}
	dbctx := &catdb.Context{
		Log:           log.New(io.Discard, "", 0),
		Tracks:        catdb.Templates{},
		Conditions:    catdb.Templates{},
		LogicHashes:   catdb.HashDict{bio.FormatHash(trackHash): "PlaySound"},
		TitleHashes:   catdb.HashDict{},
		GenericHashes: catdb.HashDict{},
	}

	// Tree-walk discovery sees "BBB" first; an explicit StringOrder must
	// override that and place "AAA" first in the string-variable table.
	data, err := Encode(&File{Root: root, StringOrder: []string{"AAA", "BBB"}}, dbctx, Options{})
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	decoded, err := Decode(bytes.NewReader(data), dbctx)
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if len(decoded.StringOrder) != 2 || decoded.StringOrder[0] != "AAA" || decoded.StringOrder[1] != "BBB" {
		t.Errorf("decoded StringOrder = %v, want [AAA BBB]", decoded.StringOrder)
	}

	data2, err := Encode(&File{Root: decoded.Root, StringOrder: decoded.StringOrder}, dbctx, Options{})
	if err != nil {
		t.Fatalf("re-Encode() failed: %v", err)
	}
	if !bytes.Equal(data, data2) {
		t.Error("encode(decode(x)) with preserved StringOrder != x")
	}
}

func TestEncodeRejectsTreeWithoutBankRoot(t *testing.T) {
	root := &logic.LogicNode{Kind: logic.Node, Title: "NotABank"}
	dbctx := &catdb.Context{Log: log.New(io.Discard, "", 0), Tracks: catdb.Templates{}, Conditions: catdb.Templates{}}
	if _, err := Encode(&File{Root: root}, dbctx, Options{}); err == nil {
		t.Fatal("Encode() with no Bank root succeeded, want error")
	}
}
