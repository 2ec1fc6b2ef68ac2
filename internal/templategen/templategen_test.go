package templategen

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/marcdred/bully-mact-tool/internal/bio"
	"github.com/marcdred/bully-mact-tool/internal/catbin"
	"github.com/marcdred/bully-mact-tool/internal/catdb"
	"github.com/marcdred/bully-mact-tool/internal/logic"
)

func TestDiscoverCatFilesFindsFilesRecursivelyInLexicalOrder(t *testing.T) {
	dir := t.TempDir()
	for _, rel := range []string{"b.cat", "a.cat", "sub/c.CAT", "ignore.txt"} {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := DiscoverCatFiles(dir)
	if err != nil {
		t.Fatalf("DiscoverCatFiles() failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("DiscoverCatFiles() = %v, want 3 entries", got)
	}
	for i := 1; i < len(got); i++ {
		if got[i-1] > got[i] {
			t.Errorf("DiscoverCatFiles() not lexically sorted: %v", got)
		}
	}
}

func TestDiscoverCatFilesEmptyDir(t *testing.T) {
	got, err := DiscoverCatFiles(t.TempDir())
	if err != nil {
		t.Fatalf("DiscoverCatFiles() failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("DiscoverCatFiles(empty) = %v, want none", got)
	}
}

func TestBucketAddPrefersConcreteTypeOverBytesGuess(t *testing.T) {
	b := newBucket()
	b.add(observation{title: "PlaySound", id: 1, typ: logic.TypeBytes})
	b.add(observation{title: "PlaySound", id: 1, typ: logic.TypeFloat})

	tmpl := b.templates()
	if tmpl["PlaySound"].Params[1].Type != logic.TypeFloat {
		t.Errorf("bucket kept %v after a more concrete observation, want TypeFloat", tmpl["PlaySound"].Params[1].Type)
	}
}

func TestBucketAddKeepsFirstConcreteTypeOverLaterBytesGuess(t *testing.T) {
	b := newBucket()
	b.add(observation{title: "PlaySound", id: 1, typ: logic.TypeInt})
	b.add(observation{title: "PlaySound", id: 1, typ: logic.TypeBytes})

	tmpl := b.templates()
	if tmpl["PlaySound"].Params[1].Type != logic.TypeInt {
		t.Errorf("bucket overwrote a concrete type with a later bytes guess: got %v", tmpl["PlaySound"].Params[1].Type)
	}
}

func TestBucketAddMergesDistinctIDsAcrossObservations(t *testing.T) {
	b := newBucket()
	b.add(observation{title: "PlaySound", id: 1, typ: logic.TypeFloat})
	b.add(observation{title: "PlaySound", id: 2, typ: logic.TypeBool})

	params := b.templates()["PlaySound"].Params
	if len(params) != 2 || params[1].Type != logic.TypeFloat || params[2].Type != logic.TypeBool {
		t.Errorf("templates() = %+v, want ids 1 and 2 merged", params)
	}
}

func TestSyntheticNameMatchesParamDigits(t *testing.T) {
	if got := syntheticName(7); got != "param00007" {
		t.Errorf("syntheticName(7) = %q, want param00007", got)
	}
}

func TestSweepCollectsDecodeFailuresWithoutAborting(t *testing.T) {
	dir := t.TempDir()
	badPath := filepath.Join(dir, "broken.cat")
	if err := os.WriteFile(badPath, []byte("not a cat file"), 0o644); err != nil {
		t.Fatal(err)
	}

	hashDicts := &catdb.Context{
		Log:           log.New(io.Discard, "", 0),
		LogicHashes:   catdb.HashDict{},
		TitleHashes:   catdb.HashDict{},
		GenericHashes: catdb.HashDict{},
	}

	result, err := Sweep(context.Background(), []string{badPath}, hashDicts, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("Sweep() returned an error instead of collecting it per-file: %v", err)
	}
	if len(result.Failed) != 1 || result.Failed[0].Path != badPath {
		t.Fatalf("Failed = %+v, want one entry for %s", result.Failed, badPath)
	}
	if len(result.Tracks) != 0 || len(result.Conditions) != 0 {
		t.Errorf("Sweep() with only a broken file produced templates: tracks=%v conditions=%v", result.Tracks, result.Conditions)
	}
}

func TestSweepAggregatesAcrossMultipleValidFiles(t *testing.T) {
	dir := t.TempDir()

	// The sweep needs the hash dictionary to recover the track's title from
	// its hash; without it the aggregated entry would be keyed by the hex
	// literal instead of "PlaySound".
	hashDicts := &catdb.Context{
		Log:           log.New(io.Discard, "", 0),
		LogicHashes:   catdb.HashDict{bio.FormatHash(bio.HashValue("PlaySound")): "PlaySound"},
		TitleHashes:   catdb.HashDict{},
		GenericHashes: catdb.HashDict{},
	}

	root, encCtx := buildSweepFixture()
	data, err := catbin.Encode(&catbin.File{Root: root}, encCtx, catbin.Options{})
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	var paths []string
	for _, name := range []string{"fixture1.cat", "fixture2.cat"} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, path)
	}

	result, err := Sweep(context.Background(), paths, hashDicts, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("Sweep() failed: %v", err)
	}
	if len(result.Failed) != 0 {
		t.Fatalf("Failed = %+v, want none", result.Failed)
	}
	if _, ok := result.Tracks["PlaySound"]; !ok {
		t.Errorf("Tracks = %+v, want a PlaySound entry", result.Tracks)
	}
}

func buildSweepFixture() (*logic.LogicNode, *catdb.Context) {
	hashBytes := make([]byte, 4)
	bio.LittleEndian.PutUint32(hashBytes, bio.HashValue("PlaySound"))
	hashParam := &logic.LogicNode{Kind: logic.Param, ParamID: 0, ValueType: logic.TypeBytes, Value: hashBytes}
	track := &logic.LogicNode{
		Kind:  logic.Track,
		Title: "PlaySound",
		Params: []*logic.LogicNode{
			hashParam,
			{Kind: logic.Param, ParamID: 1, Title: "enabled", ValueType: logic.TypeBool, Value: int64(1)},
		},
	}
	leaf := &logic.LogicNode{Kind: logic.Node, Title: "Leaf", Tracks: []*logic.LogicNode{track}}
	root := &logic.LogicNode{Kind: logic.Bank, Title: "Root", Children: []*logic.LogicNode{leaf}}

	dbctx := &catdb.Context{
		Log:           log.New(io.Discard, "", 0),
		Tracks:        catdb.Templates{},
		Conditions:    catdb.Templates{},
		LogicHashes:   catdb.HashDict{},
		TitleHashes:   catdb.HashDict{},
		GenericHashes: catdb.HashDict{},
	}
	return root, dbctx
}
