package mact

import (
	"testing"

	"github.com/marcdred/bully-mact-tool/internal/bio"
	"github.com/marcdred/bully-mact-tool/internal/logic"
)

func kw(words ...string) *Keyword {
	return &Keyword{Words: words}
}

func TestLiftRequiresSingleBankRoot(t *testing.T) {
	if _, err := Lift(nil); err == nil {
		t.Fatal("Lift(nil) succeeded, want error")
	}
	if _, err := Lift([]*Keyword{kw("Bank", "A"), kw("Bank", "B")}); err == nil {
		t.Fatal("Lift() with two top-level keywords succeeded, want error")
	}
	if _, err := Lift([]*Keyword{kw("Node", "Root")}); err == nil {
		t.Fatal("Lift() with a non-Bank top-level keyword succeeded, want error")
	}
}

func TestLiftBankWithConditionGroupAndTracks(t *testing.T) {
	bank := kw("Bank", "Root")
	cg := kw("ConditionGroup")
	cond := kw("HasFlag")
	cond.Children = []*Keyword{kw("flag", "TRUE")}
	cg.Children = []*Keyword{cond}

	tracks := kw("Tracks")
	track := kw("PlaySound")
	track.Children = []*Keyword{kw("volume", "1.0")}
	tracks.Children = []*Keyword{track}

	bank.Children = []*Keyword{cg, tracks}

	root, err := Lift([]*Keyword{bank})
	if err != nil {
		t.Fatalf("Lift() failed: %v", err)
	}
	if root.Kind != logic.Bank || root.Title != "Root" {
		t.Fatalf("root = %+v, want Bank titled Root", root)
	}
	if len(root.Conditions) != 1 || root.Conditions[0].Kind != logic.Condition || root.Conditions[0].Title != "HasFlag" {
		t.Fatalf("Conditions = %+v, want one HasFlag condition", root.Conditions)
	}
	if len(root.Conditions[0].Params) != 1 || root.Conditions[0].Params[0].Title != "flag" {
		t.Fatalf("condition params = %+v, want [flag]", root.Conditions[0].Params)
	}
	if len(root.Tracks) != 1 || root.Tracks[0].Kind != logic.Track || root.Tracks[0].Title != "PlaySound" {
		t.Fatalf("Tracks = %+v, want one PlaySound track", root.Tracks)
	}
	if len(root.Children) != 0 {
		t.Fatalf("Children = %+v, want none (ConditionGroup/Tracks are re-parented, not kept)", root.Children)
	}
}

func TestLiftNestedNodeBecomesChild(t *testing.T) {
	bank := kw("Bank", "Root")
	child := kw("Node", "Leaf")
	bank.Children = []*Keyword{child}

	root, err := Lift([]*Keyword{bank})
	if err != nil {
		t.Fatalf("Lift() failed: %v", err)
	}
	if len(root.Children) != 1 || root.Children[0].Kind != logic.Node || root.Children[0].Title != "Leaf" {
		t.Fatalf("Children = %+v, want one Node titled Leaf", root.Children)
	}
}

func TestLiftFileReference(t *testing.T) {
	bank := kw("Bank", "Root")
	fr := kw("FileReference")
	fr.Children = []*Keyword{
		kw("fileName", `"sound.wav"`),
		kw("path", `"sounds/"`),
		kw("includeFile", "TRUE"),
	}
	bank.Children = []*Keyword{fr}

	root, err := Lift([]*Keyword{bank})
	if err != nil {
		t.Fatalf("Lift() failed: %v", err)
	}
	if len(root.Children) != 1 {
		t.Fatalf("Children = %+v, want one FileReference", root.Children)
	}
	got := root.Children[0]
	if got.Kind != logic.FileReference || got.FileName != "sound.wav" || got.Path != "sounds/" || !got.IncludeFile {
		t.Errorf("FileReference = %+v, want {sound.wav sounds/ true}", got)
	}
}

func TestLiftFileReferenceRejectsUnknownField(t *testing.T) {
	fr := kw("FileReference")
	fr.Children = []*Keyword{kw("bogus", "1")}
	if _, err := liftFileReference(fr); err == nil {
		t.Fatal("liftFileReference() with an unknown field succeeded, want error")
	}
}

func TestLiftNodeRejectsUnexpectedChildKeyword(t *testing.T) {
	bank := kw("Bank", "Root")
	bank.Children = []*Keyword{kw("Bogus")}
	if _, err := Lift([]*Keyword{bank}); err == nil {
		t.Fatal("Lift() with an unexpected child keyword succeeded, want error")
	}
}

func TestLiftParamValuelessWithChildrenBecomesInlineConditionGroup(t *testing.T) {
	param := kw("gate")
	inner := kw("HasItem")
	param.Children = []*Keyword{inner}

	p, err := liftParam(param)
	if err != nil {
		t.Fatalf("liftParam() failed: %v", err)
	}
	if p.ValueType != logic.TypeCG {
		t.Fatalf("ValueType = %v, want TypeCG", p.ValueType)
	}
	if len(p.Conditions) != 1 || p.Conditions[0].Title != "HasItem" {
		t.Fatalf("Conditions = %+v, want one HasItem condition", p.Conditions)
	}
}

func TestLiftParamRejectsValuelessChildless(t *testing.T) {
	if _, err := liftParam(kw("lonely")); err == nil {
		t.Fatal("liftParam() with no value and no children succeeded, want error")
	}
}

func TestParseTitleWordHexLiteralIsHash(t *testing.T) {
	title, isHash, hash, err := parseTitleWord("0xDEADBEEF")
	if err != nil {
		t.Fatalf("parseTitleWord() failed: %v", err)
	}
	if !isHash || title != "0xDEADBEEF" || hash != 0xDEADBEEF {
		t.Errorf("parseTitleWord(0xDEADBEEF) = %q, %v, %#x, want hash 0xDEADBEEF", title, isHash, hash)
	}
}

func TestParseTitleWordPlainNameIsNotHash(t *testing.T) {
	title, isHash, hash, err := parseTitleWord("PlaySound")
	if err != nil {
		t.Fatalf("parseTitleWord() failed: %v", err)
	}
	if isHash || title != "PlaySound" || hash != 0 {
		t.Errorf("parseTitleWord(PlaySound) = %q, %v, %#x, want plain name", title, isHash, hash)
	}
}

func TestParseTitleWordInvalidHexLiteralFails(t *testing.T) {
	if _, _, _, err := parseTitleWord("0xZZZZ"); err == nil {
		t.Fatal("parseTitleWord(0xZZZZ) succeeded, want error")
	}
}

func TestParseParamNameBracketForm(t *testing.T) {
	id, name := parseParamName("[00042]")
	if id != 42 || name != "[00042]" {
		t.Errorf("parseParamName([00042]) = %d, %q, want 42, [00042]", id, name)
	}
}

func TestParseParamNameParamPrefixForm(t *testing.T) {
	id, name := parseParamName("param00017")
	if id != 17 || name != "param00017" {
		t.Errorf("parseParamName(param00017) = %d, %q, want 17, param00017", id, name)
	}
}

func TestParseParamNameSymbolicIsUnresolved(t *testing.T) {
	id, name := parseParamName("volume")
	if id != UnresolvedParamID || name != "volume" {
		t.Errorf("parseParamName(volume) = %d, %q, want unresolved, volume", id, name)
	}
}

func TestInferValueBool(t *testing.T) {
	typ, v, err := inferValue("TRUE")
	if err != nil || typ != logic.TypeBool || v != int64(1) {
		t.Errorf("inferValue(TRUE) = %v, %v, %v, want bool/1/nil", typ, v, err)
	}
	typ, v, err = inferValue("false")
	if err != nil || typ != logic.TypeBool || v != int64(0) {
		t.Errorf("inferValue(false) = %v, %v, %v, want bool/0/nil", typ, v, err)
	}
}

func TestInferValueInt(t *testing.T) {
	typ, v, err := inferValue("-42")
	if err != nil || typ != logic.TypeInt || v != int64(-42) {
		t.Errorf("inferValue(-42) = %v, %v, %v, want int/-42/nil", typ, v, err)
	}
}

func TestInferValueFloat(t *testing.T) {
	typ, v, err := inferValue("1.5")
	if err != nil || typ != logic.TypeFloat || v != float64(1.5) {
		t.Errorf("inferValue(1.5) = %v, %v, %v, want float/1.5/nil", typ, v, err)
	}
}

func TestInferValueQuotedString(t *testing.T) {
	typ, v, err := inferValue(`"hello world"`)
	if err != nil || typ != logic.TypeString || v != "hello world" {
		t.Errorf("inferValue(%q) = %v, %v, %v, want string/hello world/nil", `"hello world"`, typ, v, err)
	}
}

func TestInferValueHashedStringLiteral(t *testing.T) {
	typ, v, err := inferValue(`h"SomeTitle"`)
	if err != nil {
		t.Fatalf("inferValue() failed: %v", err)
	}
	if typ != logic.TypeHashedString {
		t.Fatalf("type = %v, want TypeHashedString", typ)
	}
	raw, ok := v.([]byte)
	if !ok || len(raw) != 4 {
		t.Fatalf("value = %v, want 4-byte slice", v)
	}
	if bio.LittleEndian.Uint32(raw) != bio.HashValue("SomeTitle") {
		t.Errorf("hashed value = %#x, want bio.HashValue(SomeTitle)", bio.LittleEndian.Uint32(raw))
	}
}

func TestInferValueBareHexIsBool(t *testing.T) {
	typ, v, err := inferValue("0x1")
	if err != nil || typ != logic.TypeBool || v != int64(1) {
		t.Errorf("inferValue(0x1) = %v, %v, %v, want bool/1/nil", typ, v, err)
	}
}

func TestInferValueLongHexIsBytes(t *testing.T) {
	typ, v, err := inferValue("0xDEADBEEF")
	if err != nil {
		t.Fatalf("inferValue() failed: %v", err)
	}
	if typ != logic.TypeBytes {
		t.Fatalf("type = %v, want TypeBytes", typ)
	}
	raw, ok := v.([]byte)
	if !ok || bio.LittleEndian.Uint32(raw) != 0xDEADBEEF {
		t.Errorf("value = %v, want bytes 0xDEADBEEF", v)
	}
}

func TestInferValueRejectsGarbage(t *testing.T) {
	if _, _, err := inferValue("not-a-value"); err == nil {
		t.Fatal("inferValue(not-a-value) succeeded, want error")
	}
}

func TestUnquoteStripsMatchingQuotes(t *testing.T) {
	if got := unquote(`"hello"`); got != "hello" {
		t.Errorf("unquote(%q) = %q, want hello", `"hello"`, got)
	}
	if got := unquote("'hello'"); got != "hello" {
		t.Errorf("unquote('hello') = %q, want hello", got)
	}
	if got := unquote("hello"); got != "hello" {
		t.Errorf("unquote(hello) = %q, want hello (no-op without quotes)", got)
	}
	if got := unquote(`"mismatched'`); got != `"mismatched'` {
		t.Errorf("unquote(mismatched quotes) = %q, want unchanged", got)
	}
}
