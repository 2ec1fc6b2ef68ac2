package mact

import (
	"encoding/binary"
	"strconv"
	"strings"

	"golang.org/x/xerrors"

	"github.com/marcdred/bully-mact-tool/internal/bio"
	"github.com/marcdred/bully-mact-tool/internal/logic"
)

// Reserved structural titles.
const (
	kwBank           = "Bank"
	kwNode           = "Node"
	kwFileReference  = "FileReference"
	kwConditionGroup = "ConditionGroup"
	kwTracks         = "Tracks"
)

// Lift converts a stage-1 keyword forest into the logic tree's root
// Bank.
func Lift(roots []*Keyword) (*logic.LogicNode, error) {
	if len(roots) != 1 {
		return nil, xerrors.Errorf("expected exactly one top-level keyword (the root Bank), got %d", len(roots))
	}
	root := roots[0]
	if len(root.Words) == 0 || root.Words[0] != kwBank {
		return nil, xerrors.Errorf("line %d: top-level keyword must be %q, got %q", root.Line, kwBank, root.Words)
	}
	return liftNode(root)
}

// liftNode lifts a Bank or Node keyword line, re-parenting its
// ConditionGroup/Tracks children into Conditions/Tracks and keeping other
// children (Bank/Node/FileReference) as structural Children.
func liftNode(kw *Keyword) (*logic.LogicNode, error) {
	if len(kw.Words) == 0 {
		return nil, xerrors.Errorf("line %d: empty keyword", kw.Line)
	}
	node := &logic.LogicNode{}
	switch kw.Words[0] {
	case kwBank:
		node.Kind = logic.Bank
	case kwNode:
		node.Kind = logic.Node
	default:
		return nil, xerrors.Errorf("line %d: expected %q or %q, got %q", kw.Line, kwBank, kwNode, kw.Words[0])
	}
	if len(kw.Words) > 1 {
		title, isHash, hash, err := parseTitleWord(kw.Words[1])
		if err != nil {
			return nil, xerrors.Errorf("line %d: %w", kw.Line, err)
		}
		node.Title, node.TitleIsHash, node.TitleHash = title, isHash, hash
	}

	for _, child := range kw.Children {
		if len(child.Words) == 0 {
			return nil, xerrors.Errorf("line %d: empty child keyword", child.Line)
		}
		switch child.Words[0] {
		case kwConditionGroup:
			conds, err := liftConditions(child.Children)
			if err != nil {
				return nil, err
			}
			node.Conditions = conds
		case kwTracks:
			tracks, err := liftLogicList(child.Children, logic.Track)
			if err != nil {
				return nil, err
			}
			node.Tracks = tracks
		case kwFileReference:
			fr, err := liftFileReference(child)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, fr)
		case kwBank, kwNode:
			cn, err := liftNode(child)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, cn)
		default:
			return nil, xerrors.Errorf("line %d: unexpected child keyword %q under %s", child.Line, child.Words[0], kw.Words[0])
		}
	}
	return node, nil
}

func liftFileReference(kw *Keyword) (*logic.LogicNode, error) {
	node := &logic.LogicNode{Kind: logic.FileReference}
	for _, child := range kw.Children {
		if len(child.Words) < 2 {
			return nil, xerrors.Errorf("line %d: malformed FileReference field", child.Line)
		}
		value := unquote(child.Words[1])
		switch child.Words[0] {
		case "fileName":
			node.FileName = value
		case "path":
			node.Path = value
		case "includeFile":
			node.IncludeFile = strings.EqualFold(value, "true") || value == "1"
		default:
			return nil, xerrors.Errorf("line %d: unexpected FileReference field %q", child.Line, child.Words[0])
		}
	}
	return node, nil
}

func liftConditions(kws []*Keyword) ([]*logic.LogicNode, error) {
	return liftLogicList(kws, logic.Condition)
}

// liftLogicList lifts a ConditionGroup's or Tracks' children into
// Condition/Track nodes.
func liftLogicList(kws []*Keyword, kind logic.Kind) ([]*logic.LogicNode, error) {
	out := make([]*logic.LogicNode, 0, len(kws))
	for _, kw := range kws {
		if len(kw.Words) == 0 {
			return nil, xerrors.Errorf("line %d: empty logic keyword", kw.Line)
		}
		node := &logic.LogicNode{Kind: kind}
		title, isHash, hash, err := parseTitleWord(kw.Words[0])
		if err != nil {
			return nil, xerrors.Errorf("line %d: %w", kw.Line, err)
		}
		node.Title, node.TitleIsHash, node.TitleHash = title, isHash, hash
		for _, child := range kw.Children {
			p, err := liftParam(child)
			if err != nil {
				return nil, err
			}
			node.Params = append(node.Params, p)
		}
		out = append(out, node)
	}
	return out, nil
}

// liftParam lifts a Condition/Track parameter line. A valueless line with
// children is an inline condition group: each child line is a
// Condition.
func liftParam(kw *Keyword) (*logic.LogicNode, error) {
	if len(kw.Words) == 0 {
		return nil, xerrors.Errorf("line %d: empty param keyword", kw.Line)
	}
	p := &logic.LogicNode{Kind: logic.Param}
	id, name := parseParamName(kw.Words[0])
	p.ParamID = id
	p.Title = name

	switch {
	case len(kw.Words) >= 2:
		t, v, err := inferValue(kw.Words[1])
		if err != nil {
			return nil, xerrors.Errorf("line %d: %w", kw.Line, err)
		}
		p.ValueType, p.Value = t, v
	case len(kw.Children) > 0:
		p.ValueType = logic.TypeCG
		conds, err := liftConditions(kw.Children)
		if err != nil {
			return nil, err
		}
		p.Conditions = conds
	default:
		return nil, xerrors.Errorf("line %d: param %q has neither a value nor children", kw.Line, kw.Words[0])
	}
	return p, nil
}

// parseTitleWord recognizes a hex-literal title ("0xDEADBEEF", written when
// no human name resolved the hash on decode) versus a plain name.
func parseTitleWord(w string) (title string, isHash bool, hash uint32, err error) {
	if len(w) > 2 && (w[:2] == "0x" || w[:2] == "0X") {
		v, err := bio.ParseHash(w)
		if err != nil {
			return "", false, 0, xerrors.Errorf("invalid hash literal %q: %w", w, err)
		}
		return w, true, v, nil
	}
	return w, false, 0, nil
}

// parseParamName recognizes the synthetic "[00024]" / "param00024" forms
// that encode a numeric id directly; any other word is a symbolic name
// whose id must be resolved later against the template DB.
func parseParamName(w string) (id int, name string) {
	if strings.HasPrefix(w, "[") && strings.HasSuffix(w, "]") {
		if n, err := strconv.Atoi(strings.Trim(w, "[]")); err == nil {
			return n, w
		}
	}
	if strings.HasPrefix(w, "param") {
		if n, err := strconv.Atoi(strings.TrimPrefix(w, "param")); err == nil {
			return n, w
		}
	}
	return UnresolvedParamID, w
}

// UnresolvedParamID marks a Param lifted with a symbolic name whose
// numeric id is not yet known; catbin.ResolveParamIDs fills it in from the
// template DB before encoding.
const UnresolvedParamID = -1

func inferValue(raw string) (logic.ValueType, interface{}, error) {
	lower := strings.ToLower(raw)
	switch {
	case strings.HasPrefix(raw, `h"`) || strings.HasPrefix(raw, "h'"):
		name := unquote(raw[1:])
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, bio.HashValue(name))
		return logic.TypeHashedString, buf, nil
	case strings.HasPrefix(lower, "0x"):
		if len(raw) > 4 {
			v, err := bio.ParseHash(raw)
			if err != nil {
				return 0, nil, xerrors.Errorf("invalid bytes literal %q: %w", raw, err)
			}
			buf := make([]byte, 4)
			binary.LittleEndian.PutUint32(buf, v)
			return logic.TypeBytes, buf, nil
		}
		v, err := bio.ParseHash(raw)
		if err != nil {
			return 0, nil, xerrors.Errorf("invalid bool hex literal %q: %w", raw, err)
		}
		return logic.TypeBool, boolInt(v != 0), nil
	case lower == "true":
		return logic.TypeBool, boolInt(true), nil
	case lower == "false":
		return logic.TypeBool, boolInt(false), nil
	case strings.HasPrefix(raw, `"`) || strings.HasPrefix(raw, "'"):
		return logic.TypeString, unquote(raw), nil
	case strings.Contains(raw, "."):
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, nil, xerrors.Errorf("invalid float literal %q: %w", raw, err)
		}
		return logic.TypeFloat, f, nil
	default:
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, nil, xerrors.Errorf("invalid int literal %q: %w", raw, err)
		}
		return logic.TypeInt, i, nil
	}
}

// boolInt stores a bool as the int64 representation logic.LogicNode.Value uses
// uniformly for TypeBool.
func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// unquote strips one layer of matching surrounding quotes, if present.
func unquote(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' || first == '\'') && first == last {
			return s[1 : len(s)-1]
		}
	}
	return s
}
