// Package templategen implements the generate-templates mode: sweeping a
// corpus of CAT files and aggregating, per (logic title, param id), the
// inferred parameter name and type into the same tabular shape
// internal/catdb loads.
//
// Merging combines same-title blocks' param sets, a concrete type beats an
// unresolved one, and ids missing from one block are adopted from the
// other. The sweep decodes files concurrently on a bounded
// golang.org/x/sync/errgroup worker pool; a per-file decode failure is
// collected and logged, never allowed to abort the sweep.
package templategen

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/marcdred/bully-mact-tool/internal/catbin"
	"github.com/marcdred/bully-mact-tool/internal/catdb"
	"github.com/marcdred/bully-mact-tool/internal/logic"
)

// Result is the aggregated template database pair produced by a corpus
// sweep, ready to be written with catdb.WriteTemplates.
type Result struct {
	Tracks     catdb.Templates
	Conditions catdb.Templates

	// Failed records, in discovery order, the paths that could not be
	// decoded and why, surfaced so the orchestrator can report them
	// without the sweep itself aborting.
	Failed []FileError
}

// FileError pairs a corpus file with the error decoding it produced.
type FileError struct {
	Path string
	Err  error
}

// DiscoverCatFiles recursively walks dir for *.cat files, returning paths
// in deterministic (lexical) walk order so a sweep is reproducible across
// runs.
func DiscoverCatFiles(dir string) ([]string, error) {
	var out []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".cat") {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// observation is one decoded param's contribution to the accumulator:
// which logic title/id it belongs to and what type it resolved to.
type observation struct {
	title string
	id    int
	typ   logic.ValueType
}

// Sweep decodes every path in paths (bounded by GOMAXPROCS concurrent
// decodes) and merges their parameter observations into a Result.
// hashDicts supplies only the hash dictionaries from the caller's Context,
// never its template tables: generation must observe
// guessed/variable-table-derived types, not already-known ones, to produce
// tables worth feeding back into later decode/encode passes.
func Sweep(ctx context.Context, paths []string, hashDicts *catdb.Context, logger *log.Logger) (*Result, error) {
	genCtx := &catdb.Context{
		Log:           logger,
		Tracks:        catdb.Templates{},
		Conditions:    catdb.Templates{},
		LogicHashes:   hashDicts.LogicHashes,
		TitleHashes:   hashDicts.TitleHashes,
		GenericHashes: hashDicts.GenericHashes,
	}

	type perFile struct {
		tracks, conditions []observation
	}
	results := make([]perFile, len(paths))

	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	eg, _ := errgroup.WithContext(ctx)

	var mu sync.Mutex
	var failed []FileError

	for i, path := range paths {
		i, path := i, path
		eg.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			f, err := os.Open(path)
			if err != nil {
				mu.Lock()
				failed = append(failed, FileError{Path: path, Err: err})
				mu.Unlock()
				return nil
			}
			defer f.Close()

			data, err := readAll(f)
			if err != nil {
				mu.Lock()
				failed = append(failed, FileError{Path: path, Err: err})
				mu.Unlock()
				return nil
			}

			decoded, err := catbin.Decode(bytes.NewReader(data), genCtx)
			if err != nil {
				mu.Lock()
				failed = append(failed, FileError{Path: path, Err: err})
				mu.Unlock()
				return nil
			}

			var pf perFile
			logic.Walk(decoded.Root, func(n *logic.LogicNode) {
				switch n.Kind {
				case logic.Condition:
					pf.conditions = append(pf.conditions, observeParams(n)...)
				case logic.Track:
					pf.tracks = append(pf.tracks, observeParams(n)...)
				}
			})
			results[i] = pf
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	// Workers finish in any order; report failures in discovery order.
	pos := make(map[string]int, len(paths))
	for i, p := range paths {
		pos[p] = i
	}
	sort.SliceStable(failed, func(a, b int) bool { return pos[failed[a].Path] < pos[failed[b].Path] })

	acc := newAccumulator()
	for _, pf := range results {
		for _, o := range pf.tracks {
			acc.tracks.add(o)
		}
		for _, o := range pf.conditions {
			acc.conditions.add(o)
		}
	}

	return &Result{
		Tracks:     acc.tracks.templates(),
		Conditions: acc.conditions.templates(),
		Failed:     failed,
	}, nil
}

func observeParams(logicNode *logic.LogicNode) []observation {
	out := make([]observation, 0, len(logicNode.Params))
	for _, p := range logicNode.Params {
		out = append(out, observation{title: logicNode.Title, id: p.ParamID, typ: p.ValueType})
	}
	return out
}

func readAll(f *os.File) ([]byte, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, fi.Size())
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}

// bucket accumulates (title, id) -> type observations. The first
// observation wins unless it was the least-informative guess
// (logic.TypeBytes) and a later observation is more specific: the guess
// cascade always resolves to something, so TypeBytes plays the role of
// "unknown" here.
type bucket struct {
	entries map[string]map[int]logic.ValueType
}

func newBucket() *bucket {
	return &bucket{entries: map[string]map[int]logic.ValueType{}}
}

func (b *bucket) add(o observation) {
	ids, ok := b.entries[o.title]
	if !ok {
		ids = map[int]logic.ValueType{}
		b.entries[o.title] = ids
	}
	existing, seen := ids[o.id]
	if !seen || (existing == logic.TypeBytes && o.typ != logic.TypeBytes) {
		ids[o.id] = o.typ
	}
}

func (b *bucket) templates() catdb.Templates {
	out := catdb.Templates{}
	for title, ids := range b.entries {
		params := map[int]catdb.ParamSchema{}
		for id, typ := range ids {
			params[id] = catdb.ParamSchema{ID: id, Name: syntheticName(id), Type: typ}
		}
		out[title] = catdb.LogicSchema{Title: title, Params: params}
	}
	return out
}

// paramDigits matches catbin's and mact's constant of the same name.
const paramDigits = 5

// syntheticName produces the "paramNNNNN" form: freshly generated
// templates have no human names to offer yet, only ids.
func syntheticName(id int) string {
	return fmt.Sprintf("param%0*d", paramDigits, id)
}

type accumulator struct {
	tracks     *bucket
	conditions *bucket
}

func newAccumulator() *accumulator {
	return &accumulator{tracks: newBucket(), conditions: newBucket()}
}
