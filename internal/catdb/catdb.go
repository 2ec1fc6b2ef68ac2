// Package catdb loads the template databases (per-logic parameter schemas)
// and hash dictionaries that let the CAT decoder recover human-readable
// names and types from raw hashes.
//
// Each resource file is opened, fully consumed, and closed before the next
// is touched; a missing file degrades to a logged warning and an empty
// table, and a malformed line to a logged warning and is skipped, never an
// error.
package catdb

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/marcdred/bully-mact-tool/internal/bio"
	"github.com/marcdred/bully-mact-tool/internal/logic"
)

// ParamSchema describes one parameter entry in a template DB logic block:
// an "<id>\t<name>\t<type>" line.
type ParamSchema struct {
	ID   int
	Name string
	Type logic.ValueType
}

// LogicSchema is one template DB block: a logic title and its known
// parameters, keyed by id.
type LogicSchema struct {
	Title  string
	Params map[int]ParamSchema
}

// Templates is a title-keyed template database. Track and condition
// templates are distinct tables: a title may occur as both track and
// condition with different schemas.
type Templates map[string]LogicSchema

// Lookup returns the parameter schema for (title, id), if present.
func (t Templates) Lookup(title string, id int) (ParamSchema, bool) {
	logicSchema, ok := t[title]
	if !ok {
		return ParamSchema{}, false
	}
	p, ok := logicSchema.Params[id]
	return p, ok
}

// ResolveID returns the parameter id registered under (title, name) in the
// schema, for lifting a MACT-authored symbolic param name back to its
// numeric id before encoding.
func (t Templates) ResolveID(title, name string) (int, bool) {
	logicSchema, ok := t[title]
	if !ok {
		return 0, false
	}
	for _, p := range logicSchema.Params {
		if p.Name == name {
			return p.ID, true
		}
	}
	return 0, false
}

// HashDict maps a bio.FormatHash hex literal (e.g. "0xDEADBEEF") to the
// human name it stands for. Multiple names may hash-collide in theory; the
// original keeps only a simple list, and so does this type: last-loaded
// entry for a given hash wins, matching read_db_hashes's linear append.
type HashDict map[string]string

// Name looks up the human name for a raw hash, if known.
func (d HashDict) Name(h uint32) (string, bool) {
	name, ok := d[bio.FormatHash(h)]
	return name, ok
}

// Context bundles every template/hash resource the decoder and MACT writer
// consult, loaded once per run and shared read-only across files.
type Context struct {
	Log *log.Logger

	Tracks     Templates
	Conditions Templates

	// LogicHashes recovers human names for condition/track name hashes.
	// HASHES_TRACKS.txt and HASHES_CONDITIONS.txt merge into one table:
	// the track/condition split matters for template schemas (a shared
	// title can carry different params), not for hash-to-name lookup.
	LogicHashes HashDict
	// TitleHashes recovers human names for Bank/Node container-title
	// hashes, loaded from HASHES_TITLES.txt and kept separate from
	// LogicHashes.
	TitleHashes HashDict
	// GenericHashes recovers human names for arbitrary bytes-typed
	// values, loaded from HASHES_GENERIC.txt.
	GenericHashes HashDict
}

// NewContext loads every resource from their conventional paths relative to
// dir (the working directory the orchestrator runs from): TEMPLATES/ and
// DB/ subdirectories. Missing files are non-fatal; each produces one
// logged warning and leaves the corresponding table empty.
func NewContext(dir string, logger *log.Logger) *Context {
	c := &Context{
		Log:           logger,
		Tracks:        Templates{},
		Conditions:    Templates{},
		LogicHashes:   HashDict{},
		TitleHashes:   HashDict{},
		GenericHashes: HashDict{},
	}

	join := func(parts ...string) string {
		return strings.Join(parts, string(os.PathSeparator))
	}

	c.loadTemplates(join(dir, "TEMPLATES", "TEMPLATES_TRACKS.txt"), c.Tracks)
	c.loadTemplates(join(dir, "TEMPLATES", "TEMPLATES_CONDITIONS.txt"), c.Conditions)

	c.loadHashes(join(dir, "DB", "HASHES_TRACKS.txt"), c.LogicHashes)
	c.loadHashes(join(dir, "DB", "HASHES_CONDITIONS.txt"), c.LogicHashes)
	c.loadHashes(join(dir, "DB", "HASHES_TITLES.txt"), c.TitleHashes)
	c.loadHashes(join(dir, "DB", "HASHES_GENERIC.txt"), c.GenericHashes)

	return c
}

func (c *Context) warnMissing(fn string) {
	c.Log.Printf("warning: %s not found, proceeding with id-prefixed names and guessed types", fn)
}

// loadTemplates parses one TEMPLATES_*.txt file into dst, mutating the map
// in place (dst is one of c.Tracks/c.Conditions, themselves field values on
// Context, so the caller's map identity is preserved).
func (c *Context) loadTemplates(fn string, dst Templates) {
	f, err := os.Open(fn)
	if err != nil {
		if os.IsNotExist(err) {
			c.warnMissing(fn)
			return
		}
		c.Log.Printf("warning: opening %s: %v", fn, err)
		return
	}
	defer f.Close()

	var current *LogicSchema
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if !strings.HasPrefix(line, "\t") {
			// A non-indented line starts a new logic block:
			// "<title>[\t<hash-bytes>]". Only the title matters for lookup;
			// the optional hash-bytes column is documentation.
			fields := strings.Fields(line)
			title := fields[0]
			dst[title] = LogicSchema{Title: title, Params: map[int]ParamSchema{}}
			ls := dst[title]
			current = &ls
			continue
		}
		if current == nil {
			c.Log.Printf("warning: %s: parameter line before any logic title, ignored: %q", fn, line)
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) < 3 {
			c.Log.Printf("warning: %s: malformed parameter line, ignored: %q", fn, line)
			continue
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			c.Log.Printf("warning: %s: non-numeric parameter id, ignored: %q", fn, line)
			continue
		}
		current.Params[id] = ParamSchema{
			ID:   id,
			Name: fields[1],
			Type: parseValueType(fields[2]),
		}
		dst[current.Title] = *current
	}
	if err := sc.Err(); err != nil {
		c.Log.Printf("warning: reading %s: %v", fn, err)
	}
}

// WriteTemplates renders t in the same tabular format loadTemplates
// parses: title-sorted (a title falls back to its hex hash literal when no
// human name is known, so output is stable without a hash dictionary),
// params id-sorted within each block.
func WriteTemplates(w io.Writer, t Templates) error {
	titles := make([]string, 0, len(t))
	for title := range t {
		titles = append(titles, title)
	}
	sort.Strings(titles)
	for _, title := range titles {
		if _, err := fmt.Fprintf(w, "%s\n", title); err != nil {
			return err
		}
		ls := t[title]
		ids := make([]int, 0, len(ls.Params))
		for id := range ls.Params {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			p := ls.Params[id]
			if _, err := fmt.Fprintf(w, "\t%d\t%s\t%s\n", p.ID, p.Name, p.Type); err != nil {
				return err
			}
		}
	}
	return nil
}

func parseValueType(s string) logic.ValueType {
	switch strings.ToLower(s) {
	case "bool":
		return logic.TypeBool
	case "int":
		return logic.TypeInt
	case "float":
		return logic.TypeFloat
	case "string":
		return logic.TypeString
	case "hashed_string":
		return logic.TypeHashedString
	case "cg":
		return logic.TypeCG
	default:
		return logic.TypeBytes
	}
}

// loadHashes parses a HASHES_*.txt file into dst: whitespace-separated
// "<name> <hex-hash>..." per line, multiple hashes per name allowed.
func (c *Context) loadHashes(fn string, dst HashDict) {
	f, err := os.Open(fn)
	if err != nil {
		if os.IsNotExist(err) {
			c.warnMissing(fn)
			return
		}
		c.Log.Printf("warning: opening %s: %v", fn, err)
		return
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		name := fields[0]
		for _, h := range fields[1:] {
			v, err := bio.ParseHash(h)
			if err != nil {
				c.Log.Printf("warning: %s: invalid hash %q for %q, ignored", fn, h, name)
				continue
			}
			dst[bio.FormatHash(v)] = name
		}
	}
	if err := sc.Err(); err != nil {
		c.Log.Printf("warning: reading %s: %v", fn, err)
	}
}
