// Command bmact converts between binary CAT files and their textual MACT
// form, and can sweep a CAT corpus to generate template tables. Dispatch
// is by argument suffix and flag rather than a subcommand verb: ".cat"
// arguments decode, ".mact" arguments encode, -GENERATE-TEMPLATES sweeps.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"
	"golang.org/x/sys/unix"

	"github.com/marcdred/bully-mact-tool/internal/catbin"
	"github.com/marcdred/bully-mact-tool/internal/catdb"
	"github.com/marcdred/bully-mact-tool/internal/mact"
	"github.com/marcdred/bully-mact-tool/internal/templategen"
)

var (
	optimize = flag.Bool("PO", false, "enable track parameter optimization when encoding")
	slowOpt  = flag.Bool("slow-optimize", false, "use slow-mode optimization (donor tracks need not share a title hash)")
	generate = flag.String("GENERATE-TEMPLATES", "", "recursively sweep <dir> for *.cat and emit template tables, instead of decode/encode")
	debugPos = flag.Bool("debug-positions", false, "annotate MACT output with \"# Pos:\" comments")
	dbDir    = flag.String("db-dir", ".", "directory containing the TEMPLATES/ and DB/ resource subdirectories")
)

func main() {
	log.SetFlags(0)
	flag.Parse()

	logger := log.New(os.Stderr, "", 0)
	dbctx := catdb.NewContext(*dbDir, logger)

	if *generate != "" {
		if err := runGenerateTemplates(*generate, dbctx, logger); err != nil {
			logger.Printf("error: %v", err)
			os.Exit(1)
		}
		return
	}

	var catFiles, mactFiles []string
	for _, arg := range flag.Args() {
		switch {
		case strings.HasSuffix(strings.ToLower(arg), ".cat"):
			catFiles = append(catFiles, arg)
		case strings.HasSuffix(strings.ToLower(arg), ".mact"):
			mactFiles = append(mactFiles, arg)
		default:
			logger.Printf("warning: ignoring argument %q (not .cat or .mact)", arg)
		}
	}
	if len(catFiles) == 0 && len(mactFiles) == 0 {
		logger.Printf("error: no .cat or .mact inputs given")
		os.Exit(1)
	}

	exitCode := 0
	for _, path := range catFiles {
		if err := decodeFile(path, dbctx); err != nil {
			logger.Printf("error decoding %s: %v", path, err)
			exitCode = 1
		}
	}
	for _, path := range mactFiles {
		if err := encodeFile(path, dbctx, catbin.Options{Optimize: *optimize, QuickMode: !*slowOpt}); err != nil {
			logger.Printf("error encoding %s: %v", path, err)
			exitCode = 1
		}
	}
	os.Exit(exitCode)
}

// decodeFile decodes <name>.cat to a sibling <name>.mact in the working
// directory. The input is opened, fully read, and closed before the
// output is opened and written.
func decodeFile(path string, dbctx *catdb.Context) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	buf := make([]byte, fi.Size())
	if _, err := f.ReadAt(buf, 0); err != nil {
		return err
	}
	f.Close()

	decoded, err := catbin.Decode(bytes.NewReader(buf), dbctx)
	if err != nil {
		return err
	}

	text := mact.Write(decoded.Root, mact.WriteOptions{Debug: *debugPos})

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	out := base + ".mact"
	return writeFileAtomic(out, []byte(text))
}

// encodeFile encodes <name>.mact to <name>.cat in the working
// directory.
func encodeFile(path string, dbctx *catdb.Context, opts catbin.Options) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := readAll(f)
	if err != nil {
		return err
	}
	f.Close()

	roots, err := mact.ParseKeywordTree(string(data))
	if err != nil {
		return err
	}
	root, err := mact.Lift(roots)
	if err != nil {
		return err
	}
	if err := catbin.ResolveParamIDs(root, dbctx); err != nil {
		return err
	}
	catbin.ApplyTemplateTypeOverrides(root, dbctx)
	catbin.EnsureHashParams(root)

	out, err := catbin.Encode(&catbin.File{Root: root}, dbctx, opts)
	if err != nil {
		return err
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return writeFileAtomic(base+".cat", out)
}

// runGenerateTemplates recursively sweeps dir for *.cat, aggregates
// parameter observations, and writes TEMPLATES/TEMPLATES_TRACKS.txt and
// TEMPLATES/TEMPLATES_CONDITIONS.txt. Mutually exclusive with
// decode/encode.
func runGenerateTemplates(dir string, dbctx *catdb.Context, logger *log.Logger) error {
	paths, err := templategen.DiscoverCatFiles(dir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no .cat files found under %s", dir)
	}
	if isTerminal {
		fmt.Fprintf(os.Stderr, "bmact: sweeping %d .cat files under %s\n", len(paths), dir)
	} else {
		logger.Printf("sweeping %d .cat files under %s", len(paths), dir)
	}

	result, err := templategen.Sweep(context.Background(), paths, dbctx, logger)
	if err != nil {
		return err
	}
	for _, fe := range result.Failed {
		logger.Printf("warning: skipping %s: %v", fe.Path, fe.Err)
	}

	if err := os.MkdirAll("TEMPLATES", 0o755); err != nil {
		return err
	}

	var tracksBuf, condsBuf bytes.Buffer
	if err := catdb.WriteTemplates(&tracksBuf, result.Tracks); err != nil {
		return err
	}
	if err := catdb.WriteTemplates(&condsBuf, result.Conditions); err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join("TEMPLATES", "TEMPLATES_TRACKS.txt"), tracksBuf.Bytes()); err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join("TEMPLATES", "TEMPLATES_CONDITIONS.txt"), condsBuf.Bytes()); err != nil {
		return err
	}
	return nil
}

// writeFileAtomic writes an output file via an atomic rename so a crash
// mid-write never leaves a half-written CAT/MACT/template file next to the
// original.
func writeFileAtomic(path string, data []byte) error {
	f, err := renameio.TempFile("", path)
	if err != nil {
		return err
	}
	defer f.Cleanup()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.CloseAtomicallyReplace()
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

// isTerminal detects an interactive stdout, used only to choose how the
// corpus-sweep start line is printed: plainly to stderr on a terminal,
// through the logger otherwise.
var isTerminal = func() bool {
	_, err := unix.IoctlGetTermios(int(os.Stdout.Fd()), unix.TCGETS)
	return err == nil
}()
