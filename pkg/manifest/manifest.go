/*
Copyright © 2026 3 Leaps <info@3leaps.net>
*/
package manifest

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aymerick/raymond"
	"github.com/bmatcuk/doublestar/v4"

	"github.com/fulmenhq/metakernel/pkg/logger"
	"github.com/fulmenhq/metakernel/pkg/safeio"
)

// DefaultHeaderTemplate renders the free-text comment block above
// \begindata. Every rendered line is emitted with a "# " prefix.
const DefaultHeaderTemplate = `The meta kernel file contains entries pointing to the following SPICE kernels, which the user needs to download.

  The following is the contents of a metakernel that was saved with
  the name '{{{name}}}.'`

// DefaultExclude lists the label and metadata files that ship next to
// kernels in the archive but must never be loaded.
var DefaultExclude = []string{"**/*.lbl", "**/*.LBL", "**/*.xml"}

const (
	genericSymbol    = "GENERIC"
	spacecraftSymbol = "SPACECRAFT"
	leapsecondsAlias = "latest_leapseconds"
	entryIndent      = "        "
)

// Options configures an Assembler.
type Options struct {
	// HeaderTemplate is a Handlebars template for the comment header.
	// Empty means DefaultHeaderTemplate.
	HeaderTemplate string
	// Exclude holds doublestar globs matched against scope-relative,
	// slash-separated paths. Nil means DefaultExclude.
	Exclude []string
	// Exists filters out paths that are not present locally. Nil means
	// safeio.Exists.
	Exists func(path string) bool
}

// Input is everything one manifest is built from.
type Input struct {
	// Name is the manifest file name quoted in the header.
	Name          string
	Spacecraft    string
	GenericDir    string
	SpacecraftDir string
	Generic       []string
	Mission       []string
	// Leapseconds lists the local directories of leapseconds specs. Files
	// there other than the latest alias are left out of the manifest.
	Leapseconds   []string
}

// Assembler renders manifests. It is safe for concurrent use.
type Assembler struct {
	header  *raymond.Template
	exclude []string
	exists  func(string) bool
}

// NewAssembler validates opts and returns an Assembler.
func NewAssembler(opts Options) (*Assembler, error) {
	src := opts.HeaderTemplate
	if src == "" {
		src = DefaultHeaderTemplate
	}
	tpl, err := raymond.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("invalid manifest header template: %w", err)
	}

	exclude := opts.Exclude
	if exclude == nil {
		exclude = DefaultExclude
	}
	for _, g := range exclude {
		if !doublestar.ValidatePattern(g) {
			return nil, fmt.Errorf("invalid manifest exclude pattern %q", g)
		}
	}

	exists := opts.Exists
	if exists == nil {
		exists = safeio.Exists
	}
	return &Assembler{header: tpl, exclude: exclude, exists: exists}, nil
}

// Build renders the manifest text for in. The output depends only on in and
// on which paths exist, so repeated builds over the same tree are
// byte-identical.
func (a *Assembler) Build(in Input) ([]byte, error) {
	lsk := make(map[string]bool, len(in.Leapseconds))
	for _, d := range in.Leapseconds {
		lsk[filepath.Clean(d)] = true
	}
	generic := a.entries(genericSymbol, in.GenericDir, in.Generic, lsk)
	mission := a.entries(spacecraftSymbol, in.SpacecraftDir, in.Mission, lsk)

	header, err := a.header.Exec(map[string]interface{}{
		"name":             in.Name,
		"spacecraft":       in.Spacecraft,
		"generic_dir":      filepath.ToSlash(in.GenericDir),
		"spacecraft_dir":   filepath.ToSlash(in.SpacecraftDir),
		"generic_count":    len(generic),
		"spacecraft_count": len(mission),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render manifest header: %w", err)
	}

	var b bytes.Buffer
	for _, line := range strings.Split(strings.TrimRight(header, "\n"), "\n") {
		line = strings.TrimRight(line, " \t\r")
		if line == "" {
			b.WriteString("#\n")
			continue
		}
		b.WriteString("# " + line + "\n")
	}
	b.WriteString("\\begindata\n")
	b.WriteString("    PATH_VALUES = (\n")
	b.WriteString(entryIndent + quote(filepath.ToSlash(in.GenericDir)) + "\n")
	b.WriteString(entryIndent + quote(filepath.ToSlash(in.SpacecraftDir)) + "\n")
	b.WriteString(entryIndent + ")\n")
	b.WriteString("    PATH_SYMBOLS = (\n")
	b.WriteString(entryIndent + quote(genericSymbol) + "\n")
	b.WriteString(entryIndent + quote(spacecraftSymbol) + ",\n")
	b.WriteString(entryIndent + ")\n")
	b.WriteString("    KERNELS_TO_LOAD = (\n")
	for _, e := range generic {
		b.WriteString(entryIndent + quote(e) + "\n")
	}
	for _, e := range mission {
		b.WriteString(entryIndent + quote(e) + "\n")
	}
	b.WriteString(entryIndent + ")\n")
	b.WriteString("\\begintext\n")
	return b.Bytes(), nil
}

// entries turns absolute local paths into sorted, unique "$SYMBOL/rel"
// strings, dropping paths outside base, missing files, excluded labels and
// dated leapseconds files that the latest alias already covers.
func (a *Assembler) entries(symbol, base string, paths []string, lsk map[string]bool) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		rel, err := filepath.Rel(base, p)
		if err != nil {
			logger.Debug("manifest skipping path", logger.String("path", p), logger.Err(err))
			continue
		}
		rel = filepath.ToSlash(rel)
		if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
			logger.Debug("manifest skipping path outside kernel dir", logger.String("path", p), logger.String("base", base))
			continue
		}
		if a.excluded(rel) || supersededLeapseconds(p, lsk) {
			continue
		}
		if !a.exists(p) {
			logger.Debug("manifest skipping missing file", logger.String("path", p))
			continue
		}
		entry := "$" + symbol + "/" + rel
		if _, dup := seen[entry]; dup {
			continue
		}
		seen[entry] = struct{}{}
		out = append(out, entry)
	}
	sort.Strings(out)
	return out
}

func (a *Assembler) excluded(rel string) bool {
	for _, g := range a.exclude {
		if ok, _ := doublestar.Match(g, rel); ok {
			return true
		}
	}
	return false
}

func supersededLeapseconds(p string, lsk map[string]bool) bool {
	if !lsk[filepath.Dir(filepath.Clean(p))] {
		return false
	}
	return !strings.HasPrefix(filepath.Base(p), leapsecondsAlias)
}

// quote renders s as a kernel-pool string literal. Embedded quotes are
// doubled.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
