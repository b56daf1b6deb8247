package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/fulmenhq/metakernel/pkg/pattern"
	"github.com/fulmenhq/metakernel/pkg/safeio"
)

//go:embed catalog.yaml
var builtinCatalog []byte

//go:embed catalog.schema.json
var catalogSchema []byte

// DefaultArchiveURL is the public NAIF archive root.
const DefaultArchiveURL = "https://naif.jpl.nasa.gov/pub/naif/"

// Category classifies the kind of kernel a row provides.
type Category string

const (
	Leapseconds        Category = "leapseconds"
	PlanetaryConstants Category = "planetary-constants"
	Ephemeris          Category = "ephemeris"
	Frame              Category = "frame"
)

// Scope says which kernel tree a spec writes into.
type Scope string

const (
	ScopeGeneric    Scope = "generic"
	ScopeSpacecraft Scope = "spacecraft"
)

// Row is one catalog line: a remote folder, the local subdirectory it maps
// to and the filename patterns that must be satisfied from its listing.
type Row struct {
	Category       Category          `json:"category" yaml:"category"`
	Folder         string            `json:"folder" yaml:"folder"`
	Local          string            `json:"local" yaml:"local"`
	Patterns       []string          `json:"patterns" yaml:"patterns"`
	AliasPatterns  []string          `json:"alias_patterns,omitempty" yaml:"alias_patterns,omitempty"`
	Suffix         string            `json:"suffix,omitempty" yaml:"suffix,omitempty"`
	PlatformSuffix map[string]string `json:"platform_suffix,omitempty" yaml:"platform_suffix,omitempty"`
}

// Spacecraft is a catalog entry keyed by its canonical id.
type Spacecraft struct {
	ID      string   `json:"id" yaml:"id"`
	Name    string   `json:"name,omitempty" yaml:"name,omitempty"`
	Aliases []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	Kernels []Row    `json:"kernels" yaml:"kernels"`
}

// DisplayName returns Name, falling back to ID.
func (s Spacecraft) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// Document is the on-disk shape of a catalog or catalog overlay.
type Document struct {
	Version    int          `json:"version" yaml:"version"`
	ArchiveURL string       `json:"archive_url,omitempty" yaml:"archive_url,omitempty"`
	Generic    []Row        `json:"generic,omitempty" yaml:"generic,omitempty"`
	Spacecraft []Spacecraft `json:"spacecraft,omitempty" yaml:"spacecraft,omitempty"`
}

// FetchSpec is one unit of provisioning work: list RemoteURL, keep the names
// matching Patterns or AliasPatterns and store them under LocalSubdir of the
// Scope's kernel directory. Platform suffixes are already applied.
type FetchSpec struct {
	Category      Category
	Scope         Scope
	RemoteURL     string
	LocalSubdir   string
	Patterns      []string
	AliasPatterns []string
}

// AllPatterns returns Patterns followed by AliasPatterns.
func (s FetchSpec) AllPatterns() []string {
	out := make([]string, 0, len(s.Patterns)+len(s.AliasPatterns))
	out = append(out, s.Patterns...)
	return append(out, s.AliasPatterns...)
}

// Key identifies the (remote folder, local directory) pair of the spec.
func (s FetchSpec) Key() string {
	return string(s.Scope) + ":" + s.LocalSubdir + "<" + s.RemoteURL
}

// Resolution is the resolved work list for one spacecraft.
type Resolution struct {
	Spacecraft Spacecraft
	Generic    []FetchSpec
	Mission    []FetchSpec
}

// Specs returns generic specs followed by mission specs.
func (r *Resolution) Specs() []FetchSpec {
	out := make([]FetchSpec, 0, len(r.Generic)+len(r.Mission))
	out = append(out, r.Generic...)
	return append(out, r.Mission...)
}

// Catalog is an immutable, validated kernel table.
type Catalog struct {
	baseURL    string
	generic    []Row
	spacecraft []Spacecraft
	index      map[string]int
}

var defaultDoc = sync.OnceValues(func() (*Document, error) {
	return decode(builtinCatalog, "yaml", "built-in catalog")
})

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	doc, err := defaultDoc()
	if err != nil {
		return nil, err
	}
	return build(doc, "built-in catalog")
}

// Load returns the built-in catalog overlaid with the document at file.
// Overlay spacecraft replace built-in entries with the same id, a non-empty
// generic list replaces the built-in generic rows and archive_url, when set,
// replaces the archive root. TOML is used for .toml files, YAML otherwise.
func Load(file string) (*Catalog, error) {
	base, err := defaultDoc()
	if err != nil {
		return nil, err
	}
	if file == "" {
		return build(base, "built-in catalog")
	}

	clean, err := safeio.CleanUserPath(file)
	if err != nil {
		return nil, &ConfigurationError{Source: file, Wrapped: err}
	}
	data, err := os.ReadFile(clean) // #nosec G304 -- catalog path supplied by the operator
	if err != nil {
		return nil, &ConfigurationError{Source: file, Reason: "failed to read catalog", Wrapped: err}
	}

	format := "yaml"
	if strings.EqualFold(filepath.Ext(clean), ".toml") {
		format = "toml"
	}
	overlay, err := decode(data, format, file)
	if err != nil {
		return nil, err
	}
	return build(merge(base, overlay), file)
}

// Parse builds a standalone catalog from a complete document, without the
// built-in rows. format is "yaml" or "toml".
func Parse(data []byte, format string) (*Catalog, error) {
	doc, err := decode(data, format, "catalog")
	if err != nil {
		return nil, err
	}
	return build(doc, "catalog")
}

func decode(data []byte, format, source string) (*Document, error) {
	var raw map[string]interface{}
	switch format {
	case "toml":
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, &ConfigurationError{Source: source, Reason: "invalid TOML", Wrapped: err}
		}
	case "yaml", "yml", "json":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, &ConfigurationError{Source: source, Reason: "invalid YAML", Wrapped: err}
		}
	default:
		return nil, &ConfigurationError{Source: source, Reason: fmt.Sprintf("unsupported catalog format %q", format)}
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}

	// Both decoders produce plain maps; round-trip through JSON so the
	// schema sees one representation.
	jsonDoc, err := json.Marshal(raw)
	if err != nil {
		return nil, &ConfigurationError{Source: source, Reason: "failed to convert catalog", Wrapped: err}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(catalogSchema),
		gojsonschema.NewBytesLoader(jsonDoc),
	)
	if err != nil {
		return nil, &ConfigurationError{Source: source, Reason: "schema validation error", Wrapped: err}
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return nil, &ConfigurationError{Source: source, Reason: "catalog validation failed:\n" + strings.Join(problems, "\n")}
	}

	var doc Document
	if err := json.Unmarshal(jsonDoc, &doc); err != nil {
		return nil, &ConfigurationError{Source: source, Reason: "failed to decode catalog", Wrapped: err}
	}
	return &doc, nil
}

func merge(base, overlay *Document) *Document {
	out := &Document{
		Version:    overlay.Version,
		ArchiveURL: base.ArchiveURL,
		Generic:    base.Generic,
	}
	if overlay.ArchiveURL != "" {
		out.ArchiveURL = overlay.ArchiveURL
	}
	if len(overlay.Generic) > 0 {
		out.Generic = overlay.Generic
	}

	replaced := make(map[string]Spacecraft, len(overlay.Spacecraft))
	for _, sc := range overlay.Spacecraft {
		replaced[sc.ID] = sc
	}
	for _, sc := range base.Spacecraft {
		if o, ok := replaced[sc.ID]; ok {
			out.Spacecraft = append(out.Spacecraft, o)
			delete(replaced, sc.ID)
			continue
		}
		out.Spacecraft = append(out.Spacecraft, sc)
	}
	for _, sc := range overlay.Spacecraft {
		if _, ok := replaced[sc.ID]; ok {
			out.Spacecraft = append(out.Spacecraft, sc)
		}
	}
	return out
}

func build(doc *Document, source string) (*Catalog, error) {
	baseURL := doc.ArchiveURL
	if baseURL == "" {
		baseURL = DefaultArchiveURL
	}
	baseURL, err := normalizeBaseURL(baseURL)
	if err != nil {
		return nil, &ConfigurationError{Source: source, Wrapped: err}
	}

	c := &Catalog{
		baseURL: baseURL,
		generic: append([]Row(nil), doc.Generic...),
		index:   make(map[string]int),
	}
	for i, row := range c.generic {
		if err := checkRow(row); err != nil {
			return nil, &ConfigurationError{Source: source, Reason: fmt.Sprintf("generic row %d", i), Wrapped: err}
		}
	}

	scs := append([]Spacecraft(nil), doc.Spacecraft...)
	sort.SliceStable(scs, func(i, j int) bool { return scs[i].ID < scs[j].ID })
	for i, sc := range scs {
		for j, row := range sc.Kernels {
			if err := checkRow(row); err != nil {
				return nil, &ConfigurationError{Source: source, Spacecraft: sc.ID, Reason: fmt.Sprintf("kernel row %d", j), Wrapped: err}
			}
		}
		keys := append([]string{sc.ID}, sc.Aliases...)
		for _, k := range keys {
			k = Canonicalize(k)
			if prev, dup := c.index[k]; dup && prev != i {
				return nil, &ConfigurationError{Source: source, Spacecraft: sc.ID, Reason: fmt.Sprintf("identifier %q already used by %q", k, scs[prev].ID)}
			}
			c.index[k] = i
		}
	}
	c.spacecraft = scs
	return c, nil
}

func checkRow(row Row) error {
	if _, err := cleanLocal(row.Local); err != nil {
		return err
	}
	if strings.Contains(row.Folder, "..") || strings.Contains(row.Folder, "://") {
		return fmt.Errorf("folder %q must be relative to the archive root", row.Folder)
	}
	suffixes := []string{row.Suffix}
	for _, s := range row.PlatformSuffix {
		suffixes = append(suffixes, s)
	}
	for _, suffix := range suffixes {
		for _, p := range append(append([]string(nil), row.Patterns...), row.AliasPatterns...) {
			if _, err := pattern.Compile(p + suffix); err != nil {
				return fmt.Errorf("pattern %q: %w", p+suffix, err)
			}
		}
	}
	return nil
}

func cleanLocal(local string) (string, error) {
	if strings.Contains(local, `\`) {
		return "", fmt.Errorf("local directory %q must use forward slashes", local)
	}
	clean := path.Clean(local)
	if path.IsAbs(clean) || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("local directory %q must stay inside the kernel tree", local)
	}
	return clean, nil
}

func normalizeBaseURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid archive URL %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("archive URL %q must be an absolute http(s) URL", raw)
	}
	u.RawQuery = ""
	u.Fragment = ""
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
		u.RawPath = ""
	}
	return u.String(), nil
}

// BaseURL returns the archive root every folder is resolved against.
func (c *Catalog) BaseURL() string {
	return c.baseURL
}

// WithBaseURL returns a copy of c that resolves folders against baseURL.
// An empty baseURL returns c unchanged.
func (c *Catalog) WithBaseURL(baseURL string) (*Catalog, error) {
	if baseURL == "" {
		return c, nil
	}
	normalized, err := normalizeBaseURL(baseURL)
	if err != nil {
		return nil, &ConfigurationError{Source: "archive.base_url", Wrapped: err}
	}
	cp := *c
	cp.baseURL = normalized
	return &cp, nil
}

// Spacecraft returns every entry ordered by id.
func (c *Catalog) Spacecraft() []Spacecraft {
	return append([]Spacecraft(nil), c.spacecraft...)
}

// Lookup finds a spacecraft by id or alias in any spelling Canonicalize
// folds together.
func (c *Catalog) Lookup(id string) (Spacecraft, bool) {
	i, ok := c.index[Canonicalize(id)]
	if !ok {
		return Spacecraft{}, false
	}
	return c.spacecraft[i], true
}

// Resolve maps a spacecraft identifier and a GOOS-style platform name to the
// fetch specs that provision it. Generic specs are always included. Unknown
// identifiers yield a ConfigurationError wrapping ErrUnknownSpacecraft.
func (c *Catalog) Resolve(id, platform string) (*Resolution, error) {
	if strings.TrimSpace(id) == "" {
		return nil, &ConfigurationError{Reason: "spacecraft identifier is empty", Wrapped: ErrUnknownSpacecraft}
	}
	sc, ok := c.Lookup(id)
	if !ok {
		return nil, &ConfigurationError{Spacecraft: id, Wrapped: ErrUnknownSpacecraft}
	}

	res := &Resolution{Spacecraft: sc}
	for _, row := range c.generic {
		res.Generic = append(res.Generic, c.spec(row, ScopeGeneric, platform))
	}
	for _, row := range sc.Kernels {
		res.Mission = append(res.Mission, c.spec(row, ScopeSpacecraft, platform))
	}
	return res, nil
}

func (c *Catalog) spec(row Row, scope Scope, platform string) FetchSpec {
	suffix := row.Suffix
	if s, ok := row.PlatformSuffix[platform]; ok {
		suffix = s
	}
	local, _ := cleanLocal(row.Local)
	folder := strings.TrimLeft(row.Folder, "/")
	if !strings.HasSuffix(folder, "/") {
		folder += "/"
	}
	return FetchSpec{
		Category:      row.Category,
		Scope:         scope,
		RemoteURL:     c.baseURL + folder,
		LocalSubdir:   local,
		Patterns:      withSuffix(row.Patterns, suffix),
		AliasPatterns: withSuffix(row.AliasPatterns, suffix),
	}
}

func withSuffix(patterns []string, suffix string) []string {
	if len(patterns) == 0 {
		return nil
	}
	out := make([]string, len(patterns))
	for i, p := range patterns {
		out[i] = p + suffix
	}
	return out
}
