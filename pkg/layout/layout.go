// Package layout owns the on-disk shape of a provisioned kernel tree:
//
//	<basedir>/SPICE/generic/kernels/{lsk,pck,spk/planets,spk/satellites}/
//	<basedir>/SPICE/<spacecraft>/kernels/{spk,fk}/
//	<basedir>/SPICE/<spacecraft>/metakernel_<spacecraft>.txt
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fulmenhq/metakernel/pkg/catalog"
	"github.com/fulmenhq/metakernel/pkg/safeio"
)

const (
	rootDir    = "SPICE"
	genericDir = "generic"
	kernelsDir = "kernels"
)

// Layout resolves the absolute directories used for one spacecraft.
type Layout struct {
	Root          string
	GenericDir    string
	SpacecraftDir string
	ManifestPath  string
}

// New builds the layout for spacecraft under basedir. basedir is made
// absolute so the manifest can bind path symbols to it. spacecraft must
// already be canonical.
func New(basedir, spacecraft string) (*Layout, error) {
	if spacecraft == "" || spacecraft == genericDir || strings.ContainsAny(spacecraft, `/\`) || strings.Contains(spacecraft, "..") {
		return nil, fmt.Errorf("invalid spacecraft directory name %q", spacecraft)
	}
	if basedir == "" {
		basedir = "."
	}
	abs, err := filepath.Abs(basedir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory %q: %w", basedir, err)
	}

	root := filepath.Join(abs, rootDir)
	scRoot := filepath.Join(root, spacecraft)
	return &Layout{
		Root:          root,
		GenericDir:    filepath.Join(root, genericDir, kernelsDir),
		SpacecraftDir: filepath.Join(scRoot, kernelsDir),
		ManifestPath:  filepath.Join(scRoot, "metakernel_"+spacecraft+".txt"),
	}, nil
}

// ScopeDir returns the kernel directory for a spec scope.
func (l *Layout) ScopeDir(scope catalog.Scope) string {
	if scope == catalog.ScopeGeneric {
		return l.GenericDir
	}
	return l.SpacecraftDir
}

// SpecDir returns the local directory a fetch spec writes into.
func (l *Layout) SpecDir(spec catalog.FetchSpec) string {
	return filepath.Join(l.ScopeDir(spec.Scope), filepath.FromSlash(spec.LocalSubdir))
}

// Ensure creates the kernel directory of every spec plus the manifest's
// parent directory.
func (l *Layout) Ensure(specs ...catalog.FetchSpec) error {
	dirs := []string{l.GenericDir, l.SpacecraftDir, filepath.Dir(l.ManifestPath)}
	for _, s := range specs {
		dirs = append(dirs, l.SpecDir(s))
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, safeio.DirMode); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}
	return nil
}
