/*
Copyright © 2026 3 Leaps <info@3leaps.net>
*/
package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/fulmenhq/metakernel/pkg/catalog"
	"github.com/fulmenhq/metakernel/pkg/config"
	"github.com/fulmenhq/metakernel/pkg/layout"
	"github.com/fulmenhq/metakernel/pkg/logger"
	"github.com/fulmenhq/metakernel/pkg/manifest"
	"github.com/fulmenhq/metakernel/pkg/provision"
	"github.com/fulmenhq/metakernel/pkg/remote"
	"github.com/fulmenhq/metakernel/pkg/safeio"
)

func newBuildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build <spacecraft>",
		Short: "Download kernels for a spacecraft and write its metakernel",
		Long: `Build lists the archive folders the catalog names for a spacecraft, downloads
every matching kernel that is missing or stale, and writes
<basedir>/SPICE/<spacecraft>/metakernel_<spacecraft>.txt.

A failing folder or file never stops the others. Existing manifests are only
replaced after confirmation (or with --yes).`,
		Args: cobra.ExactArgs(1),
		RunE: runBuild,
	}

	cmd.Flags().StringP("basedir", "d", "", "Directory that holds the SPICE tree (default from config, else .)")
	cmd.Flags().BoolP("force", "f", false, "Download every kernel even if the local copy is current")
	cmd.Flags().BoolP("yes", "y", false, "Overwrite an existing manifest without asking")
	cmd.Flags().Int("workers", 0, "Concurrent fetch specs (1-8, default from config)")
	cmd.Flags().String("catalog", "", "Catalog overlay file (YAML or TOML)")
	cmd.Flags().String("archive-url", "", "Archive root URL (default https://naif.jpl.nasa.gov/pub/naif/)")
	cmd.Flags().Duration("list-timeout", 0, "Deadline for each directory listing")
	cmd.Flags().Duration("transfer-timeout", 0, "Deadline for each file transfer")
	cmd.Flags().String("report", "", "Write a JSON or YAML run report to this file")
	cmd.Flags().Bool("no-progress", false, "Disable the transfer progress line")
	cmd.Flags().String("platform", runtime.GOOS, "Platform whose kernel variants to fetch")
	_ = cmd.Flags().MarkHidden("platform")

	return cmd
}

// loadSettings reads config and applies any flags the user set explicitly.
func loadSettings(cmd *cobra.Command) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, &catalog.ConfigurationError{Source: "config", Wrapped: err}
	}

	applyFlags(cmd.Flags(), cfg)
	if err := cfg.Validate(); err != nil {
		return nil, &catalog.ConfigurationError{Source: "flags", Wrapped: err}
	}
	return cfg, nil
}

// applyFlags copies every explicitly set flag of fs over cfg. Commands that
// do not define a flag leave the matching setting alone.
func applyFlags(fs *pflag.FlagSet, cfg *config.Config) {
	changed := func(name string) bool {
		return fs.Lookup(name) != nil && fs.Changed(name)
	}
	if changed("basedir") {
		cfg.Basedir, _ = fs.GetString("basedir")
	}
	if changed("workers") {
		n, _ := fs.GetInt("workers")
		cfg.Fetch.Workers = config.ClampWorkers(n)
	}
	if changed("catalog") {
		cfg.Catalog.File, _ = fs.GetString("catalog")
	}
	if changed("archive-url") {
		cfg.Archive.BaseURL, _ = fs.GetString("archive-url")
	}
	if changed("list-timeout") {
		cfg.HTTP.ListTimeout, _ = fs.GetDuration("list-timeout")
	}
	if changed("transfer-timeout") {
		cfg.HTTP.TransferTimeout, _ = fs.GetDuration("transfer-timeout")
	}
}

// loadCatalog returns the catalog named by cfg, pointed at cfg's archive.
func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	cat, err := catalog.Load(cfg.Catalog.File)
	if err != nil {
		return nil, err
	}
	// The built-in archive default must not mask an overlay's archive_url.
	if cfg.Archive.BaseURL != catalog.DefaultArchiveURL {
		return cat.WithBaseURL(cfg.Archive.BaseURL)
	}
	return cat, nil
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	assembler, err := manifest.NewAssembler(manifest.Options{
		HeaderTemplate: cfg.Manifest.HeaderTemplate,
		Exclude:        cfg.Manifest.Exclude,
	})
	if err != nil {
		return &catalog.ConfigurationError{Source: "manifest", Wrapped: err}
	}

	force, _ := cmd.Flags().GetBool("force")
	yes, _ := cmd.Flags().GetBool("yes")
	noProgress, _ := cmd.Flags().GetBool("no-progress")
	platform, _ := cmd.Flags().GetString("platform")
	reportPath, _ := cmd.Flags().GetString("report")

	progress := newProgressPrinter(cmd.ErrOrStderr(), !noProgress && isTerminal(cmd.ErrOrStderr()))
	p, err := provision.New(provision.Options{
		HTTP:            remote.NewRealHTTPFetcher(remote.NewHTTPClient(cfg.HTTP.HeaderTimeout)),
		Catalog:         cat,
		Workers:         cfg.Fetch.Workers,
		ListTimeout:     cfg.HTTP.ListTimeout,
		TransferTimeout: cfg.HTTP.TransferTimeout,
		FallbackSize:    cfg.Fetch.FallbackSize,
		Progress:        progress.Update,
		Platform:        platform,
	})
	if err != nil {
		return err
	}

	start := time.Now()
	result, err := p.Run(ctx, provision.Request{Spacecraft: args[0], Basedir: cfg.Basedir, Force: force})
	progress.Finish()
	if err != nil {
		if result != nil {
			printSummary(out, result)
		}
		return err
	}
	printSummary(out, result)

	rep := newReport(result, time.Since(start))
	defer func() {
		if reportPath == "" {
			return
		}
		if err := writeReport(reportPath, rep); err != nil {
			logger.Warn("failed to write report", logger.String("path", reportPath), logger.Err(err))
		}
	}()

	lay := result.Layout
	if result.Files() == 0 {
		if safeio.Exists(lay.ManifestPath) {
			fmt.Fprintf(out, "No kernels obtained; keeping existing manifest %s\n", lay.ManifestPath)
			rep.Manifest = manifestReport{Path: lay.ManifestPath, Reason: string(manifest.ReasonUnchanged)}
			return nil
		}
		fmt.Fprintln(out, "No manifest was produced.")
		return errNoKernels
	}

	data, err := assembler.Build(manifestInput(result, lay))
	if err != nil {
		return err
	}

	confirm := func() bool { return true }
	if !yes {
		confirm = promptConfirm(cmd.InOrStdin(), out, fmt.Sprintf("Overwrite existing manifest %s?", lay.ManifestPath))
	}
	wr, err := manifest.Write(lay.ManifestPath, data, confirm)
	if err != nil {
		fmt.Fprintln(out, "No manifest was produced.")
		return err
	}
	rep.Manifest = manifestReport{Path: wr.Path, Written: wr.Written, Reason: string(wr.Reason)}

	switch wr.Reason {
	case manifest.ReasonDeclined:
		fmt.Fprintf(out, "Existing manifest kept: %s\n", wr.Path)
	case manifest.ReasonUnchanged:
		fmt.Fprintf(out, "Manifest unchanged: %s\n", wr.Path)
	default:
		fmt.Fprintf(out, "Manifest written: %s\n", wr.Path)
	}
	return nil
}

func manifestInput(result *provision.Result, lay *layout.Layout) manifest.Input {
	return manifest.Input{
		Name:          filepath.Base(lay.ManifestPath),
		Spacecraft:    result.Spacecraft.ID,
		GenericDir:    lay.GenericDir,
		SpacecraftDir: lay.SpacecraftDir,
		Generic:       result.Generic,
		Mission:       result.Mission,
		Leapseconds:   result.LeapsecondsDirs(),
	}
}

func printSummary(out io.Writer, result *provision.Result) {
	fmt.Fprintf(out, "%s: %s\n", result.Spacecraft.DisplayName(), result.Tally.Summary())
	for _, o := range result.Outcomes {
		if o.ListErr != nil {
			fmt.Fprintf(out, "  listing failed: %s: %v\n", o.Spec.RemoteURL, o.ListErr)
		}
		for _, fe := range o.FileErrors {
			fmt.Fprintf(out, "  fetch failed: %s: %v\n", fe.Name, fe.Err)
		}
	}
}
