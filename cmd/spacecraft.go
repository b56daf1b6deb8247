/*
Copyright © 2026 3 Leaps <info@3leaps.net>
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
)

func newSpacecraftCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "spacecraft",
		Aliases: []string{"list"},
		Short:   "List the spacecraft the catalog can provision",
		Args:    cobra.NoArgs,
		RunE:    runSpacecraft,
	}
	cmd.Flags().String("catalog", "", "Catalog overlay file (YAML or TOML)")
	cmd.Flags().String("format", "text", "Output format (text|json)")
	return cmd
}

type spacecraftEntry struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
	Folders []string `json:"folders"`
}

func runSpacecraft(cmd *cobra.Command, _ []string) error {
	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" {
		return fmt.Errorf("unsupported format %q (want text or json)", format)
	}

	var entries []spacecraftEntry
	for _, sc := range cat.Spacecraft() {
		e := spacecraftEntry{ID: sc.ID, Name: sc.DisplayName(), Aliases: sc.Aliases}
		for _, k := range sc.Kernels {
			e.Folders = append(e.Folders, k.Folder)
		}
		entries = append(entries, e)
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format JSON: %v", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	idWidth, nameWidth := runewidth.StringWidth("ID"), runewidth.StringWidth("NAME")
	for _, e := range entries {
		idWidth = max(idWidth, runewidth.StringWidth(e.ID))
		nameWidth = max(nameWidth, runewidth.StringWidth(e.Name))
	}
	row := func(id, name, folders string) {
		fmt.Fprintf(out, "%s  %s  %s\n", runewidth.FillRight(id, idWidth), runewidth.FillRight(name, nameWidth), folders)
	}
	row("ID", "NAME", "FOLDERS")
	for _, e := range entries {
		row(e.ID, e.Name, strings.Join(e.Folders, ", "))
	}
	fmt.Fprintf(out, "\nArchive: %s (generic kernels are included for every spacecraft)\n", cat.BaseURL())
	return nil
}
