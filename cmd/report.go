package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fulmenhq/metakernel/pkg/provision"
	"github.com/fulmenhq/metakernel/pkg/safeio"
)

// runReport is the machine readable account of one build.
type runReport struct {
	Spacecraft string          `json:"spacecraft" yaml:"spacecraft"`
	Duration   string          `json:"duration" yaml:"duration"`
	Tally      provision.Tally `json:"tally" yaml:"tally"`
	Manifest   manifestReport  `json:"manifest" yaml:"manifest"`
	Specs      []specReport    `json:"specs" yaml:"specs"`
}

type manifestReport struct {
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
	Written bool   `json:"written" yaml:"written"`
	Reason  string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

type specReport struct {
	Category  string   `json:"category" yaml:"category"`
	Scope     string   `json:"scope" yaml:"scope"`
	RemoteURL string   `json:"remote_url" yaml:"remote_url"`
	Dir       string   `json:"dir" yaml:"dir"`
	Patterns  []string `json:"patterns" yaml:"patterns"`
	Matched   []string `json:"matched,omitempty" yaml:"matched,omitempty"`
	Fetched   int      `json:"fetched" yaml:"fetched"`
	Skipped   int      `json:"skipped" yaml:"skipped"`
	Reused    int      `json:"reused" yaml:"reused"`
	Errors    []string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

func newReport(result *provision.Result, took time.Duration) *runReport {
	rep := &runReport{
		Spacecraft: result.Spacecraft.ID,
		Duration:   took.Round(time.Millisecond).String(),
		Tally:      result.Tally,
	}
	for _, o := range result.Outcomes {
		if o.Dir == "" {
			continue
		}
		sr := specReport{
			Category:  string(o.Spec.Category),
			Scope:     string(o.Spec.Scope),
			RemoteURL: o.Spec.RemoteURL,
			Dir:       o.Dir,
			Patterns:  o.Spec.AllPatterns(),
			Matched:   o.Matched,
			Fetched:   o.Fetched,
			Skipped:   o.Skipped,
			Reused:    o.Reused,
		}
		if o.ListErr != nil {
			sr.Errors = append(sr.Errors, o.ListErr.Error())
		}
		for _, fe := range o.FileErrors {
			sr.Errors = append(sr.Errors, fe.Name+": "+fe.Err.Error())
		}
		rep.Specs = append(rep.Specs, sr)
	}
	return rep
}

// writeReport stores rep as YAML for .yaml/.yml paths and JSON otherwise.
func writeReport(path string, rep *runReport) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(rep)
	default:
		data, err = json.MarshalIndent(rep, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return safeio.WriteFileAtomic(path, data)
}
