package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/roach88/ormcore/internal/compiler"
	"github.com/roach88/ormcore/internal/entity"
	"github.com/roach88/ormcore/internal/meta"
)

// EntityDescription is the describe output for one entity.
type EntityDescription struct {
	Name          string                `json:"name"`
	Table         string                `json:"table,omitempty"`
	PrimaryKeys   []string              `json:"primary_keys,omitempty"`
	Extends       string                `json:"extends,omitempty"`
	Abstract      bool                  `json:"abstract,omitempty"`
	Embeddable    bool                  `json:"embeddable,omitempty"`
	Discriminator string                `json:"discriminator,omitempty"`
	Properties    []PropertyDescription `json:"properties"`
	Plans         map[string][]string   `json:"plans,omitempty"`
}

// PropertyDescription is the describe output for one property.
type PropertyDescription struct {
	Name    string   `json:"name"`
	Kind    string   `json:"kind"`
	Type    string   `json:"type,omitempty"`
	Target  string   `json:"target,omitempty"`
	Owner   bool     `json:"owner,omitempty"`
	Columns []string `json:"columns,omitempty"`
}

// spewConfig dumps plans without pointer noise so output is stable.
var spewConfig = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

// NewDescribeCommand creates the describe command.
func NewDescribeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "describe <schema-dir> [entity]",
		Short: "Print entity descriptors and hydration plans",
		Long: `Print the finalized descriptors of a schema and the hydration plans the
runtime compiles for them: one full plan and one reference plan per entity.

With an entity name only that entity is described. Verbose mode dumps the
compiled plan steps.

Examples:
  ormcore describe ./schema
  ormcore describe ./schema Book --verbose
  ormcore describe ./schema --format json`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 2 {
				name = args[1]
			}
			return runDescribe(rootOpts, args[0], name, cmd)
		},
	}

	return cmd
}

func runDescribe(opts *RootOptions, schemaDir, name string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	registry, err := compiler.LoadRegistry(schemaDir)
	if err != nil {
		return formatter.Fail(compiler.ErrCodeLoadFailed, "load schema", err)
	}

	metas := registry.All()
	if name != "" {
		m, err := registry.Get(name)
		if err != nil {
			return formatter.Fail(compiler.ErrCodeNotFound, "describe", err)
		}
		metas = []*meta.EntityMeta{m}
	}

	rt := entity.NewRuntime(registry)
	descriptions := make([]EntityDescription, 0, len(metas))
	for _, m := range metas {
		d, steps := describeEntity(rt, m)
		descriptions = append(descriptions, d)
		if opts.Verbose && len(steps) > 0 {
			formatter.VerboseLog("%s plan steps:\n%s", m.Name, spewConfig.Sdump(steps))
		}
	}

	if opts.Format == "json" {
		return formatter.Success(descriptions)
	}
	for _, d := range descriptions {
		writeDescription(formatter.Writer, d)
	}
	return nil
}

// describeEntity returns the description of m and its raw plan steps by
// mode. Embeddables have no plans of their own.
func describeEntity(rt *entity.Runtime, m *meta.EntityMeta) (EntityDescription, map[string][]entity.StepInfo) {
	d := EntityDescription{
		Name:          m.Name,
		Table:         m.Table,
		PrimaryKeys:   m.PrimaryKeys,
		Extends:       m.Extends,
		Abstract:      m.Abstract,
		Embeddable:    m.Embeddable,
		Discriminator: m.DiscriminatorValue,
		Properties:    make([]PropertyDescription, 0, len(m.Properties)),
	}
	for _, p := range m.Properties {
		d.Properties = append(d.Properties, PropertyDescription{
			Name:    p.Name,
			Kind:    p.Kind.String(),
			Type:    p.Type,
			Target:  targetOf(p),
			Owner:   p.Owner,
			Columns: p.FieldNames,
		})
	}
	if m.Embeddable {
		return d, nil
	}

	steps := make(map[string][]entity.StepInfo, 2)
	d.Plans = make(map[string][]string, 2)
	for _, mode := range []entity.Mode{entity.ModeFull, entity.ModeReference} {
		s, err := rt.PlanSteps(m.Name, mode)
		if err != nil {
			d.Plans[mode.String()] = []string{"error: " + err.Error()}
			continue
		}
		steps[mode.String()] = s
		labels := make([]string, len(s))
		for i, st := range s {
			labels[i] = st.Property + ":" + st.Class.String()
		}
		d.Plans[mode.String()] = labels
	}
	return d, steps
}

// targetOf is the relation target or embeddable type of p.
func targetOf(p *meta.Property) string {
	if p.Kind == meta.KindEmbedded {
		return p.Embeddable
	}
	return p.Target
}

func writeDescription(w io.Writer, d EntityDescription) {
	header := d.Name
	var traits []string
	if d.Table != "" {
		traits = append(traits, "table "+d.Table)
	}
	if d.Extends != "" {
		traits = append(traits, "extends "+d.Extends)
	}
	if d.Discriminator != "" {
		traits = append(traits, fmt.Sprintf("discriminator %q", d.Discriminator))
	}
	if d.Abstract {
		traits = append(traits, "abstract")
	}
	if d.Embeddable {
		traits = append(traits, "embeddable")
	}
	if len(traits) > 0 {
		header += " (" + strings.Join(traits, ", ") + ")"
	}
	fmt.Fprintln(w, header)

	for _, p := range d.Properties {
		line := fmt.Sprintf("  %-16s %-8s", p.Name, p.Kind)
		switch {
		case p.Target != "":
			line += " → " + p.Target
		case p.Type != "":
			line += " " + p.Type
		}
		if slices.Contains(d.PrimaryKeys, p.Name) {
			line += " [pk]"
		}
		if p.Owner {
			line += " [owner]"
		}
		if len(p.Columns) > 0 {
			line += " (" + strings.Join(p.Columns, ", ") + ")"
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}

	for _, mode := range []string{"full", "reference"} {
		if steps, ok := d.Plans[mode]; ok {
			fmt.Fprintf(w, "  plan %s: %s\n", mode, strings.Join(steps, ", "))
		}
	}
	fmt.Fprintln(w)
}
