package commands

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/landslide-lab/sphbox/internal/cli/output"
	"github.com/landslide-lab/sphbox/internal/params"
	"github.com/landslide-lab/sphbox/pkg/core"
)

// ParamOutput is one allow-list entry in JSON output.
type ParamOutput struct {
	Key     string  `json:"key"`
	Kind    string  `json:"kind"`
	Target  string  `json:"target"`
	Default float64 `json:"default"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Help    string  `json:"help"`
}

// ParamsOutput is the JSON output of the params command.
type ParamsOutput struct {
	Params  []ParamOutput          `json:"params,omitempty"`
	Presets map[string]core.Params `json:"presets"`
}

// NewParamsCommand creates the params command.
func NewParamsCommand() *cobra.Command {
	var preset string

	cmd := &cobra.Command{
		Use:   "params",
		Short: "Show solver parameters and presets",
		Long: `Show the solver parameters accepted by 'sphbox model advanced', with
their defaults and allowed ranges, and the presets available to
'sphbox model simple'. Presets come from the built-in set and the presets
section of sphbox.yaml.

With --preset, show the full parameter set the named preset resolves to.`,
		Example: `  sphbox params
  sphbox params --preset debris_flow
  sphbox params -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx := NewCommandContextWithoutEngine(cmd)
			r := cmdCtx.Renderer
			presets := params.BuiltinPresets().Merge(cmdCtx.Cfg.PresetSet())

			if preset != "" {
				resolved, err := presets.Resolve(preset)
				if err != nil {
					return err
				}
				return renderPreset(r, preset, resolved)
			}

			if r.EffectiveMode() == output.ModeJSON {
				out := ParamsOutput{Presets: make(map[string]core.Params, len(presets))}
				for _, s := range params.AllowList {
					out.Params = append(out.Params, ParamOutput{
						Key: s.Key, Kind: string(s.Kind), Target: string(s.Target),
						Default: s.Default, Min: s.Min, Max: s.Max, Help: s.Help,
					})
				}
				for _, name := range presets.Names() {
					out.Presets[name] = presets[name]
				}
				return r.JSON(out)
			}

			r.Header(1, "Parameters")
			rows := make([][]string, 0, len(params.AllowList))
			for _, s := range params.AllowList {
				rows = append(rows, []string{
					s.Key,
					string(s.Kind),
					formatNumber(s.Default),
					formatNumber(s.Min) + " .. " + formatNumber(s.Max),
					string(s.Target),
					s.Help,
				})
			}
			r.Table([]string{"Key", "Type", "Default", "Range", "File", "Description"}, rows)
			r.Println("")

			r.Header(1, "Presets")
			for _, name := range presets.Names() {
				r.Println("  " + name + "  " + formatOverrides(presets[name]))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&preset, "preset", "", "show the resolved values of this preset")
	return cmd
}

func renderPreset(r *output.Renderer, name string, p core.Params) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(ParamsOutput{Presets: map[string]core.Params{name: p}})
	}

	r.Header(1, "Preset "+name)
	rows := make([][]string, 0, len(params.AllowList))
	for _, s := range params.AllowList {
		v := p[s.Key]
		changed := ""
		if v != s.Default {
			changed = "*"
		}
		rows = append(rows, []string{s.Key, formatNumber(v), changed})
	}
	r.Table([]string{"Key", "Value", "Changed"}, rows)
	return nil
}

// formatOverrides lists the keys of a preset in allow-list order.
func formatOverrides(p core.Params) string {
	out := ""
	for _, s := range params.AllowList {
		v, ok := p[s.Key]
		if !ok {
			continue
		}
		if out != "" {
			out += " "
		}
		out += s.Key + "=" + formatNumber(v)
	}
	return out
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
