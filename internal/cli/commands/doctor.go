package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/spf13/cobra"

	"github.com/landslide-lab/sphbox/internal/cli/config"
	"github.com/landslide-lab/sphbox/internal/cli/output"
	"github.com/landslide-lab/sphbox/internal/publish"
	"github.com/landslide-lab/sphbox/internal/solver"
	"github.com/landslide-lab/sphbox/internal/state"
)

// probeTimeout bounds network checks.
const probeTimeout = 5 * time.Second

// Check statuses.
const (
	checkPass  = "pass"
	checkWarn  = "warn"
	checkError = "error"
)

// DoctorOptions holds options for the doctor command.
type DoctorOptions struct {
	Format string // Output format: text, markdown, json
}

// DoctorOutput is the JSON output for the doctor command.
type DoctorOutput struct {
	ConfigFile string        `json:"config_file,omitempty"`
	Checks     []HealthCheck `json:"checks"`
	Errors     int           `json:"errors"`
	Warnings   int           `json:"warnings"`
}

// HealthCheck represents a single check result.
type HealthCheck struct {
	Name   string `json:"name"`
	Group  string `json:"group"`
	Status string `json:"status"` // "pass", "warn", "error"
	Detail string `json:"detail"`
	Hint   string `json:"hint,omitempty"`
}

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	opts := &DoctorOptions{}
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the sphbox setup",
		Long: `Check that sphbox is ready to run:
- configuration file and presets
- solver executable (and launcher)
- working directory root
- run ledger and its schema version
- artifact bucket, when publishing is configured

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format
  - JSON: Machine-readable format`,
		Example: `  # Run all checks
  sphbox doctor

  # Output as JSON
  sphbox doctor --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", "", "Output format: text, markdown, json")

	return cmd
}

func runDoctor(cmd *cobra.Command, opts *DoctorOptions) error {
	cmdCtx := NewCommandContextWithoutEngine(cmd)
	r := cmdCtx.Renderer

	// Override renderer if format flag is set
	if opts.Format != "" {
		r = output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(opts.Format))
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := diagnose(ctx, cmdCtx.Cfg, config.GetConfigFileUsed())

	var err error
	switch r.EffectiveMode() {
	case output.ModeJSON:
		err = r.JSON(out)
	case output.ModeMarkdown:
		renderDoctorMarkdown(r, out)
	default:
		renderDoctorText(r, out)
	}
	if err != nil {
		return err
	}
	if out.Errors > 0 {
		return fmt.Errorf("%d of %d checks failed", out.Errors, len(out.Checks))
	}
	return nil
}

// diagnose runs every check against cfg.
func diagnose(ctx context.Context, cfg *config.Config, configFile string) *DoctorOutput {
	out := &DoctorOutput{ConfigFile: configFile}
	add := func(c HealthCheck) {
		switch c.Status {
		case checkError:
			out.Errors++
		case checkWarn:
			out.Warnings++
		}
		out.Checks = append(out.Checks, c)
	}

	add(checkConfigFile(configFile))
	add(checkSolver(cfg))
	add(checkWorkRoot(cfg))
	add(checkLedger(ctx, cfg))
	add(checkPublish(ctx, cfg))
	return out
}

func checkConfigFile(path string) HealthCheck {
	c := HealthCheck{Name: "Configuration file", Group: "setup", Status: checkPass, Detail: path}
	if path == "" {
		c.Status = checkWarn
		c.Detail = "no sphbox.yaml found, using defaults"
		c.Hint = "Run 'sphbox init' to create one"
	}
	return c
}

func checkSolver(cfg *config.Config) HealthCheck {
	c := HealthCheck{Name: "Solver executable", Group: "solver"}
	runner := &solver.Runner{Launcher: cfg.Solver.Launcher, Args: cfg.Solver.Args}
	argv, err := runner.Command(cfg.Solver.Executable)
	if err != nil {
		c.Status = checkError
		c.Detail = err.Error()
		c.Hint = "Set solver.executable in sphbox.yaml or pass --solver"
		return c
	}
	c.Status = checkPass
	c.Detail = strings.Join(argv, " ")
	return c
}

func checkWorkRoot(cfg *config.Config) HealthCheck {
	c := HealthCheck{Name: "Working directory root", Group: "solver"}
	root := cfg.WorkRoot
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		c.Status = checkError
		c.Detail = err.Error()
		return c
	}
	probe, err := os.MkdirTemp(root, "sphbox-doctor-")
	if err != nil {
		c.Status = checkError
		c.Detail = fmt.Sprintf("%s is not writable: %v", root, err)
		c.Hint = "Point work_root at a writable directory"
		return c
	}
	_ = os.Remove(probe)
	c.Status = checkPass
	c.Detail = root
	return c
}

func checkLedger(ctx context.Context, cfg *config.Config) HealthCheck {
	c := HealthCheck{Name: "Run ledger", Group: "storage"}
	if cfg.StatePath != state.MemoryPath {
		if _, err := os.Stat(cfg.StatePath); os.IsNotExist(err) {
			c.Status = checkWarn
			c.Detail = cfg.StatePath + " does not exist yet"
			c.Hint = "It is created by the first run"
			return c
		}
	}

	store, err := state.Open(ctx, cfg.StatePath, nil)
	if err != nil {
		c.Status = checkError
		c.Detail = err.Error()
		return c
	}
	defer func() { _ = store.Close() }()

	version, err := store.MigrationVersion(ctx)
	if err != nil {
		c.Status = checkError
		c.Detail = err.Error()
		return c
	}
	c.Status = checkPass
	c.Detail = fmt.Sprintf("%s (schema version %d)", cfg.StatePath, version)
	return c
}

func checkPublish(ctx context.Context, cfg *config.Config) HealthCheck {
	c := HealthCheck{Name: "Artifact bucket", Group: "storage"}
	if !cfg.Publish.Enabled() {
		c.Status = checkPass
		c.Detail = "publishing disabled"
		return c
	}
	pub, err := publish.New(cfg.Publish, nil)
	if err != nil {
		c.Status = checkError
		c.Detail = err.Error()
		return c
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	exists, err := pub.Probe(ctx)
	switch {
	case err != nil:
		c.Status = checkError
		c.Detail = err.Error()
		c.Hint = "Check publish.endpoint and credentials"
	case !exists:
		c.Status = checkWarn
		c.Detail = fmt.Sprintf("bucket %s does not exist", pub.Bucket())
		c.Hint = "It is created on the first upload"
	default:
		c.Status = checkPass
		c.Detail = fmt.Sprintf("%s/%s", cfg.Publish.Endpoint, pub.Bucket())
	}
	return c
}

func renderDoctorText(r *output.Renderer, out *DoctorOutput) {
	styles := r.Styles()

	r.Println("")
	r.Println(styles.Header1.Render("sphbox Health Report"))
	r.Println(styles.Muted.Render(strings.Repeat("=", 55)))
	r.Println("")

	currentGroup := ""
	titleCaser := cases.Title(language.English)
	for _, check := range out.Checks {
		if check.Group != currentGroup {
			if currentGroup != "" {
				r.Println("")
			}
			currentGroup = check.Group
			r.Println(styles.Bold.Render("   " + titleCaser.String(currentGroup)))
			r.Println(styles.Muted.Render("   " + strings.Repeat("-", 40)))
		}

		icon := styles.StatusSuccess.String()
		switch check.Status {
		case checkWarn:
			icon = styles.Warning.Render("!")
		case checkError:
			icon = styles.StatusFailed.String()
		}

		r.Printf("   %s %s: %s\n", icon, check.Name, check.Detail)
		if check.Hint != "" {
			r.Println(styles.Muted.Render("       " + check.Hint))
		}
	}
	r.Println("")
	r.Println(styles.Muted.Render(strings.Repeat("=", 55)))

	switch {
	case out.Errors > 0:
		r.Println("   " + styles.Error.Render(fmt.Sprintf("%d errors, %d warnings", out.Errors, out.Warnings)))
	case out.Warnings > 0:
		r.Println("   " + styles.Warning.Render(fmt.Sprintf("%d warnings", out.Warnings)))
	default:
		r.Println("   " + styles.Success.Render("All checks passed"))
	}
	r.Println("")
}

func renderDoctorMarkdown(r *output.Renderer, out *DoctorOutput) {
	r.Println("# sphbox Health Report")
	r.Println("")

	currentGroup := ""
	titleCaser := cases.Title(language.English)
	for _, check := range out.Checks {
		if check.Group != currentGroup {
			if currentGroup != "" {
				r.Println("")
			}
			currentGroup = check.Group
			r.Println("## " + titleCaser.String(currentGroup))
			r.Println("")
		}

		r.Printf("- **[%s]** %s: %s\n", strings.ToUpper(check.Status), check.Name, check.Detail)
		if check.Hint != "" {
			r.Printf("  - %s\n", check.Hint)
		}
	}
	r.Println("")
	r.Println("## Summary")
	r.Println("")
	r.Printf("**%d errors, %d warnings**\n", out.Errors, out.Warnings)
}
