package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new sphbox project",
		Long: `Initialize a new sphbox project.

This creates:
  - sphbox.yaml configuration file
  - jobs.hcl example batch job file
  - dems/ directory for DEM rasters
  - inputs/ directory for release points and .TOP files
  - .gitignore excluding the ledger and results`,
		Example: `  # Initialize in current directory
  sphbox init

  # Initialize in a new directory
  sphbox init north-valley

  # Force overwrite existing files
  sphbox init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			r := NewCommandContextWithoutEngine(cmd).Renderer

			if err := os.MkdirAll(dir, 0o750); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}

			configPath := filepath.Join(dir, "sphbox.yaml")
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("%s already exists. Use --force to overwrite", configPath)
			}

			files, err := copyTemplate("project", dir, force)
			if err != nil {
				return fmt.Errorf("failed to initialize project: %w", err)
			}
			for _, f := range files {
				r.StatusLine(f, "success", "")
			}

			r.Println("")
			r.Success("sphbox project initialized!")
			r.Println("")
			r.Println("Next steps:")
			r.Println("  1. Point solver.executable in sphbox.yaml at the SPH solver")
			r.Println("  2. Run 'sphbox doctor' to check the setup")
			r.Println("  3. Convert a DEM with 'sphbox dem2top dems/<name>.asc'")
			r.Println("  4. Edit jobs.hcl and run 'sphbox batch jobs.hcl'")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files")

	return cmd
}
