package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/memorybook/internal/theme"
)

var themeCmd = &cobra.Command{
	Use:   "theme",
	Short: "Inspect and validate page themes",
}

var themeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the built-in themes",
	Args:  cobra.NoArgs,
	RunE:  runThemeList,
}

var themeShowCmd = &cobra.Command{
	Use:   "show <theme-id|file>",
	Short: "Print a theme as YAML",
	Args:  cobra.ExactArgs(1),
	RunE:  runThemeShow,
}

var themeValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a theme file for errors and warnings",
	Args:  cobra.ExactArgs(1),
	RunE:  runThemeValidate,
}

func init() {
	rootCmd.AddCommand(themeCmd)
	themeCmd.AddCommand(themeListCmd)
	themeCmd.AddCommand(themeShowCmd)
	themeCmd.AddCommand(themeValidateCmd)
}

func themeKind(t *theme.Theme) string {
	if t.IsGrid() {
		return fmt.Sprintf("grid %dx%d", t.Grid.Columns, t.Grid.Rows)
	}
	return fmt.Sprintf("%d slots", len(t.Slots))
}

func runThemeList(cmd *cobra.Command, args []string) error {
	themes, err := theme.Builtin()
	if err != nil {
		return err
	}
	fmt.Printf("%-20s %-10s %-10s %s\n", "ID", "PAGE", "LAYOUT", "NAME")
	for _, t := range themes {
		page := t.PageSize
		if t.Orientation != "" {
			page += " " + t.Orientation
		}
		fmt.Printf("%-20s %-10s %-10s %s\n", t.ID, page, themeKind(t), t.Name)
	}
	return nil
}

func runThemeShow(cmd *cobra.Command, args []string) error {
	t, err := theme.Load(args[0])
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode theme: %w", err)
	}
	fmt.Print(string(out))
	return nil
}

func runThemeValidate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read theme: %w", err)
	}
	t, err := theme.Parse(data)
	if err != nil {
		var verr *theme.ValidationError
		if errors.As(err, &verr) {
			for _, p := range verr.Problems {
				fmt.Printf("  %s\n", p)
			}
			return fmt.Errorf("theme %q has %d errors", verr.ThemeID, len(verr.Problems))
		}
		return err
	}

	warnings := t.Check()
	for _, p := range warnings {
		fmt.Printf("  %s\n", p)
	}
	fmt.Printf("Theme %q is valid (%s, %d warnings)\n", t.ID, themeKind(t), len(warnings))
	return nil
}
