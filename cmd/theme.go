// cmd/theme.go - Render theme commands
package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/valpere/tilerender/internal"
	"github.com/valpere/tilerender/internal/theme"
)

// themeCmd groups the render theme commands
var themeCmd = &cobra.Command{
	Use:   "theme",
	Short: "Work with render themes",
}

// themeValidateCmd represents the theme validate command
var themeValidateCmd = &cobra.Command{
	Use:   "validate <theme.xml>",
	Short: "Parse a render theme and print its statistics",
	Long: `Parse a render theme, resolve its symbol references and print rule and level
statistics. The command fails on malformed themes, so it can guard theme changes
in CI.

Examples:
  tilerender theme validate theme.xml`,
	Args: cobra.ExactArgs(1),
	RunE: runThemeValidate,
}

// themeWatchCmd represents the theme watch command
var themeWatchCmd = &cobra.Command{
	Use:   "watch <theme.xml>",
	Short: "Reload a render theme whenever it changes",
	Long: `Watch a render theme file and print its statistics after every successful reload.
A theme that fails to parse is reported and the previous version stays active.

Examples:
  tilerender theme watch theme.xml`,
	Args: cobra.ExactArgs(1),
	RunE: runThemeWatch,
}

func init() {
	rootCmd.AddCommand(themeCmd)
	themeCmd.AddCommand(themeValidateCmd)
	themeCmd.AddCommand(themeWatchCmd)
}

func runThemeValidate(cmd *cobra.Command, args []string) error {
	th, err := theme.LoadFile(afero.NewOsFs(), args[0])
	if err != nil {
		return err
	}
	defer th.Destroy()

	printThemeStats(cmd.OutOrStdout(), args[0], th)
	return nil
}

func runThemeWatch(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	w, err := theme.NewWatcher(args[0], nil, func(th *theme.RenderTheme) {
		printThemeStats(out, args[0], th)
	})
	if err != nil {
		return err
	}
	defer w.Close()
	printThemeStats(out, args[0], w.Current())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	internal.Logger().Info("watching theme", "path", args[0])
	w.Run(ctx)
	return nil
}

func printThemeStats(out io.Writer, path string, th *theme.RenderTheme) {
	bg := th.Background()
	fmt.Fprintf(out, "Theme: %s\n", path)
	fmt.Fprintf(out, "ID: %s\n", th.ID())
	fmt.Fprintf(out, "Rules: %d\n", th.Rules())
	fmt.Fprintf(out, "Levels: %d %v\n", th.GetLevels(), th.Levels())
	fmt.Fprintf(out, "Background: #%02x%02x%02x%02x\n", bg.A, bg.R, bg.G, bg.B)
}
