package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/FocusMirror/internal/platform"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List windows that can be mirrored",
	Long: `List the visible top-level windows of the desktop with the handle to pass
to "focusmirror run --window".`,
	Example: `  # List windows in table format (default)
  focusmirror list

  # List windows in JSON format
  focusmirror list --format json

  # Show the currently focused window
  focusmirror list --current`,
	RunE: runList,
}

var (
	listFormat  string
	listCurrent bool
)

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "output format (table or json)")
	listCmd.Flags().BoolVarP(&listCurrent, "current", "c", false, "show only the focused window")
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	windows, err := a.backend.ListWindows()
	if err != nil {
		return fmt.Errorf("failed to list windows: %w", err)
	}

	if listCurrent {
		fg, err := a.backend.ForegroundWindow()
		if err != nil {
			return fmt.Errorf("no focused window: %w", err)
		}
		windows = filterHandle(windows, fg)
	}

	switch listFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(windows)
	case "table":
		return printWindowsTable(windows)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", listFormat)
	}
}

func filterHandle(windows []platform.WindowInfo, h platform.Handle) []platform.WindowInfo {
	for _, w := range windows {
		if w.Handle == h {
			return []platform.WindowInfo{w}
		}
	}
	return nil
}

func printWindowsTable(windows []platform.WindowInfo) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "HANDLE\tSIZE\tPID\tCLASS\tTITLE")
	fmt.Fprintln(w, "------\t----\t---\t-----\t-----")

	for _, win := range windows {
		fmt.Fprintf(w, "%#x\t%dx%d\t%d\t%s\t%s\n",
			uintptr(win.Handle), win.Rect.Width(), win.Rect.Height(), win.PID, win.Class, win.Title)
	}
	return nil
}
