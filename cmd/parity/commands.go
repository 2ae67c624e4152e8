package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/parity/internal/api"
	"github.com/kalambet/parity/internal/config"
	"github.com/kalambet/parity/internal/privileged"
	"github.com/kalambet/parity/internal/reconcile"
	"github.com/kalambet/parity/internal/state"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- items ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every item grouped by category",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/items")
		if err != nil {
			return err
		}
		var groups []api.GroupView
		if err := decodeJSON(resp, &groups); err != nil {
			return err
		}

		if asJSON {
			return printJSON(groups)
		}
		fmt.Print(renderItems(groups))
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <item>",
	Short: "Show one item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/items/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var it api.ItemView
		if err := decodeJSON(resp, &it); err != nil {
			return err
		}
		printItem(it)
		return nil
	},
}

func printItem(it api.ItemView) {
	fmt.Fprintln(os.Stderr, colorize(boldStyle, it.Title))
	if it.Subtitle != "" {
		fmt.Fprintf(os.Stderr, "  %s\n", it.Subtitle)
	}
	printStatus("Id", "%s", it.ID)
	printStatus("Accessor", "%s", it.Accessor)
	printStatus("State", "%s", stateLabel(it))
	printStatus("Live", "%s", displayValue(it.LiveValue, it.Unit))
	printStatus("Custom", "%s", displayValue(it.CustomValue, it.Unit))
	printStatus("Platform default", "%s%s", it.PlatformDefault, it.Unit)
	printStatus("Foreign default", "%s%s", it.ForeignDefault, it.Unit)
	if !it.Supported {
		printWarning("%s: %s", lockedLabel, reconcile.UnsupportedReason)
	}
	if it.LastError != nil {
		printError("last apply failed: %s", *it.LastError)
	}
}

var applyCmd = &cobra.Command{
	Use:   "apply <item> <state>",
	Short: "Apply PLATFORM_DEFAULT, CUSTOM or FOREIGN_DEFAULT to an item",
	Long: `Apply a state to an item. The value written is the platform default,
the saved custom value, or the foreign-platform default.

Examples:
  parity apply animator_duration_scale foreign_default
  parity apply navigation_mode custom`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		target, err := state.ParseState(args[1])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/items/"+url.PathEscape(id)+"/apply", map[string]string{"state": target.String()})
		if err != nil {
			return err
		}
		var it api.ItemView
		if err := decodeJSON(resp, &it); err != nil {
			return err
		}
		printSuccess("%s is now %s (%s)", id, it.State, displayValue(it.LiveValue, it.Unit))
		return nil
	},
}

var saveCustomCmd = &cobra.Command{
	Use:   "save-custom <item>",
	Short: "Save the item's live value as its custom value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/items/"+url.PathEscape(args[0])+"/save-custom", nil)
		if err != nil {
			return err
		}
		var it api.ItemView
		if err := decodeJSON(resp, &it); err != nil {
			return err
		}
		printSuccess("Saved %s custom value = %s", it.ID, displayValue(it.CustomValue, it.Unit))
		return nil
	},
}

func init() {
	listCmd.Flags().Bool("json", false, "print items as JSON")
}

// --- backends ---

var modeCmd = &cobra.Command{
	Use:   "mode [auto|root|broker|bridge]",
	Short: "Show or set the privileged backend mode",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var result struct {
			Mode  string   `json:"mode"`
			Modes []string `json:"modes"`
		}
		if len(args) == 0 {
			resp, err := client.get(cmd.Context(), "/mode")
			if err != nil {
				return err
			}
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			printStatus("Mode", "%s (one of %s)", result.Mode, strings.Join(result.Modes, ", "))
			return nil
		}

		m, err := privileged.ParseMode(args[0])
		if err != nil {
			return err
		}
		resp, err := client.put(cmd.Context(), "/mode", map[string]string{"mode": string(m)})
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Backend mode set to %s", result.Mode)
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-probe backends and re-read every live value",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/refresh", nil)
		if err != nil {
			return err
		}
		var groups []api.GroupView
		if err := decodeJSON(resp, &groups); err != nil {
			return err
		}
		n := 0
		for _, g := range groups {
			n += len(g.Items)
		}
		printSuccess("Refreshed %d items", n)
		return nil
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Show which privileged channels the server can use",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/capabilities")
		if err != nil {
			return err
		}
		var caps privileged.Capabilities
		if err := decodeJSON(resp, &caps); err != nil {
			return err
		}
		printCapabilities(caps)
		printStatus("Probed", "%s", caps.ProbedAt.Local().Format(time.TimeOnly))
		return nil
	},
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history [item]",
	Short: "List recent apply attempts",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		q := url.Values{}
		q.Set("limit", strconv.Itoa(limit))
		if len(args) == 1 {
			q.Set("item", args[0])
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/history?"+q.Encode())
		if err != nil {
			return err
		}
		var entries []api.HistoryView
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No history.")
			return nil
		}
		for _, h := range entries {
			fmt.Println(formatHistory(h))
		}
		return nil
	},
}

func formatHistory(h api.HistoryView) string {
	line := fmt.Sprintf("%s  %-40s %s -> %s = %s",
		h.CreatedAt.Local().Format("2006-01-02 15:04:05"), h.Item, h.From, h.To, h.Value)
	if h.Backend != "" {
		line += " via " + h.Backend
	}
	if h.Error != "" {
		line += "  " + colorize(failStyle, "failed: "+h.Error)
	}
	return line
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of entries")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		fmt.Printf("# %s\n", config.FilePath())
		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(boldStyle, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value. Valid keys:\n  " +
		strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
