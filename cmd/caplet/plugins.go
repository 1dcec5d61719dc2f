package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Inspect plugins",
}

var pluginsListCmd = &cobra.Command{
	Use:   "list <manifest>...",
	Short: "Load the given manifests and list the resulting plugins",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		k, err := newKernel(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = k.Stop(ctx) }()

		if _, err := loadPlugins(ctx, k, args); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tVERSION\tSTATE\tID\tCAPABILITIES")
		for _, meta := range k.Plugins.ListPlugins() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
				meta.Name, meta.Version, meta.State, meta.ID, len(meta.DeclaredCapabilities))
		}
		return w.Flush()
	},
}

var pluginsFunctionsCmd = &cobra.Command{
	Use:   "functions <manifest>",
	Short: "List the callable functions a plugin exports",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		k, err := newKernel(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = k.Stop(ctx) }()

		ids, err := loadPlugins(ctx, k, args)
		if err != nil {
			return err
		}
		for name, id := range ids {
			functions, err := k.Plugins.ListFunctions(ctx, id)
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(map[string]any{"plugin": name, "functions": functions}, "", "  ")
			fmt.Println(string(out))
		}
		return nil
	},
}

func init() {
	pluginsCmd.AddCommand(pluginsListCmd)
	pluginsCmd.AddCommand(pluginsFunctionsCmd)
	rootCmd.AddCommand(pluginsCmd)
}
