package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"deepsearch-be/pkg/vectorstore"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var collectionsCmd = &cobra.Command{
	Use:     "collections",
	Aliases: []string{"ls"},
	Short:   "List searchable collections",
	RunE:    runCollections,
}

func init() {
	rootCmd.AddCommand(collectionsCmd)
}

func runCollections(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.log.Sync()

	infos, err := rt.gateways.Store.ListCollections(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	if outputFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), infos)
	}
	printCollections(cmd.OutOrStdout(), infos)
	return nil
}

func printCollections(out io.Writer, infos []vectorstore.CollectionInfo) {
	if len(infos) == 0 {
		fmt.Fprintln(out, "No collections found")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDEFAULT\tDESCRIPTION")
	for _, info := range infos {
		def := ""
		if info.Default {
			def = color.GreenString("yes")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", info.Name, def, info.Description)
	}
	w.Flush()
}
