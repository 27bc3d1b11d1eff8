package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tidebook/tidebook/internal/domain"
)

var docCmd = &cobra.Command{
	Use:   "doc",
	Short: "Create, inspect, and transition documents",
}

var docOffline bool

func init() {
	docCmd.PersistentFlags().BoolVar(&docOffline, "offline", false, "do not contact the remote store")
	docCmd.AddCommand(docCreateCmd)
	docCmd.AddCommand(docShowCmd)
	docCmd.AddCommand(docListCmd)
	docCmd.AddCommand(docTransitionCmd)
	docCmd.AddCommand(docDeleteCmd)
	docCmd.AddCommand(docRestoreCmd)
}

// docApp opens the stack and, unless --offline was given, brings it
// online (draining any queued mutations).
func docApp(ctx context.Context) (*app, error) {
	a, err := openApp(ctx)
	if err != nil {
		return nil, err
	}
	if !docOffline {
		if err := a.goOnline(ctx); err != nil {
			a.log.Warn().Err(err).Msg("initial drain failed")
		}
	}
	return a, nil
}

var docCreateCmd = &cobra.Command{
	Use:   "create <file.json>",
	Short: "Create a document from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := docApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var d domain.Document
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("invalid document JSON: %w", err)
		}
		if d.CompanyID == "" {
			d.CompanyID = a.cfg.CompanyID
		}

		created, err := a.lifecycle.CreateDocument(ctx, &d)
		if err != nil {
			return err
		}
		fmt.Printf("Created %s %s (%s)\n", created.Type, created.Number, created.ID)
		return nil
	},
}

var docShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a document as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := docApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		d, err := a.lifecycle.GetDocument(ctx, args[0])
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var docListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the company's documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := docApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		docs, err := a.lifecycle.ListDocuments(ctx, a.cfg.CompanyID)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			fmt.Println("No documents")
			return nil
		}
		for _, d := range docs {
			marker := " "
			if d.DeletedAt != nil {
				marker = "D"
			}
			fmt.Printf("%s %-14s %-22s %-10s %10s %s\n",
				marker, d.Number, d.Type, d.Status, d.Total.StringFixed(2), d.ID)
		}
		return nil
	},
}

var docTransitionCmd = &cobra.Command{
	Use:   "transition <id> <status>",
	Short: "Move a document to a new lifecycle status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := docApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		d, err := a.lifecycle.RequestTransition(ctx, args[0], domain.Status(args[1]))
		if err != nil {
			return err
		}
		fmt.Printf("%s is now %s\n", d.Number, d.Status)
		return nil
	},
}

var docDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Soft-delete a document, reversing any ledger effect",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := docApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.lifecycle.SoftDelete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Println("Deleted")
		return nil
	},
}

var docRestoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Restore a soft-deleted document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := docApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		d, err := a.lifecycle.Restore(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Restored %s (%s)\n", d.Number, d.Status)
		return nil
	},
}
