package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/ignite/funnel-studio/internal/config"
	"github.com/ignite/funnel-studio/internal/draft"
	"github.com/ignite/funnel-studio/internal/editor"
	"github.com/ignite/funnel-studio/internal/pkg/distlock"
	"github.com/ignite/funnel-studio/internal/repository/postgres"
	"github.com/ignite/funnel-studio/internal/service/funnel"
	"github.com/ignite/funnel-studio/internal/transfer"
)

// openFunnels connects to the relational store. Saves take PG advisory
// locks so the CLI does not race a running server.
func openFunnels(ctx context.Context, cfg *config.Config) (*funnel.Service, func(), error) {
	if cfg.Database.URL == "" {
		return nil, nil, errors.New("database url is required (DATABASE_URL)")
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.Database.Timeout())
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	svc := funnel.NewService(postgres.NewFunnelRepo(db), distlock.NewLocker(nil, db, 30*time.Second))
	return svc, func() { db.Close() }, nil
}

func exportCmd(flags *commonFlags) *cobra.Command {
	var out string
	cmd := cobra.Command{
		Use:   "export FUNNEL_ID",
		Short: "Write a funnel as a portable document.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			funnels, closeDB, err := openFunnels(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			sess, err := editor.NewRegistry(funnels, draft.NewService(nil), editor.Options{}).Open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			doc := sess.Export()
			data, err := transfer.Encode(doc)
			if err != nil {
				return err
			}

			if out == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if out == "." {
				at, _ := time.Parse(time.RFC3339, doc.ExportDate)
				out = transfer.FileName(doc.Slug, at)
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			cmd.PrintErrf("exported %d stages to %s\n", len(doc.Stages), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", `output file; "." picks <slug>-<timestamp>.json, empty writes to stdout`)
	return &cmd
}

func importCmd(flags *commonFlags) *cobra.Command {
	var dryRun bool
	cmd := cobra.Command{
		Use:   "import FUNNEL_ID FILE",
		Short: "Merge a document into an existing funnel.",
		Long: `Merge a document into an existing funnel.

Stages are matched by order_index: matches are overwritten, new order_index
values become new stages, and stages missing from the document are kept.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd.InOrStdin(), args[1])
			if err != nil {
				return err
			}
			if err := reportDocument(cmd.ErrOrStderr(), raw, 20); err != nil {
				return err
			}
			doc, err := transfer.Read(raw)
			if err != nil {
				return err
			}

			cfg, err := flags.load()
			if err != nil {
				return err
			}
			funnels, closeDB, err := openFunnels(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			w := cmd.OutOrStdout()
			if dryRun {
				snap, err := funnels.Load(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				plan := transfer.Plan(snap.Stages, doc)
				for _, m := range plan.Updates {
					fmt.Fprintf(w, "update  %d  %s -> %q\n", m.Existing.OrderIndex, m.Existing.ID, m.Imported.Title)
				}
				for _, sd := range plan.Creates {
					fmt.Fprintf(w, "create  %d  %q (%s)\n", sd.OrderIndex, sd.Title, sd.Type)
				}
				for _, st := range plan.Untouched {
					fmt.Fprintf(w, "keep    %d  %s\n", st.OrderIndex, st.ID)
				}
				return nil
			}

			sess, err := editor.NewRegistry(funnels, draft.NewService(nil), editor.Options{}).Open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			report, err := sess.Merge(cmd.Context(), doc)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "updated %d, created %d, untouched %d\n", len(report.Updated), len(report.Created), len(report.Untouched))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the merge plan without writing")
	return &cmd
}
