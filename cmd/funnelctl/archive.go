package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ignite/funnel-studio/internal/storage"
)

func archiveCmd(flags *commonFlags) *cobra.Command {
	cmd := cobra.Command{
		Use:   "archive",
		Short: "Read publish snapshots from the export archive.",
	}
	cmd.AddCommand(archiveListCmd(flags), archiveGetCmd(flags))
	return &cmd
}

func openArchive(cmd *cobra.Command, flags *commonFlags) (storage.Archive, error) {
	cfg, err := flags.load()
	if err != nil {
		return nil, err
	}
	return storage.New(cmd.Context(), cfg.Export)
}

func archiveListCmd(flags *commonFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list [PREFIX]",
		Short: "List archived snapshot keys, optionally under PREFIX.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, err := openArchive(cmd, flags)
			if err != nil {
				return err
			}
			prefix := "published/"
			if len(args) == 1 {
				prefix = args[0]
			}
			keys, err := archive.List(cmd.Context(), prefix)
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
}

func archiveGetCmd(flags *commonFlags) *cobra.Command {
	var out string
	cmd := cobra.Command{
		Use:   "get KEY",
		Short: "Print or save one archived snapshot.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, err := openArchive(cmd, flags)
			if err != nil {
				return err
			}
			data, err := archive.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if out == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(out, data, 0o644)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write to a file instead of stdout")
	return &cmd
}
