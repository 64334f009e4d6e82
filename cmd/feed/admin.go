package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/feed/client"
	"github.com/git-pkgs/feed/fetch"
	"github.com/git-pkgs/feed/internal/core"
)

func newImportCmd() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "import <id|purl> [version]",
		Short: "Copy a package from an upstream feed into this feed",
		Long: `Copy a package version from an upstream flat container into this feed.
Without a version the latest stable version upstream is imported.

Examples:
  feed import Newtonsoft.Json 13.0.3
  feed import --source internal Acme.Core
  feed import "pkg:nuget/Serilog@3.1.0"`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			var ident core.Identity
			if strings.HasPrefix(args[0], "pkg:") {
				if len(args) > 1 {
					return fmt.Errorf("a purl carries its own version")
				}
				ident, err = e.feed.Service.ImportPURL(cmd.Context(), e.cfg.Auth.APIKey, args[0])
			} else {
				ver := ""
				if len(args) > 1 {
					ver = args[1]
				}
				ident, err = e.feed.Service.Import(cmd.Context(), e.cfg.Auth.APIKey, source, args[0], ver)
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %s %s\n", ident.ID, ident.Version)
			return err
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", fetch.NuGetOrg, "upstream source name or flat container URL")
	return cmd
}

func newVersionsCmd() *cobra.Command {
	var showURLs bool
	cmd := &cobra.Command{
		Use:   "versions <id>",
		Short: "List the stored versions of a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			idx, err := e.feed.Service.Versions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, v := range idx.Versions {
				if !showURLs {
					fmt.Fprintln(out, v)
					continue
				}
				urls := client.BuildURLs(e.feed.URLs, args[0], v)
				fmt.Fprintf(out, "%s\t%s\t%s\n", v, urls["download"], urls["purl"])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showURLs, "urls", false, "print download URL and purl of each version")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id> [version]",
		Short: "Delete one version, or purge every version of a package",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			out := cmd.OutOrStdout()
			if len(args) == 2 {
				if err := e.feed.Service.Delete(cmd.Context(), e.cfg.Auth.APIKey, args[0], args[1]); err != nil {
					return err
				}
				_, err = fmt.Fprintf(out, "deleted %s %s\n", args[0], args[1])
				return err
			}
			n, err := e.feed.Service.Purge(cmd.Context(), e.cfg.Auth.APIKey, args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "purged %d versions of %s\n", n, args[0])
			return err
		},
	}
}

func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Re-read every stored archive and report broken ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			report, err := e.feed.Service.Reindex(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d packages, %d versions in %s\n", report.Packages, report.Versions, report.Duration.Round(time.Millisecond))
			for _, p := range report.Problems {
				fmt.Fprintf(out, "%s %s: %s (%s)\n", p.Identity.ID, p.Identity.Version, p.Reason, p.Path)
			}
			if len(report.Problems) > 0 {
				return fmt.Errorf("%d problems found", len(report.Problems))
			}
			return nil
		},
	}
}
