package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"bulksend/internal/dispatch"
	"bulksend/internal/profiles"
)

func newGroupsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "groups",
		Aliases: []string{"group"},
		Short:   "Manage saved profile groups",
	}
	cmd.AddCommand(
		newGroupsListCmd(g),
		newGroupsShowCmd(g),
		newGroupsSaveCmd(g),
		newGroupsDeleteCmd(g),
		newGroupsImportCmd(g),
		newGroupsExportCmd(g),
	)
	return cmd
}

func newGroupsListCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			groups, err := a.Groups().List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tPROFILES\tUPDATED\tID")
			for _, grp := range groups {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", grp.Name, strings.Join(grp.Profiles, ","),
					grp.UpdatedAt.Local().Format("2006-01-02 15:04"), grp.ID)
			}
			return tw.Flush()
		},
	}
}

func newGroupsShowCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Print one group as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			grp, err := a.Groups().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(grp)
		},
	}
}

func newGroupsSaveCmd(g *globals) *cobra.Command {
	var payloads payloadFlags
	cmd := &cobra.Command{
		Use:   "save NAME",
		Short: "Create or replace a group",
		Long:  "Create a group, or replace the profiles and messages of the group with this name.",
		Example: `  bulksend groups save promo --profile alpha="Hi from A" --profile beta="Hi from B" --image beta=./b.jpg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			assignments, err := payloads.assignments()
			if err != nil {
				return err
			}
			if len(assignments) == 0 {
				return errors.New("at least one --profile is required")
			}
			grp := profiles.Group{Name: args[0], Payloads: map[string]dispatch.Payload{}}
			for _, as := range assignments {
				grp.Profiles = append(grp.Profiles, as.ProfileID)
				grp.Payloads[as.ProfileID] = as.Payload
			}

			a, err := g.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := profiles.CheckSelection(cmd.Context(), a.Directory(), grp.Profiles); err != nil {
				return err
			}
			if existing, err := a.Groups().Get(cmd.Context(), grp.Name); err == nil {
				grp.ID = existing.ID
			} else if !errors.Is(err, profiles.ErrGroupNotFound) {
				return err
			}
			saved, err := a.Groups().Save(cmd.Context(), grp)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%s)\n", saved.Name, saved.ID)
			return err
		},
	}
	payloads.register(cmd.Flags())
	return cmd
}

func newGroupsDeleteCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "delete NAME",
		Aliases: []string{"rm"},
		Short:   "Delete a group",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Groups().Delete(cmd.Context(), args[0])
		},
	}
}

func newGroupsImportCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Import groups from a TOML presets file",
		Long:  "Import groups from a TOML presets file. Groups with the same name are replaced.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			a, err := g.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			n, err := a.Groups().ImportTOML(cmd.Context(), f)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %d groups\n", n)
			return err
		},
	}
}

func newGroupsExportCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "export [FILE]",
		Short: "Export all groups as TOML (stdout by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if len(args) == 0 {
				return a.Groups().ExportTOML(cmd.Context(), cmd.OutOrStdout())
			}
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			if err := a.Groups().ExportTOML(cmd.Context(), f); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
}
