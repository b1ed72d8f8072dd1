package main

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/org/envvault/internal/entry"
	"github.com/org/envvault/pkg/models"
)

func addPageFlags(cmd *cobra.Command) {
	cmd.Flags().Int("page", 0, "Page number, starting at 0")
	cmd.Flags().Int("limit", 0, "Page size (server default when 0)")
	cmd.Flags().String("sort", "", "Sort field")
	cmd.Flags().String("order", "", "asc or desc")
}

func pageQuery(cmd *cobra.Command) url.Values {
	q := url.Values{}
	if page, _ := cmd.Flags().GetInt("page"); page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	for _, name := range []string{"sort", "order"} {
		if v, _ := cmd.Flags().GetString(name); v != "" {
			q.Set(name, v)
		}
	}
	return q
}

// validEntries drops malformed "<environment>=<value>" arguments with a warning, the
// same partial-success rule the server applies.
func validEntries(stderr io.Writer, args []string) []string {
	ok, bad := entry.ParseAll(args)
	for _, m := range bad {
		fmt.Fprintf(stderr, "Warning: skipping %s\n", m)
	}
	out := make([]string, len(ok))
	for i, e := range ok {
		out[i] = e.String()
	}
	return out
}

// entityCmd builds the "secrets" or "variables" command tree.
func entityCmd(kind models.Kind) *cobra.Command {
	plural := kind.Plural()
	cmd := &cobra.Command{Use: plural, Short: "Manage " + plural}

	base := func(elem ...string) (string, error) {
		p, err := target()
		if err != nil {
			return "", err
		}
		p += "/" + plural
		for _, e := range elem {
			p += "/" + url.PathEscape(e)
		}
		return p, nil
	}
	run := func(fn func(cmd *cobra.Command, args []string, client *Client) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			return fn(cmd, args, client)
		}
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List " + plural,
		RunE: run(func(cmd *cobra.Command, args []string, client *Client) error {
			p, err := base()
			if err != nil {
				return err
			}
			q := pageQuery(cmd)
			if s, _ := cmd.Flags().GetString("search"); s != "" {
				q.Set("search", s)
			}
			result, err := client.call(cmd.Context(), "GET", p+"?"+q.Encode(), nil)
			if err != nil {
				return err
			}
			printPage(cmd.OutOrStdout(), result, "name", "slug", "rotateAfter", "rotateAt", "updatedAt")
			return nil
		}),
	}
	addPageFlags(listCmd)
	listCmd.Flags().String("search", "", "Case-insensitive name filter")

	createCmd := &cobra.Command{
		Use:   "create <name> [environment=value ...]",
		Short: "Create a " + string(kind) + " with optional initial values",
		Args:  cobra.MinimumNArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, client *Client) error {
			p, err := base()
			if err != nil {
				return err
			}
			body := map[string]any{
				"name":    args[0],
				"entries": validEntries(cmd.ErrOrStderr(), args[1:]),
			}
			if cmd.Flags().Changed("note") {
				body["note"], _ = cmd.Flags().GetString("note")
			}
			if v, _ := cmd.Flags().GetString("rotate-after"); v != "" {
				body["rotateAfter"] = v
			}
			result, err := client.call(cmd.Context(), "POST", p, body)
			if err != nil {
				return err
			}
			printWarnings(cmd.ErrOrStderr(), result)
			printWriteResult(cmd.OutOrStdout(), result)
			return nil
		}),
	}
	createCmd.Flags().String("note", "", "Free-form note")
	createCmd.Flags().String("rotate-after", "", "Rotation policy: never, 24, 168, 720 or 8760 (hours)")

	updateCmd := &cobra.Command{
		Use:   "update <slug> [environment=value ...]",
		Short: "Append new values and change metadata",
		Args:  cobra.MinimumNArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, client *Client) error {
			p, err := base(args[0])
			if err != nil {
				return err
			}
			body := map[string]any{"entries": validEntries(cmd.ErrOrStderr(), args[1:])}
			for flag, field := range map[string]string{"name": "name", "note": "note", "rotate-after": "rotateAfter"} {
				if cmd.Flags().Changed(flag) {
					body[field], _ = cmd.Flags().GetString(flag)
				}
			}
			result, err := client.call(cmd.Context(), "PATCH", p, body)
			if err != nil {
				return err
			}
			printWarnings(cmd.ErrOrStderr(), result)
			printWriteResult(cmd.OutOrStdout(), result)
			return nil
		}),
	}
	updateCmd.Flags().String("name", "", "New name")
	updateCmd.Flags().String("note", "", "New note (empty clears it)")
	updateCmd.Flags().String("rotate-after", "", "Rotation policy: never, 24, 168, 720 or 8760 (hours)")

	getCmd := &cobra.Command{
		Use:   "get <slug>",
		Short: "Show a " + string(kind) + ", or its value in one environment",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, client *Client) error {
			env, _ := cmd.Flags().GetString("env")
			version, _ := cmd.Flags().GetInt("version")
			if env == "" {
				p, err := base(args[0])
				if err != nil {
					return err
				}
				result, err := client.call(cmd.Context(), "GET", p, nil)
				if err != nil {
					return err
				}
				printResult(cmd.OutOrStdout(), result)
				return nil
			}
			p, err := base(args[0], "environments", env)
			if err != nil {
				return err
			}
			if version > 0 {
				p += "?version=" + strconv.Itoa(version)
			}
			result, err := client.call(cmd.Context(), "GET", p, nil)
			if err != nil {
				return err
			}
			rev, _ := result["revision"].(map[string]any)
			if rev == nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s has no value in %s\n", args[0], env)
				return nil
			}
			if outputFormat == "raw" && outputField == "" {
				fmt.Fprintln(cmd.OutOrStdout(), rev["value"])
				return nil
			}
			printResult(cmd.OutOrStdout(), rev)
			return nil
		}),
	}
	getCmd.Flags().String("env", "", "Environment slug")
	getCmd.Flags().Int("version", 0, "Specific version (default: head)")

	historyCmd := &cobra.Command{
		Use:   "history <slug>",
		Short: "List revisions in one environment, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, client *Client) error {
			env, _ := cmd.Flags().GetString("env")
			p, err := base(args[0], "environments", env, "history")
			if err != nil {
				return err
			}
			result, err := client.call(cmd.Context(), "GET", p+"?"+pageQuery(cmd).Encode(), nil)
			if err != nil {
				return err
			}
			printPage(cmd.OutOrStdout(), result, "version", "value", "createdAt", "createdById")
			return nil
		}),
	}
	historyCmd.Flags().String("env", "", "Environment slug")
	addPageFlags(historyCmd)

	rollbackCmd := &cobra.Command{
		Use:   "rollback <slug>",
		Short: "Append a new revision holding an earlier version's value",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, client *Client) error {
			env, _ := cmd.Flags().GetString("env")
			version, _ := cmd.Flags().GetInt("version")
			p, err := base(args[0], "environments", env, "rollback")
			if err != nil {
				return err
			}
			result, err := client.call(cmd.Context(), "POST", p, map[string]any{"version": version})
			if err != nil {
				return err
			}
			if rev, ok := result["currentRevision"].(map[string]any); ok && outputFormat != "json" {
				fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %s in %s to version %v; new head is version %v.\n",
					args[0], env, version, rev["version"])
				return nil
			}
			printResult(cmd.OutOrStdout(), result)
			return nil
		}),
	}
	rollbackCmd.Flags().String("env", "", "Environment slug")
	rollbackCmd.Flags().Int("version", 0, "Version to restore")

	deleteCmd := &cobra.Command{
		Use:   "delete <slug>",
		Short: "Delete a " + string(kind) + ", or only its value in one environment",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, client *Client) error {
			env, _ := cmd.Flags().GetString("env")
			elem := []string{args[0]}
			if env != "" {
				elem = append(elem, "environments", env)
			}
			p, err := base(elem...)
			if err != nil {
				return err
			}
			result, err := client.call(cmd.Context(), "DELETE", p, nil)
			if err != nil {
				return err
			}
			if env != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %v revisions of %s in %s.\n", result["count"], args[0], env)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s.\n", args[0])
			return nil
		}),
	}
	deleteCmd.Flags().String("env", "", "Only remove the value in this environment")

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write the current values of one environment as a .env file",
		RunE: run(func(cmd *cobra.Command, args []string, client *Client) error {
			env, _ := cmd.Flags().GetString("env")
			out, _ := cmd.Flags().GetString("output")
			p, err := base("export")
			if err != nil {
				return err
			}
			body, err := client.text(cmd.Context(), p+"?"+url.Values{"environment": {env}, "format": {"dotenv"}}.Encode())
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = io.WriteString(cmd.OutOrStdout(), body)
				return err
			}
			return os.WriteFile(out, []byte(body), 0o600)
		}),
	}
	exportCmd.Flags().String("env", "", "Environment slug")
	exportCmd.Flags().StringP("output", "o", "", "File to write (default stdout)")

	for _, c := range []*cobra.Command{historyCmd, rollbackCmd, exportCmd} {
		c.MarkFlagRequired("env") //nolint:errcheck
	}
	rollbackCmd.MarkFlagRequired("version") //nolint:errcheck

	cmd.AddCommand(listCmd, createCmd, updateCmd, getCmd, historyCmd, rollbackCmd, deleteCmd, exportCmd)
	return cmd
}

// printWriteResult summarises a create or update.
func printWriteResult(w io.Writer, result map[string]any) {
	if outputFormat == "json" {
		printResult(w, result)
		return
	}
	ent, _ := result["entity"].(map[string]any)
	revs, _ := result["revisions"].([]any)
	fmt.Fprintf(w, "%v (%v): %d revision(s) written\n", ent["name"], ent["slug"], len(revs))
	for _, r := range revs {
		rev, _ := r.(map[string]any)
		fmt.Fprintf(w, "  %v -> version %v\n", rev["environmentId"], rev["version"])
	}
}
