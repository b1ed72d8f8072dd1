package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/org/envvault/pkg/models"
)

var (
	workspaceFlag string
	projectFlag   string
)

var rootCmd = &cobra.Command{
	Use:           "envctl",
	Short:         "envvault CLI",
	Long:          "A CLI for managing versioned secrets and variables in envvault.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return fmt.Errorf("loading %s: %w", configPath(), err)
		}
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with --format=raw)")
	rootCmd.PersistentFlags().StringVarP(&workspaceFlag, "workspace", "w", "", "Workspace slug (default from config)")
	rootCmd.PersistentFlags().StringVarP(&projectFlag, "project", "p", "", "Project slug (default from config)")

	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(entityCmd(models.KindSecret))
	rootCmd.AddCommand(entityCmd(models.KindVariable))
	rootCmd.AddCommand(directoryCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(auditCmd())
}

// target returns the API prefix of the selected project.
func target() (string, error) {
	ws, proj := workspaceFlag, projectFlag
	if ws == "" {
		ws = cfg.Workspace
	}
	if proj == "" {
		proj = cfg.Project
	}
	if ws == "" || proj == "" {
		return "", fmt.Errorf("workspace and project are required (flags -w/-p or `envctl config set`)")
	}
	return projectPath(ws, proj), nil
}

// --- config ---

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage CLI configuration"}

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Persist address, token and default project",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			if f.Changed("address") {
				cfg.Address, _ = f.GetString("address")
			}
			if f.Changed("token") {
				cfg.Token, _ = f.GetString("token")
			}
			if f.Changed("ca-cert") {
				cfg.TLSCACert, _ = f.GetString("ca-cert")
			}
			if workspaceFlag != "" {
				cfg.Workspace = workspaceFlag
			}
			if projectFlag != "" {
				cfg.Project = projectFlag
			}
			if err := saveConfig(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", configPath())
			return nil
		},
	}
	setCmd.Flags().String("address", "", "Server address")
	setCmd.Flags().String("token", "", "API key")
	setCmd.Flags().String("ca-cert", "", "CA certificate for TLS")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the active configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			token := ""
			if cfg.Token != "" {
				token = "(set)"
			}
			printResult(cmd.OutOrStdout(), map[string]any{
				"address":   cfg.Address,
				"token":     token,
				"workspace": cfg.Workspace,
				"project":   cfg.Project,
			})
			return nil
		},
	}

	cmd.AddCommand(setCmd, showCmd)
	return cmd
}

// --- directory ---

func directoryCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "directory", Aliases: []string{"dir"}, Short: "Manage workspaces, projects and environments"}

	create := func(use, short string, path func(args []string) (string, error)) *cobra.Command {
		c := &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				p, err := path(args)
				if err != nil {
					return err
				}
				slug, _ := cmd.Flags().GetString("slug")
				client, err := newClient()
				if err != nil {
					return err
				}
				result, err := client.call(cmd.Context(), "POST", p, map[string]any{"name": args[0], "slug": slug})
				if err != nil {
					return err
				}
				printResult(cmd.OutOrStdout(), result)
				return nil
			},
		}
		c.Flags().String("slug", "", "Slug (default derived from the name)")
		return c
	}

	wsCmd := create("create-workspace <name>", "Create a workspace", func([]string) (string, error) {
		return "/v1/workspaces", nil
	})
	projCmd := create("create-project <name>", "Create a project in the selected workspace", func([]string) (string, error) {
		ws := workspaceFlag
		if ws == "" {
			ws = cfg.Workspace
		}
		if ws == "" {
			return "", fmt.Errorf("workspace is required")
		}
		return "/v1/workspaces/" + url.PathEscape(ws) + "/projects", nil
	})
	envCmd := create("create-environment <name>", "Create an environment in the selected project", func([]string) (string, error) {
		base, err := target()
		return base + "/environments", err
	})

	listEnvCmd := &cobra.Command{
		Use:   "environments",
		Short: "List environments of the selected project",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := target()
			if err != nil {
				return err
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			result, err := client.call(cmd.Context(), "GET", base+"/environments", nil)
			if err != nil {
				return err
			}
			printPage(cmd.OutOrStdout(), map[string]any{"items": result["environments"]}, "slug", "name", "createdAt")
			return nil
		},
	}

	cmd.AddCommand(wsCmd, projCmd, envCmd, listEnvCmd)
	return cmd
}

// --- token ---

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Manage API keys"}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			policies, _ := cmd.Flags().GetStringSlice("policy")
			ttl, _ := cmd.Flags().GetString("ttl")
			client, err := newClient()
			if err != nil {
				return err
			}
			result, err := client.call(cmd.Context(), "POST", "/v1/auth/tokens", map[string]any{
				"displayName": name,
				"policies":    policies,
				"ttl":         ttl,
			})
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), result)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Display name")
	createCmd.Flags().StringSlice("policy", nil, "Policies to attach (repeatable)")
	createCmd.Flags().String("ttl", "", "Lifetime, e.g. 720h (default: no expiry)")

	lookupCmd := &cobra.Command{
		Use:   "lookup",
		Short: "Show the current API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			result, err := client.call(cmd.Context(), "GET", "/v1/auth/tokens/self", nil)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), result)
			return nil
		},
	}

	revokeCmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			if _, err := client.call(cmd.Context(), "DELETE", "/v1/auth/tokens/"+url.PathEscape(args[0]), nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Token revoked.")
			return nil
		},
	}

	cmd.AddCommand(createCmd, lookupCmd, revokeCmd)
	return cmd
}

// --- audit ---

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := pageQuery(cmd)
			for _, name := range []string{"operation", "resource", "since"} {
				if v, _ := cmd.Flags().GetString(name); v != "" {
					q.Set(name, v)
				}
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			result, err := client.call(cmd.Context(), "GET", "/v1/sys/audit?"+q.Encode(), nil)
			if err != nil {
				return err
			}
			printPage(cmd.OutOrStdout(), result, "timestamp", "actorId", "operation", "resource", "outcome")
			return nil
		},
	}
	addPageFlags(cmd)
	cmd.Flags().String("operation", "", "Only this operation, e.g. secret.rollback")
	cmd.Flags().String("resource", "", "Only resources under this prefix")
	cmd.Flags().String("since", "", "Only entries at or after this RFC 3339 time")
	return cmd
}
