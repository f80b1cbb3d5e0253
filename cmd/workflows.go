package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/api/schemas"
	"github.com/xkilldash9x/portalpilot/internal/config"
	"github.com/xkilldash9x/portalpilot/internal/jobs"
	"github.com/xkilldash9x/portalpilot/internal/observability"
	"github.com/xkilldash9x/portalpilot/internal/service"
)

// newEngine builds the workflow engine for one command run. It is a variable
// so tests can substitute a fake engine.
var newEngine = func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (jobs.WorkflowEngine, func(context.Context), error) {
	components, err := service.NewComponentFactory().CreateEngine(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return components.Engine, components.Shutdown, nil
}

type workflowFunc func(ctx context.Context, engine jobs.WorkflowEngine, cfg *config.Config) schemas.WorkflowResult

// runWorkflow executes one workflow, prints its result as JSON on stdout and
// turns a failed result into a command error.
func runWorkflow(cmd *cobra.Command, name string, fn workflowFunc) error {
	ctx := cmd.Context()
	cfg, err := getConfig(cmd)
	if err != nil {
		return err
	}
	logger := observability.GetLogger()

	engine, shutdown, err := newEngine(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	defer shutdown(ctx)

	logger.Info("Running workflow", zap.String("workflow", name), zap.String("base_url", cfg.Portal.BaseURL))
	result := fn(ctx, engine, cfg)
	if err := printResult(cmd.OutOrStdout(), result); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("%s failed (%s): %s", name, result.ErrorCode, result.Error)
	}
	return nil
}

func printResult(w io.Writer, result schemas.WorkflowResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func newAuthCmd() *cobra.Command {
	var creds schemas.Credentials
	cmd := &cobra.Command{
		Use:          "auth",
		Short:        "Log in to the portal and persist the session",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(cmd, "authenticate", func(ctx context.Context, e jobs.WorkflowEngine, cfg *config.Config) schemas.WorkflowResult {
				return e.Authenticate(ctx, cfg.Portal.BaseURL, creds)
			})
		},
	}
	cmd.Flags().StringVarP(&creds.Username, "username", "u", "", "Portal username")
	cmd.Flags().StringVarP(&creds.Password, "password", "p", "", "Portal password")
	cmd.Flags().StringVar(&creds.OTPCode, "otp", "", "One-time code for the MFA step (default from auth.otp_code)")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newScrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "scrape",
		Short:        "Extract user records from the listing, page by page",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(cmd, "scrape_users", func(ctx context.Context, e jobs.WorkflowEngine, cfg *config.Config) schemas.WorkflowResult {
				return e.ScrapeUsers(ctx, cfg.Portal.BaseURL, cfg.Engine.DefaultMaxPages)
			})
		},
	}
	cmd.Flags().Int("max-pages", 0, "Maximum number of listing pages to visit (overrides engine.default_max_pages)")
	annotate(cmd.Flags(), "max-pages", "engine.default_max_pages")
	return cmd
}

func newProvisionCmd() *cobra.Command {
	var (
		name, email, role string
		extra             map[string]string
	)
	cmd := &cobra.Command{
		Use:          "provision",
		Short:        "Create a user through the portal's add-user form",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			user := make(map[string]string, len(extra)+3)
			for k, v := range extra {
				user[strings.ToLower(k)] = v
			}
			for k, v := range map[string]string{"name": name, "email": email, "role": role} {
				if v != "" {
					user[k] = v
				}
			}
			if len(user) == 0 {
				return fmt.Errorf("at least one of --name, --email, --role or --field is required")
			}
			return runWorkflow(cmd, "provision_user", func(ctx context.Context, e jobs.WorkflowEngine, cfg *config.Config) schemas.WorkflowResult {
				return e.ProvisionUser(ctx, cfg.Portal.BaseURL, user)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Full name of the new user")
	cmd.Flags().StringVar(&email, "email", "", "Email of the new user")
	cmd.Flags().StringVar(&role, "role", "", "Role of the new user")
	cmd.Flags().StringToStringVar(&extra, "field", nil, "Additional form field as key=value (repeatable)")
	return cmd
}

func newDeprovisionCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "deprovision <email-or-name>",
		Short:        "Remove a user and verify it is gone from the listing",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			identifier := args[0]
			return runWorkflow(cmd, "deprovision_user", func(ctx context.Context, e jobs.WorkflowEngine, cfg *config.Config) schemas.WorkflowResult {
				return e.DeprovisionUser(ctx, cfg.Portal.BaseURL, identifier)
			})
		},
	}
}
