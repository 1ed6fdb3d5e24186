package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/samber/mo"
	"github.com/spf13/cobra"

	"github.com/omarluq/plangate/internal/auth"
	"github.com/omarluq/plangate/internal/di"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Show how a key would be handled",
	Long: `Run the API key handler against the configured key store.
With --plan, prints the handler's decision for that plan. Without it, resolves
the key against every configured plan and prints the selected one.`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().String("key", "", "API key to check")
	checkCmd.Flags().String("plan", "", "plan ID to evaluate (default: resolve across all plans)")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	key, err := cmd.Flags().GetString("key")
	if err != nil {
		return fmt.Errorf("failed to get key flag: %w", err)
	}
	planID, err := cmd.Flags().GetString("plan")
	if err != nil {
		return fmt.Errorf("failed to get plan flag: %w", err)
	}

	container, err := di.NewContainer(resolveConfigPath())
	if err != nil {
		return err
	}
	defer func() { _ = container.Shutdown() }()

	cfgSvc := di.MustInvoke[*di.ConfigService](container)
	keySvc, err := di.Invoke[*di.KeyStoreService](container)
	if err != nil {
		return err
	}
	chainSvc, err := di.Invoke[*di.ChainService](container)
	if err != nil {
		return err
	}

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	if key != "" {
		req.Header.Set(chainSvc.APIKey.Header(), key)
	}

	out := cmd.OutOrStdout()
	cfg := cfgSvc.Get()

	if planID == "" {
		selection, err := chainSvc.Chain.Resolve(req, cfg.AuthPlans()).Get()
		if err != nil {
			fmt.Fprintf(out, "no plan: %s\n", err)
			return nil
		}
		fmt.Fprintf(out, "plan %s via %s, policies %v\n", selection.Plan.ID, selection.Handler, selection.Policies)
		return nil
	}

	plan, ok := cfg.FindPlan(planID).Get()
	if !ok {
		return fmt.Errorf("unknown plan %q", planID)
	}

	p := plan.ToPlan()
	if p.Security != auth.SecurityAPIKey {
		fmt.Fprintf(out, "plan %s: %s security, no key check\n", p.ID, p.Security)
		return nil
	}

	var decision auth.Decision
	opts := []auth.APIKeyOption{
		auth.WithHeader(chainSvc.APIKey.Header()),
		auth.WithQueryParam(chainSvc.APIKey.QueryParam()),
		auth.WithDecisionRecorder(func(d auth.Decision) { decision = d }),
	}
	if keySvc.Lookup != nil {
		opts = append(opts, auth.WithKeyLookup(keySvc.Lookup))
	}
	handler := auth.NewAPIKeyHandler(opts...)

	eligible := handler.CanHandle(req, mo.Some(p.Context()))
	verdict := "not eligible"
	if eligible {
		verdict = "eligible"
	}
	fmt.Fprintf(out, "plan %s: %s (%s)\n", p.ID, verdict, decision)
	return nil
}
