package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/callsim/internal/launcher"
	"github.com/sweeney/callsim/internal/platform"
	"github.com/sweeney/callsim/internal/provision"
	"github.com/sweeney/callsim/internal/reconcile"
)

func listCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List assistants, personas first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			list, err := c.ListAssistants(cmd.Context())
			if err != nil {
				return err
			}
			a.out.Assistants(list, a.dir)
			return nil
		},
	}
}

func getCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <assistant-id>",
		Short: "Print an assistant's full definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			raw, err := c.GetAssistant(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			a.out.Header("Assistant " + args[0])
			return a.out.JSON(raw)
		},
	}
}

func phonesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "phones [phone-number-id]",
		Short: "List phone numbers, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				ph, err := c.GetPhoneNumber(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				a.out.PhoneNumber(*ph, a.dir)
				return nil
			}
			list, err := c.ListPhoneNumbers(cmd.Context())
			if err != nil {
				return err
			}
			a.out.PhoneNumbers(list, a.dir)
			return nil
		},
	}
}

// parseSince accepts an RFC 3339 time or a duration back from now.
func parseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return time.Time{}, fmt.Errorf("--since must be RFC 3339 or a positive duration, got %q", s)
	}
	return now.Add(-d), nil
}

func callsCmd(a *app) *cobra.Command {
	var (
		limit       int
		assistantID string
		since       string
	)
	cmd := &cobra.Command{
		Use:   "calls",
		Short: "List recent calls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 1 {
				return fmt.Errorf("--limit must be at least 1, got %d", limit)
			}
			after, err := parseSince(since, time.Now())
			if err != nil {
				return err
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			list, err := c.ListCalls(cmd.Context(), platform.ListCallsOptions{
				AssistantID:  assistantID,
				CreatedAfter: after,
				Limit:        limit,
			})
			if err != nil {
				return err
			}
			a.out.Calls(list)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of calls to show")
	cmd.Flags().StringVar(&assistantID, "assistant", "", "Only calls placed by this assistant")
	cmd.Flags().StringVar(&since, "since", "", "Only calls created after this RFC 3339 time or duration ago (e.g. 24h)")
	return cmd
}

func (a *app) reconciler() (*reconcile.Client, error) {
	c, err := a.client()
	if err != nil {
		return nil, err
	}
	return reconcile.New(c, reconcile.WithPersonas(a.dir), reconcile.WithLogger(a.logger)), nil
}

func detailsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "details <call-id>",
		Short: "Show a call with its conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.reconciler()
			if err != nil {
				return err
			}
			call, err := r.FetchCall(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			a.out.CallDetails(call)
			return nil
		},
	}
}

func analysisCmd(a *app) *cobra.Command {
	var (
		wait    bool
		maxWait time.Duration
	)
	cmd := &cobra.Command{
		Use:   "analysis <call-id>",
		Short: "Show the post-call evaluation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.reconciler()
			if err != nil {
				return err
			}

			var res reconcile.Result
			if wait {
				a.out.Println(a.out.Muted(fmt.Sprintf("Waiting up to %s for analysis...", maxWait)))
				res, err = r.WaitForAnalysis(cmd.Context(), args[0], maxWait, reconcile.DefaultPollInterval)
			} else {
				res, err = r.FetchAnalysis(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}

			a.out.Header("Analysis " + res.CallID)
			a.out.Info("Status", a.out.Status(res.Status))
			a.out.Analysis(res)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Poll until the analysis is available")
	cmd.Flags().DurationVar(&maxWait, "max-wait", reconcile.DefaultMaxWait, "How long --wait polls before giving up")
	return cmd
}

func callCmd(a *app) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "call <number> [persona] [line]",
		Short: "Place an outbound call from a persona",
		Long: `Place an outbound call. The persona and line default to the configured
defaults. Ten digit numbers get the configured country code.`,
		Args: cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts launcher.Options
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at must be RFC 3339: %w", err)
				}
				opts.EarliestAt = t
			}

			c, err := a.client()
			if err != nil {
				return err
			}
			persona, line := argAt(args, 1), argAt(args, 2)
			res, err := launcher.New(c, a.dir, a.logger).Launch(cmd.Context(), args[0], persona, line, opts)
			if err != nil {
				return err
			}

			a.out.Success("Call created")
			a.out.Info("Call ID", res.CallID)
			a.out.Info("Status", a.out.Status(res.Status))
			a.out.Info("To", res.Number)
			if res.From != "" {
				a.out.Info("From", res.From)
			}
			a.out.Info("Persona", res.PersonaKey)
			a.out.Info("Line", res.LineKey)
			if !opts.EarliestAt.IsZero() {
				a.out.Info("Scheduled", opts.EarliestAt.Local().Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Schedule the call for an RFC 3339 time")
	return cmd
}

func argAt(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func personaConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config <persona>",
		Short: "Print a persona's local configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			p, ok := a.dir.Persona(args[0])
			if !ok {
				return fmt.Errorf("%w %q (available: %v)", provision.ErrUnknownPersona, args[0], a.dir.PersonaKeys())
			}
			a.out.Header("Persona " + args[0])
			return a.out.JSON(map[string]any{
				"assistantId": p.AssistantID,
				"name":        p.Name,
				"label":       p.DisplayLabel(),
				"difficulty":  p.Difficulty,
				"overrides":   p.Overrides,
			})
		},
	}
}

func syncCmd(a *app) *cobra.Command {
	var webhookURL string
	cmd := &cobra.Command{
		Use:   "sync <persona>",
		Short: "Push a persona's configuration to its assistant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			asst, err := provision.New(c, a.dir, a.logger).SyncPersona(cmd.Context(), args[0], webhookURL)
			if err != nil {
				return err
			}
			a.out.Success("Synced " + args[0])
			a.out.Info("Assistant", asst.Name)
			a.out.Info("ID", asst.ID)
			if url := asst.WebhookURL(); url != "" {
				a.out.Info("Webhook", url)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&webhookURL, "webhook", "", "Also point the assistant at this webhook URL")
	return cmd
}

func configureCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "configure <webhook-url>",
		Short: "Point every assistant and phone number at a webhook URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			report, err := provision.New(c, a.dir, a.logger).ConfigureWebhooks(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			a.out.Header("Webhook configuration")
			a.out.Info("URL", report.WebhookURL)
			a.out.Println()
			for _, res := range report.Results {
				label := res.Kind + " " + res.Name
				if res.Success {
					a.out.Success(label)
				} else {
					a.out.Error(label + ": " + res.Error)
				}
			}
			if n := report.Failed(); n > 0 {
				return fmt.Errorf("%d of %d resources failed", n, len(report.Results))
			}
			return nil
		},
	}
}
