package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/suPer8Hu/ola-suite/internal/report"
	"github.com/suPer8Hu/ola-suite/internal/store/rabbitmq"
	"github.com/suPer8Hu/ola-suite/internal/wizard"
)

func (a *app) reportClient() (*report.Client, error) {
	return report.NewClient(report.ClientOptions{
		BaseURL: a.cfg.APIBaseURL,
		Timeout: a.cfg.RequestTimeout,
		Signer:  a.signer,
		Logger:  a.log,
	})
}

func (a *app) reportRepo() (*report.Repo, error) {
	gdb, err := a.database()
	if err != nil {
		return nil, err
	}
	repo := report.NewRepo(gdb)
	if err := repo.Migrate(); err != nil {
		return nil, err
	}
	return repo, nil
}

// submitters registers the ways a report request can leave the CLI.
func (a *app) submitters() *report.Registry {
	reg := report.NewRegistry()
	reg.Register("http", func(ctx context.Context) (report.Submitter, error) {
		c, err := a.reportClient()
		if err != nil {
			return nil, err
		}
		return &report.HTTPSubmitter{Client: c}, nil
	})
	reg.Register("queue", func(ctx context.Context) (report.Submitter, error) {
		repo, err := a.reportRepo()
		if err != nil {
			return nil, err
		}
		pub, err := rabbitmq.NewPublisher(a.cfg.RabbitURL, a.cfg.RabbitQueue)
		if err != nil {
			return nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		return &report.QueueSubmitter{Repo: repo, Publisher: pub, Logger: a.log}, nil
	})
	return reg
}

func newReportCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Request and inspect company reports",
	}
	cmd.AddCommand(newReportSubmitCmd(opts))
	cmd.AddCommand(newReportStatusCmd(opts))
	cmd.AddCommand(newReportJobsCmd(opts))
	return cmd
}

type reportFlags struct {
	draft    wizard.ReportDraft
	mode     string
	via      string
	key      string
	sections []string
}

func newReportSubmitCmd(opts *cliOptions) *cobra.Command {
	f := &reportFlags{}
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a report request",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request()
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(a *app) error {
				via := f.via
				if via == "" {
					via = a.cfg.ReportSubmitter
				}
				sub, err := a.submitters().Get(cmd.Context(), via)
				if err != nil {
					return err
				}
				res, err := sub.Submit(cmd.Context(), req, f.key)
				if err != nil {
					return err
				}
				printSubmission(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.draft.Company, "company", "", "Company name")
	cmd.Flags().StringVar(&f.draft.CorpCode, "corp-code", "", "DART corporation code (8 digits)")
	cmd.Flags().StringVar(&f.draft.Title, "title", "", "Report title")
	cmd.Flags().StringVar(&f.mode, "mode", string(report.ModeManual), "auto|manual")
	cmd.Flags().StringVar(&f.draft.Period, "period", "", "Period: 2024, 2024Q3 or 2024H1")
	cmd.Flags().StringSliceVar(&f.sections, "section", nil, "Section to include (repeatable)")
	cmd.Flags().StringVar(&f.draft.Schedule, "schedule", "", "Auto reports: daily|weekly|monthly")
	cmd.Flags().StringVar(&f.via, "via", "", "Submitter: http|queue (default from config)")
	cmd.Flags().StringVar(&f.key, "idempotency-key", "", "Reuse a key to avoid duplicate reports")
	return cmd
}

// request walks the report wizard with the flag values so the error names
// the first incomplete step.
func (f *reportFlags) request() (report.Request, error) {
	d := f.draft
	d.Mode = report.Mode(strings.ToLower(strings.TrimSpace(f.mode)))
	if len(f.sections) > 0 {
		d.Sections = f.sections
	}

	flow := wizard.NewReportFlow()
	flow.SetDraft(d)
	for !flow.IsLast() {
		step := flow.Current()
		if err := flow.Advance(); err != nil {
			return report.Request{}, fmt.Errorf("step %d/%d (%s): %w", flow.StepNumber(), flow.Total(), step, err)
		}
	}
	return flow.Request()
}

func printSubmission(w io.Writer, s report.Submission) {
	switch {
	case s.Queued && s.Duplicate:
		fmt.Fprintf(w, "already queued: job %s\n", s.JobID)
	case s.Queued:
		fmt.Fprintf(w, "queued: job %s\n", s.JobID)
	default:
		fmt.Fprintf(w, "submitted: report %s\n", s.ReportID)
	}
	if s.Queued && s.ReportID != "" {
		fmt.Fprintf(w, "report: %s\n", s.ReportID)
	}
}

func newReportStatusCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <report-id>",
		Short: "Show a report's backend status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				c, err := a.reportClient()
				if err != nil {
					return err
				}
				r, err := c.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s  %s  %s %s\n", r.ID, r.Status, r.Company, r.Period)
				if r.PDFURL != "" {
					fmt.Fprintf(out, "pdf: %s\n", r.PDFURL)
				}
				return nil
			})
		},
	}
}

func newReportJobsCmd(opts *cliOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List locally queued report jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				repo, err := a.reportRepo()
				if err != nil {
					return err
				}
				jobs, err := repo.ListJobs(cmd.Context(), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, j := range jobs {
					line := fmt.Sprintf("%s  %-9s  attempts=%d  %s", j.ID, j.Status, j.Attempts, j.Company)
					if j.ReportID != nil {
						line += "  report=" + *j.ReportID
					}
					if j.Error != nil {
						line += "  err=" + *j.Error
					}
					fmt.Fprintln(out, line)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of jobs")
	return cmd
}
