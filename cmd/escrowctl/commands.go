package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reviewescrow/app"
	"reviewescrow/config"
	"reviewescrow/db"
	"reviewescrow/escrow"
	"reviewescrow/logging"
	"reviewescrow/migrations"
)

func loadConfig() (config.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		path = os.Getenv("ESCROW_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if cfg.Database.URL == "" {
		return config.Config{}, errors.New("database url is not configured (set ESCROW_DATABASE_URL)")
	}
	return cfg, nil
}

// openApp builds the App commands run against. The returned func releases
// its resources.
var openApp = func(ctx context.Context) (*app.App, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.Database.URL, db.PoolOptions{MaxConns: 2})
	if err != nil {
		return nil, nil, err
	}
	return app.New(pool, app.PostgresRepositories(pool), app.Options{Logger: logging.Discard()}), pool.Close, nil
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, release, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx, a)
}

func parseAddressArg(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseJobIDArg(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid job id %q", s)
	}
	return common.BytesToHash(b), nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := db.NewPool(cmd.Context(), cfg.Database.URL, db.PoolOptions{MaxConns: 1})
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := migrations.Apply(cmd.Context(), pool); err != nil {
				return err
			}
			names, err := migrations.Names()
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), names, func(tw table.Writer) {
				tw.AppendHeader(table.Row{"Migration"})
				for _, n := range names {
					tw.AppendRow(table.Row{n})
				}
			})
		},
	}
}

func jobIDCmd() *cobra.Command {
	var client string
	var nonce int64
	cmd := &cobra.Command{
		Use:   "job-id",
		Short: "Compute a job id from client and nonce, or predict the client's next one",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddressArg(client)
			if err != nil {
				return err
			}
			show := func(id common.Hash, n uint64) error {
				out := map[string]string{"client": addr.Hex(), "nonce": strconv.FormatUint(n, 10), "job_id": id.Hex()}
				return render(cmd.OutOrStdout(), out, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"Client", "Nonce", "Job ID"})
					tw.AppendRow(table.Row{out["client"], out["nonce"], out["job_id"]})
				})
			}
			if nonce >= 0 {
				return show(escrow.JobID(addr, uint64(nonce)), uint64(nonce))
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				id, next, err := a.Escrow.PredictJobID(ctx, addr)
				if err != nil {
					return err
				}
				return show(id, next)
			})
		},
	}
	cmd.Flags().StringVar(&client, "client", "", "client address")
	cmd.Flags().Int64Var(&nonce, "nonce", -1, "nonce (omit to read the next nonce from the database)")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}

func reportHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report-hash [file]",
		Short: "Hash a report file (or stdin) the way submissions are committed",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			report, err := io.ReadAll(r)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), escrow.ReportHash(report).Hex())
			return nil
		},
	}
}

type jobView struct {
	ID             string       `json:"id" yaml:"id"`
	Client         string       `json:"client" yaml:"client"`
	Nonce          uint64       `json:"nonce" yaml:"nonce"`
	Reviewer       string       `json:"reviewer,omitempty" yaml:"reviewer,omitempty"`
	Amount         string       `json:"amount" yaml:"amount"`
	FeeBps         uint16       `json:"fee_bps" yaml:"fee_bps"`
	Status         string       `json:"status" yaml:"status"`
	CreatedAt      string       `json:"created_at" yaml:"created_at"`
	SubmitDeadline string       `json:"submit_deadline" yaml:"submit_deadline"`
	AcceptDeadline string       `json:"accept_deadline,omitempty" yaml:"accept_deadline,omitempty"`
	ReportHash     string       `json:"report_hash,omitempty" yaml:"report_hash,omitempty"`
	Credits        []creditView `json:"credits,omitempty" yaml:"credits,omitempty"`
}

type creditView struct {
	Account string `json:"account" yaml:"account"`
	Amount  string `json:"amount" yaml:"amount"`
	Reason  string `json:"reason" yaml:"reason"`
}

func toJobView(j escrow.Job) jobView {
	v := jobView{
		ID:             j.ID.Hex(),
		Client:         j.Client.Hex(),
		Nonce:          j.Nonce,
		Amount:         j.Amount.Dec(),
		FeeBps:         j.FeeBps,
		Status:         string(j.Status),
		CreatedAt:      formatTime(j.CreatedAt),
		SubmitDeadline: formatTime(j.SubmitDeadline),
	}
	if j.HasReviewer() {
		v.Reviewer = j.Reviewer.Hex()
	}
	if j.AcceptDeadline != nil {
		v.AcceptDeadline = formatTime(*j.AcceptDeadline)
	}
	if j.ReportHash != (common.Hash{}) {
		v.ReportHash = j.ReportHash.Hex()
	}
	return v
}

func jobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "job <id>",
		Short: "Show a job with the credits its settlement produced",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobIDArg(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				job, err := a.Escrow.Job(ctx, id)
				if err != nil {
					return err
				}
				credits, err := a.Ledger.CreditsForJob(ctx, id)
				if err != nil {
					return err
				}
				v := toJobView(*job)
				for _, c := range credits {
					v.Credits = append(v.Credits, creditView{Account: c.Account.Hex(), Amount: c.Amount.Dec(), Reason: string(c.Reason)})
				}
				return render(cmd.OutOrStdout(), v, func(tw table.Writer) {
					tw.AppendRows([]table.Row{
						{"ID", v.ID},
						{"Client", v.Client},
						{"Nonce", v.Nonce},
						{"Reviewer", v.Reviewer},
						{"Amount", v.Amount},
						{"Fee (bps)", v.FeeBps},
						{"Status", v.Status},
						{"Created", v.CreatedAt},
						{"Submit deadline", v.SubmitDeadline},
						{"Accept deadline", v.AcceptDeadline},
						{"Report hash", v.ReportHash},
					})
					for _, c := range v.Credits {
						tw.AppendRow(table.Row{"Credit (" + c.Reason + ")", c.Account + " " + c.Amount})
					}
				})
			})
		},
	}
}

func jobsCmd() *cobra.Command {
	var client, reviewer, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			var f escrow.Filter
			var err error
			if client != "" {
				if f.Client, err = parseAddressArg(client); err != nil {
					return err
				}
			}
			if reviewer != "" {
				if f.Reviewer, err = parseAddressArg(reviewer); err != nil {
					return err
				}
			}
			if status != "" {
				if f.Status, err = escrow.ParseStatus(status); err != nil {
					return err
				}
			}
			f.Limit = limit
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				jobs, err := a.Escrow.Jobs(ctx, f)
				if err != nil {
					return err
				}
				views := make([]jobView, 0, len(jobs))
				for _, j := range jobs {
					views = append(views, toJobView(j))
				}
				return render(cmd.OutOrStdout(), views, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"ID", "Client", "Reviewer", "Amount", "Status", "Created"})
					for _, v := range views {
						tw.AppendRow(table.Row{v.ID, v.Client, v.Reviewer, v.Amount, v.Status, v.CreatedAt})
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&client, "client", "", "client filter")
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "reviewer filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum jobs to list")
	return cmd
}

func eventsCmd() *cobra.Command {
	var after int64
	cmd := &cobra.Command{
		Use:   "events <job-id>",
		Short: "Show a job's event stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobIDArg(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Timeline.Job(ctx, id, after, 0)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), events, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"Seq", "Type", "Actor", "At"})
					for _, e := range events {
						tw.AppendRow(table.Row{e.Seq, e.Type, e.Actor.Hex(), formatTime(e.CreatedAt)})
					}
				})
			})
		},
	}
	cmd.Flags().Int64Var(&after, "after", 0, "only events after this sequence number")
	return cmd
}

func balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <account>",
		Short: "Show an account's withdrawable balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := parseAddressArg(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				bal, err := a.Ledger.Balance(ctx, account)
				if err != nil {
					return err
				}
				m, err := a.Registry.Membership(ctx, account)
				if err != nil {
					return err
				}
				out := map[string]any{
					"account":    account.Hex(),
					"balance":    bal.Dec(),
					"reviewer":   m.Reviewer,
					"arbitrator": m.Arbitrator,
				}
				return render(cmd.OutOrStdout(), out, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"Account", "Balance", "Reviewer", "Arbitrator"})
					tw.AppendRow(table.Row{out["account"], out["balance"], m.Reviewer, m.Arbitrator})
				})
			})
		},
	}
}

func custodyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "custody",
		Short: "Show the total value held in custody",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				total, err := a.Ledger.Custody(ctx)
				if err != nil {
					return err
				}
				out := map[string]string{"custody": total.Dec()}
				return render(cmd.OutOrStdout(), out, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"Custody"})
					tw.AppendRow(table.Row{out["custody"]})
				})
			})
		},
	}
}

func arbitratorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "arbitrators",
		Short: "List allowlisted arbitrators in registry order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				list, err := a.Registry.Arbitrators(ctx)
				if err != nil {
					return err
				}
				out := make([]string, 0, len(list))
				for _, addr := range list {
					out = append(out, addr.Hex())
				}
				return render(cmd.OutOrStdout(), out, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"#", "Arbitrator"})
					for i, addr := range out {
						tw.AppendRow(table.Row{i, addr})
					}
				})
			})
		},
	}
}

func paramsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "params",
		Short: "Show the current escrow parameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Params.Get(ctx)
				if err != nil {
					return err
				}
				out := map[string]any{
					"owner":           p.Owner.Hex(),
					"fee_bps":         p.FeeBps,
					"accept_window":   p.AcceptWindow.String(),
					"submit_window":   p.SubmitWindow.String(),
					"vote_window":     p.VoteWindow.String(),
					"dispute_deposit": p.Deposit().Dec(),
					"updated_at":      formatTime(p.UpdatedAt),
				}
				return render(cmd.OutOrStdout(), out, func(tw table.Writer) {
					tw.AppendRows([]table.Row{
						{"Owner", out["owner"]},
						{"Fee (bps)", p.FeeBps},
						{"Accept window", out["accept_window"]},
						{"Submit window", out["submit_window"]},
						{"Vote window", out["vote_window"]},
						{"Dispute deposit", out["dispute_deposit"]},
						{"Updated", out["updated_at"]},
					})
				})
			})
		},
	}
}
