package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/iho/splitledger/internal/adapter/http/dto"
	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/infrastructure/auth"
	"github.com/iho/splitledger/internal/infrastructure/config"
	"github.com/iho/splitledger/internal/infrastructure/logger"
	"github.com/iho/splitledger/internal/infrastructure/postgres"
	"github.com/iho/splitledger/internal/infrastructure/sqlite"
)

// getAndPrint fetches path and prints the JSON answer.
func getAndPrint(cmd *cobra.Command, opts *options, path string, query url.Values) error {
	ctx, cancel := requestContext(cmd, opts)
	defer cancel()

	raw, err := newAPIClient(opts).get(ctx, path, query)
	if err != nil {
		return err
	}
	return printRaw(cmd, raw)
}

// postAndPrint sends body and prints the JSON answer.
func postAndPrint(cmd *cobra.Command, opts *options, path string, body any, key string) error {
	ctx, cancel := requestContext(cmd, opts)
	defer cancel()

	raw, err := newAPIClient(opts).post(ctx, path, body, key)
	if err != nil {
		return err
	}
	return printRaw(cmd, raw)
}

func printRaw(cmd *cobra.Command, raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	return printJSON(cmd.OutOrStdout(), json.RawMessage(raw))
}

// scopedCmd builds a command with "user" and "group" children that GET
// /users/{id}/<suffix> and /groups/{id}/<suffix>.
func scopedCmd(opts *options, use, short, suffix string) *cobra.Command {
	cmd := &cobra.Command{Use: use, Short: short}

	for _, scope := range []string{"user", "group"} {
		cmd.AddCommand(&cobra.Command{
			Use:   scope + " <id>",
			Short: short + " for one " + scope,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return getAndPrint(cmd, opts, "/"+scope+"s/"+url.PathEscape(args[0])+"/"+suffix, nil)
			},
		})
	}

	return cmd
}

func balancesCmd(opts *options) *cobra.Command {
	return scopedCmd(opts, "balances", "Show balances", "balances")
}

func suggestCmd(opts *options) *cobra.Command {
	return scopedCmd(opts, "suggest", "Suggest settlement payments", "suggestions")
}

func spendingCmd(opts *options) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "spending",
		Short: "Show what a user paid for expenses",
	}
	cmd.PersistentFlags().StringVar(&from, "from", "", "First month, YYYY-MM (default current month)")
	cmd.PersistentFlags().StringVar(&to, "to", "", "Last month, YYYY-MM (default current month)")

	query := func() url.Values {
		q := url.Values{}
		if from != "" {
			q.Set("from", from)
		}
		if to != "" {
			q.Set("to", to)
		}
		return q
	}

	for _, kind := range []string{"monthly", "total"} {
		cmd.AddCommand(&cobra.Command{
			Use:   kind + " <user-id>",
			Short: "Show " + kind + " spending",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return getAndPrint(cmd, opts, "/users/"+url.PathEscape(args[0])+"/spending/"+kind, query())
			},
		})
	}

	return cmd
}

func expenseCmd(opts *options) *cobra.Command {
	var (
		payer, group, amount, description, mode, key string
		shares                                       []string
	)

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Record an expense",
		Example: `  splitledger-cli expense add --payer ana --amount 30 --share ana --share ben
  splitledger-cli expense add --payer ana --amount 30 --mode exact --share ana=10 --share ben=20
  splitledger-cli expense add --payer ana --amount 30 --mode percentage --share ana=25 --share ben=75`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			total, err := parseAmount(amount)
			if err != nil {
				return err
			}
			split, err := parseShares(mode, shares)
			if err != nil {
				return err
			}

			req := dto.RecordExpenseRequest{
				PayerID:        payer,
				GroupID:        group,
				Amount:         total,
				Description:    description,
				IdempotencyKey: idempotencyKey(key),
				Split:          split,
			}
			return postAndPrint(cmd, opts, "/expenses", req, req.IdempotencyKey)
		},
	}
	addCmd.Flags().StringVar(&payer, "payer", "", "User who paid")
	addCmd.Flags().StringVar(&group, "group", "", "Group the expense belongs to")
	addCmd.Flags().StringVar(&amount, "amount", "", "Amount paid, e.g. 12.50")
	addCmd.Flags().StringVar(&description, "description", "", "What was paid for")
	addCmd.Flags().StringVar(&mode, "mode", string(domain.SplitModeEqual), "Split mode: equal, exact or percentage")
	addCmd.Flags().StringArrayVar(&shares, "share", nil, "Participant as user or user=value (repeatable)")
	addCmd.Flags().StringVar(&key, "key", "", "Idempotency key (default random)")
	_ = addCmd.MarkFlagRequired("payer")
	_ = addCmd.MarkFlagRequired("amount")
	_ = addCmd.MarkFlagRequired("share")

	cmd := &cobra.Command{Use: "expense", Short: "Expense operations"}
	cmd.AddCommand(addCmd)
	return cmd
}

func settleCmd(opts *options) *cobra.Command {
	var payer, payee, group, amount, note, key string

	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Record a payment from one user to another",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			total, err := parseAmount(amount)
			if err != nil {
				return err
			}

			req := dto.RecordSettlementRequest{
				PayerID:        payer,
				PayeeID:        payee,
				GroupID:        group,
				Amount:         total,
				Note:           note,
				IdempotencyKey: idempotencyKey(key),
			}
			return postAndPrint(cmd, opts, "/settlements", req, req.IdempotencyKey)
		},
	}
	cmd.Flags().StringVar(&payer, "from", "", "User who pays")
	cmd.Flags().StringVar(&payee, "to", "", "User who receives")
	cmd.Flags().StringVar(&group, "group", "", "Group the payment settles")
	cmd.Flags().StringVar(&amount, "amount", "", "Amount paid, e.g. 12.50")
	cmd.Flags().StringVar(&note, "note", "", "Free text note")
	cmd.Flags().StringVar(&key, "key", "", "Idempotency key (default random)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func entryCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "entry", Short: "Ledger entry operations"}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <sequence>",
		Short: "Show one ledger entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := parseSequence(args[0])
			if err != nil {
				return err
			}
			return getAndPrint(cmd, opts, "/entries/"+seq, nil)
		},
	})

	var key string
	voidCmd := &cobra.Command{
		Use:   "void <sequence>",
		Short: "Reverse a ledger entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := parseSequence(args[0])
			if err != nil {
				return err
			}
			return postAndPrint(cmd, opts, "/entries/"+seq+"/void", nil, idempotencyKey(key))
		},
	}
	voidCmd.Flags().StringVar(&key, "key", "", "Idempotency key (default random)")
	cmd.AddCommand(voidCmd)

	return cmd
}

func entriesCmd(opts *options) *cobra.Command {
	var since int64
	var limit int

	cmd := &cobra.Command{
		Use:   "entries",
		Short: "List ledger entries in sequence order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("since", strconv.FormatInt(since, 10))
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			return getAndPrint(cmd, opts, "/entries", q)
		},
	}
	cmd.Flags().Int64Var(&since, "since", 0, "Only entries after this sequence")
	cmd.Flags().IntVar(&limit, "limit", 0, "Page size (default server side)")

	return cmd
}

func ledgerCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "ledger", Short: "Ledger operations"}

	cmd.AddCommand(&cobra.Command{
		Use:     "verify",
		Aliases: []string{"consistency"},
		Short:   "Check ledger consistency",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd, opts)
			defer cancel()

			raw, err := newAPIClient(opts).get(ctx, "/ledger/consistency", nil)
			var apiErr *apiError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
				if err := printRaw(cmd, raw); err != nil {
					return err
				}
				return errors.New("consistency check FAILED")
			}
			if err != nil {
				return err
			}

			if err := printRaw(cmd, raw); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Consistency check PASSED")
			return nil
		},
	})

	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back ledger schema migrations on the configured backend",
	}

	run := func(up bool) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := logger.New(logger.Config{Level: cfg.LogLevel, Format: "console", Output: cmd.ErrOrStderr()})

			switch cfg.Backend {
			case config.BackendSQLite:
				if up {
					err = sqlite.RunMigrations(cfg.SQLitePath)
				} else {
					err = sqlite.RunMigrationsDown(cfg.SQLitePath)
				}
			default:
				if up {
					err = postgres.RunMigrations(cfg.DatabaseURL, log)
				} else {
					err = postgres.RunMigrationsDown(cfg.DatabaseURL, log)
				}
			}
			if err != nil {
				return err
			}

			log.Info().Str("backend", cfg.Backend).Bool("up", up).Msg("migrations finished")
			return nil
		}
	}

	cmd.AddCommand(
		&cobra.Command{Use: "up", Short: "Apply all pending migrations", Args: cobra.NoArgs, RunE: run(true)},
		&cobra.Command{Use: "down", Short: "Roll back the last migration", Args: cobra.NoArgs, RunE: run(false)},
	)

	return cmd
}

func tokenCmd() *cobra.Command {
	var name, secret string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a development JWT for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				secret = cfg.JWTSecret
				if ttl == 0 {
					ttl = cfg.JWTExpiration
				}
			}
			if secret == "" {
				return errors.New("no signing secret: set JWT_SECRET or pass --secret")
			}
			if ttl <= 0 {
				ttl = 24 * time.Hour
			}

			token, err := auth.NewJWTManager(secret, ttl).Generate(&domain.User{ID: args[0], Name: name})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name written to the token")
	cmd.Flags().StringVar(&secret, "secret", "", "Signing secret (default JWT_SECRET)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default JWT_EXPIRATION)")

	return cmd
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

func parseSequence(s string) (string, error) {
	seq, err := strconv.ParseInt(s, 10, 64)
	if err != nil || seq <= 0 {
		return "", fmt.Errorf("invalid sequence %q", s)
	}
	return strconv.FormatInt(seq, 10), nil
}

// parseShares reads --share values. Equal splits take bare user ids; exact
// and percentage splits take user=value.
func parseShares(mode string, specs []string) (dto.SplitRequest, error) {
	m, err := domain.ParseSplitMode(mode)
	if err != nil {
		return dto.SplitRequest{}, err
	}

	split := dto.SplitRequest{Mode: string(m), Shares: make([]dto.ShareRequest, 0, len(specs))}
	for _, spec := range specs {
		user, value, hasValue := strings.Cut(spec, "=")
		if user == "" {
			return dto.SplitRequest{}, fmt.Errorf("invalid share %q", spec)
		}

		share := dto.ShareRequest{UserID: user}
		switch {
		case m == domain.SplitModeEqual && hasValue:
			return dto.SplitRequest{}, fmt.Errorf("share %q: equal splits take no value", spec)
		case m != domain.SplitModeEqual && !hasValue:
			return dto.SplitRequest{}, fmt.Errorf("share %q: %s splits need user=value", spec, m)
		case hasValue:
			d, err := decimal.NewFromString(value)
			if err != nil {
				return dto.SplitRequest{}, fmt.Errorf("share %q: %w", spec, err)
			}
			if m == domain.SplitModeExact {
				share.Amount = &d
			} else {
				share.Percentage = &d
			}
		}
		split.Shares = append(split.Shares, share)
	}

	return split, nil
}

func idempotencyKey(key string) string {
	if key != "" {
		return key
	}
	return uuid.NewString()
}
