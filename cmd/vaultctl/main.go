package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

type globalFlags struct {
	endpoint string
	token    string
	timeout  time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "vaultctl",
		Short:         "Operate a vaultd ledger over its HTTP API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.endpoint, "endpoint", envOr("VAULTD_ENDPOINT", "http://127.0.0.1:7080"), "vaultd base URL")
	root.PersistentFlags().StringVar(&flags.token, "token", os.Getenv("VAULTD_TOKEN"), "bearer token")
	root.PersistentFlags().DurationVar(&flags.timeout, "timeout", 15*time.Second, "request timeout")

	root.AddCommand(newOracleCmd(flags), newVaultCmd(flags), newBalanceCmd(flags))
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (f *globalFlags) client() (*client, error) {
	return newClient(f.endpoint, f.token, f.timeout)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newOracleCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "oracle", Short: "Inspect and update the price oracle"}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show stored and effective prices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			var out map[string]interface{}
			if err := c.get(cmd.Context(), "/v1/oracle", &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}

	update := &cobra.Command{
		Use:   "update <price>",
		Short: "Submit a guarded price update, e.g. 1.0005",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			var out map[string]interface{}
			if err := c.post(cmd.Context(), "/v1/oracle/price", map[string]string{"price": args[0]}, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}

	var limit int
	submissions := &cobra.Command{
		Use:   "submissions",
		Short: "List recent price submissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			var out map[string]interface{}
			if err := c.get(cmd.Context(), "/v1/oracle/submissions?limit="+strconv.Itoa(limit), &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	submissions.Flags().IntVar(&limit, "limit", 20, "number of submissions to list")

	round := &cobra.Command{
		Use:   "round [proof-id]",
		Short: "Show a feeder round, the latest one when no proof id is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			path := "/v1/oracle/rounds/latest"
			if len(args) == 1 {
				path = "/v1/oracle/rounds/" + url.PathEscape(args[0])
			}
			var out map[string]interface{}
			if err := c.get(cmd.Context(), path, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}

	cmd.AddCommand(show, update, submissions, round)
	return cmd
}

func newVaultCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "vault", Short: "Convert between the cash and invest units"}

	preview := &cobra.Command{
		Use:   "preview <deposit|mint|withdraw|redeem> <amount>",
		Short: "Preview a conversion without executing it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			q := url.Values{"op": {args[0]}, "amount": {args[1]}}
			var out map[string]string
			if err := c.get(cmd.Context(), "/v1/vault/preview?"+q.Encode(), &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	cmd.AddCommand(preview)

	for _, op := range []string{"deposit", "mint", "withdraw", "redeem"} {
		cmd.AddCommand(newVaultOpCmd(flags, op))
	}

	receipt := &cobra.Command{
		Use:   "receipt <id>",
		Short: "Fetch a conversion receipt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			var out map[string]interface{}
			if err := c.get(cmd.Context(), "/v1/vault/receipts/"+url.PathEscape(args[0]), &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	cmd.AddCommand(receipt)
	return cmd
}

func newVaultOpCmd(flags *globalFlags, op string) *cobra.Command {
	var receiver, owner string
	cmd := &cobra.Command{
		Use:   op + " <amount>",
		Short: "Execute a vault " + op + " in base units",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			body := map[string]string{"amount": args[0]}
			if receiver != "" {
				body["receiver"] = receiver
			}
			if owner != "" {
				body["owner"] = owner
			}
			var out map[string]interface{}
			if err := c.post(cmd.Context(), "/v1/vault/"+op, body, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringVar(&receiver, "receiver", "", "receiving account (defaults to the caller)")
	if op == "withdraw" || op == "redeem" {
		cmd.Flags().StringVar(&owner, "owner", "", "account whose shares are burned (defaults to the caller)")
	}
	return cmd
}

func newBalanceCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <unit> <account>",
		Short: "Show the balance and frozen amount of an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			var out map[string]string
			path := fmt.Sprintf("/v1/tokens/%s/balances/%s", url.PathEscape(args[0]), url.PathEscape(args[1]))
			if err := c.get(cmd.Context(), path, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
}
