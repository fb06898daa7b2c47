package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/Cyvadra/tv-bridge/internal/database"
	"github.com/Cyvadra/tv-bridge/internal/services"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
)

func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage trading accounts",
	}
	cmd.AddCommand(newAccountAddCmd(), newAccountListCmd(), newAccountDeactivateCmd())
	return cmd
}

func newAccountAddCmd() *cobra.Command {
	var in services.AccountInput
	var password string

	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Register an account and print its webhook key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			db, err := database.Open(cfg.Database, log)
			if err != nil {
				return err
			}

			in.Name = args[0]
			if password != "" {
				in.Password = &password
			}
			account, err := services.NewAccountService(db, log).Create(cmd.Context(), in)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Account %d created\nWebhook URL: /webhook/%s\n", account.ID, account.WebhookKey)
			return nil
		},
	}

	cmd.Flags().StringVar(&in.BrokerType, "broker", "mt5", "Broker family (mt5, mt4, binance)")
	cmd.Flags().StringVar(&in.ServerIP, "server", "", "Broker server")
	cmd.Flags().IntVar(&in.ServerPort, "port", 443, "Broker server port")
	cmd.Flags().StringVar(&in.Login, "login", "", "Broker login")
	cmd.Flags().StringVar(&password, "password", "", "Broker password")
	cmd.Flags().Float64Var(&in.DefaultLotSize, "lot", 0.01, "Default lot size")
	cmd.Flags().IntVar(&in.MaxDailyTrades, "max-daily-trades", 10, "Daily trade limit")
	return cmd
}

func newAccountListCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			db, err := database.Open(cfg.Database, log)
			if err != nil {
				return err
			}

			accounts, err := services.NewAccountService(db, log).List(cmd.Context(), all)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tBROKER\tACTIVE\tTRADES\tSUCCESS\tWEBHOOK KEY")
			for i := range accounts {
				a := &accounts[i]
				fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%d\t%.1f%%\t%s\n",
					a.ID, a.Name, a.BrokerType, a.IsActive, a.TotalTrades, a.SuccessRate(), a.WebhookKey)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include deactivated accounts")
	return cmd
}

func newAccountDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate ID",
		Short: "Deactivate an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := cast.ToUintE(args[0])
			if err != nil || id == 0 {
				return fmt.Errorf("invalid account id: %s", args[0])
			}

			cfg, log, err := setup()
			if err != nil {
				return err
			}
			db, err := database.Open(cfg.Database, log)
			if err != nil {
				return err
			}

			if err := services.NewAccountService(db, log).Deactivate(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Account %d deactivated\n", id)
			return nil
		},
	}
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password PASSWORD",
		Short: "Print the bcrypt hash for admin.password_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := services.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
