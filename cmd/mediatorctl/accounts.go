package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/didcomm-mediator/mediator/auth"
)

func connectAccounts(ctx context.Context) (*auth.RedisAccountIndex, error) {
	return auth.NewRedisAccountIndex(ctx, redisAddr, redisPassword, redisDB, rootAdminDID, mediatorDID)
}

var removeCmd = &cobra.Command{
	Use:   "account-remove [did-hash]",
	Short: "Remove an account by its DID hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		accounts, err := connectAccounts(ctx)
		if err != nil {
			return err
		}
		defer accounts.Close()

		if err := accounts.RemoveAccount(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("removed account %s\n", args[0])
		return nil
	},
}

var promoteCmd = &cobra.Command{
	Use:   "promote-admin [did-hash]",
	Short: "Grant admin privilege to a previously-seen DID hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		accounts, err := connectAccounts(ctx)
		if err != nil {
			return err
		}
		defer accounts.Close()

		if err := accounts.PromoteAdminByHash(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("promoted %s to admin\n", args[0])
		return nil
	},
}

var demoteCmd = &cobra.Command{
	Use:   "demote-admin [did-hash]",
	Short: "Revoke admin privilege from a DID hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		accounts, err := connectAccounts(ctx)
		if err != nil {
			return err
		}
		defer accounts.Close()

		if err := accounts.DemoteAdminByHash(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("demoted %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(removeCmd, promoteCmd, demoteCmd)
}
