package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/didcomm-mediator/mediator/acl"
)

var aclBitName string
var aclValue bool

var aclSetCmd = &cobra.Command{
	Use:   "acl-set [did-hash]",
	Short: "Set or clear a single ACL bit on an account",
	Long: `acl-set flips one bit of an account's per-account ACL, named by its
symbolic name (see acl.Name/acl.BitByName), e.g. "send_messages" or
"create_invites_self".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bit, ok := acl.BitByName(aclBitName)
		if !ok {
			return fmt.Errorf("unknown acl bit %q", aclBitName)
		}

		ctx := cmd.Context()
		accounts, err := connectAccounts(ctx)
		if err != nil {
			return err
		}
		defer accounts.Close()

		if err := accounts.SetACLBit(ctx, args[0], bit, aclValue); err != nil {
			return err
		}
		fmt.Printf("set %s=%v for %s\n", aclBitName, aclValue, args[0])
		return nil
	},
}

var globalACLBits []string

var globalACLCmd = &cobra.Command{
	Use:   "global-acl-set",
	Short: "Replace the mediator-wide default ACL",
	Long: `global-acl-set replaces GLOBAL_ACL, the default bitmask unioned
underneath every account's own ACL (spec's "global vs per-account ACL").`,
	RunE: func(cmd *cobra.Command, args []string) error {
		set := acl.NewSet()
		for _, name := range globalACLBits {
			bit, ok := acl.BitByName(name)
			if !ok {
				return fmt.Errorf("unknown acl bit %q", name)
			}
			set = set.Set(bit)
		}

		ctx := cmd.Context()
		accounts, err := connectAccounts(ctx)
		if err != nil {
			return err
		}
		defer accounts.Close()

		if err := accounts.SetGlobalACL(ctx, set); err != nil {
			return err
		}
		fmt.Printf("global acl set to %v\n", globalACLBits)
		return nil
	},
}

func init() {
	aclSetCmd.Flags().StringVar(&aclBitName, "bit", "", "ACL bit name (required)")
	aclSetCmd.Flags().BoolVar(&aclValue, "value", true, "bit value")
	aclSetCmd.MarkFlagRequired("bit")

	globalACLCmd.Flags().StringSliceVar(&globalACLBits, "bits", nil, "comma-separated ACL bit names")

	rootCmd.AddCommand(aclSetCmd, globalACLCmd)
}
