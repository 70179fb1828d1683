// Package main implements mediatorctl, an operator CLI for account and ACL
// administration against a mediator's Redis-backed account store. Grounded
// on the teacher's cmd/sage-did and cmd/sage-crypto command trees: a single
// cobra root command, one file per command group (accounts.go, acl.go),
// flags registered in each subcommand's own init.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mediatorctl",
	Short: "mediatorctl administers accounts, ACLs, and admin status for a DIDComm mediator",
	Long: `mediatorctl talks directly to the mediator's Redis-backed account store
(ADMINS, KNOWN_DIDS, ACL:<hash>, ACCESS_LIST:<hash>, GLOBAL_ACL) to perform
the account-management operations a running mediator process would
otherwise only accept as signed MediatorAdministration DIDComm messages.`,
}

var (
	redisAddr     string
	redisPassword string
	redisDB       int
	rootAdminDID  string
	mediatorDID   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&redisAddr, "redis-addr", "127.0.0.1:6379", "Redis address")
	pf.StringVar(&redisPassword, "redis-password", "", "Redis password")
	pf.IntVar(&redisDB, "redis-db", 0, "Redis database number")
	pf.StringVar(&rootAdminDID, "root-admin", "", "root admin DID (required)")
	pf.StringVar(&mediatorDID, "mediator-did", "", "the mediator's own DID (required)")
	rootCmd.MarkPersistentFlagRequired("root-admin")
	rootCmd.MarkPersistentFlagRequired("mediator-did")
}
