package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"memoria/internal/events"
)

// NewPremiumCommand grants or revokes the premium flag that lifts the
// memorial page quota.
func NewPremiumCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "premium",
		Short: "Manage premium accounts",
	}
	cmd.AddCommand(premiumCommand("grant", true), premiumCommand("revoke", false))
	return cmd
}

func premiumCommand(use string, premium bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <username>",
		Short: use + " premium for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			svc, dispatcher, _, err := a.services(events.Nop{})
			if err != nil {
				return err
			}
			defer dispatcher.Close()

			user, err := svc.Users.SetPremium(cmd.Context(), args[0], premium)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s premium=%t\n", user.Username, user.Premium)
			return nil
		},
	}
}
