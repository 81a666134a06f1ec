package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show registration and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			a, err := buildAgent(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			status := a.registrar.Status()
			fmt.Printf("registered:   %v\n", status.Registered)
			if status.SecureID != "" {
				fmt.Printf("secure id:    %s\n", status.SecureID)
			}
			fmt.Printf("account:      %s\n", status.AccountName)
			if status.LastFailure != "" {
				fmt.Printf("last failure: %s\n", status.LastFailure)
			}
			fmt.Printf("pending:      %d messages\n", a.messageStore.CountPendingMessages())
			fmt.Printf("exchange url: %s\n", cfg.Exchange.URL)
			return nil
		},
	}
}
