package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/courier/internal/logging"
)

func registerCmd() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register this computer with the management server",
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

			if !a.registrar.ShouldRegister() {
				status := a.registrar.Status()
				if status.Registered {
					fmt.Printf("already registered (secure id %s)\n", status.SecureID)
					return nil
				}
				return fmt.Errorf("missing computer_title or account_name, or server is not accepting registrations")
			}

			done := make(chan error, 1)
			a.reactor.CallOn("registration-done", func(map[string]any) { done <- nil })
			a.reactor.CallOn("registration-failed", func(args map[string]any) {
				reason, _ := args["reason"].(string)
				done <- fmt.Errorf("registration failed: %s", reason)
			})

			if err := a.registrar.Register(); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), wait)
			defer cancel()

			go a.reactor.Run(ctx)

			select {
			case err := <-done:
				a.reactor.Stop()
				if err != nil {
					return err
				}
				logging.Op().Info("registration succeeded", "secure_id", a.identity.SecureID())
				fmt.Println("registered")
				return nil
			case <-ctx.Done():
				a.reactor.Stop()
				return fmt.Errorf("registration timed out after %s", wait)
			}
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "how long to wait for the server to respond")
	return cmd
}
