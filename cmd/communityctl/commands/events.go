package commands

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/benvon/community-portal/internal/models"
	"github.com/benvon/community-portal/internal/queue"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newEventsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect session lifecycle events",
	}
	cmd.AddCommand(newEventsTailCmd(flags))
	return cmd
}

func newEventsTailCmd(flags *globalFlags) *cobra.Command {
	var eventType string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream session events from the message bus",
		Long:  "Stream login, refresh and logout events published by portal servers until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnv(cmd, flags)
			if err != nil {
				return err
			}
			if env.cfg.RabbitMQURL == "" {
				return fmt.Errorf("RABBITMQ_URL is not configured")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sub, err := queue.NewRabbitMQPublisher(env.cfg.RabbitMQURL, env.cfg.RabbitMQExchange, env.log)
			if err != nil {
				return err
			}
			defer func() {
				if err := sub.Close(); err != nil {
					env.log.Warn("failed_to_close_rabbitmq_connection", zap.Error(err))
				}
			}()

			bindingKey := "session.#"
			if eventType != "" {
				bindingKey = queue.RoutingKey(models.SessionEventType(eventType))
			}
			events, errs, err := sub.Subscribe(ctx, bindingKey)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			for {
				select {
				case <-ctx.Done():
					return nil
				case err, ok := <-errs:
					if ok && err != nil {
						return err
					}
					errs = nil
				case ev, ok := <-events:
					if !ok {
						return nil
					}
					if asJSON {
						if err := enc.Encode(ev); err != nil {
							return err
						}
						continue
					}
					fmt.Fprintf(out, "%s  %-14s subject=%s session=%s code=%s\n",
						ev.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), ev.Type, ev.Subject, ev.SessionID, ev.Code)
				}
			}
		},
	}

	cmd.Flags().StringVar(&eventType, "type", "", "Only events of this type (login, login_failed, refreshed, refresh_failed, expired, logout)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print events as JSON lines")

	return cmd
}
