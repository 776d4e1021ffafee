package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/harrisonrobin/planhub/pkg/api"
	"github.com/harrisonrobin/planhub/pkg/auth"
	"github.com/harrisonrobin/planhub/pkg/config"
)

var Version = "dev"

func main() {
	var configPath string
	rootCmd := &cobra.Command{
		Use:           "planhub",
		Short:         "PlanHub - natural language task planner with email reminders",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/planhub/config.yaml)")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(workerCmd(&configPath))
	rootCmd.AddCommand(notifyCmd(&configPath))
	rootCmd.AddCommand(askCmd(&configPath))
	rootCmd.AddCommand(authCmd(&configPath))
	rootCmd.AddCommand(configCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func serveCmd(configPath *string) *cobra.Command {
	var port int
	var noNotifier bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := loadApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err, ok := a.missing["server"]; ok {
				return err
			}
			sessions, err := auth.NewSessions(a.cfg.Server.SecretKey)
			if err != nil {
				return err
			}

			opts := []api.Option{api.WithLogger(a.log), api.WithNotifier(a.notifier)}
			if a.cfg.Server.AllowMockLogin {
				a.log.Warn("mock login enabled: any email can sign in without a password")
				opts = append(opts, api.WithMockLogin(a.cfg.Server.SessionTTL))
			}
			if a.cfg.Server.EmbedNotifier && !noNotifier {
				if err := a.notifier.Start(ctx); err != nil {
					return err
				}
			}

			if !cmd.Flags().Changed("port") {
				port = a.cfg.Server.Port
			}
			srv := &http.Server{
				Addr:              ":" + strconv.Itoa(port),
				Handler:           api.NewServer(a.planner, sessions, opts...).Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errc := make(chan error, 1)
			go func() {
				a.log.Info("listening", "addr", srv.Addr)
				errc <- srv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			a.log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 5000, "port to listen on (overrides config)")
	cmd.Flags().BoolVar(&noNotifier, "no-notifier", false, "do not run the reminder notifier in this process")
	return cmd
}

func workerCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the reminder notifier until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := loadApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.notifier.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			a.log.Info("stopping notifier")
			return nil
		},
	}
}

func notifyCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "notify",
		Short: "Send reminders for due tasks once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := loadApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			rep := a.notifier.Tick(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "due: %d, sent: %d, failed: %d, ineligible: %d, unmarked: %d\n",
				rep.Due, rep.Sent, rep.Failed, rep.Ineligible, rep.Unmarked)
			return rep.Err
		},
	}
}

func askCmd(configPath *string) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Send a message to the planner, e.g. \"remind me to call mom tomorrow at 6pm\"",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := loadApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if user == "" {
				user = a.cfg.Mail.FallbackTo
			}
			answer, err := a.planner.Ask(ctx, user, strings.Join(args, " "))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(answer)
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "owner email (default mail.fallback_to)")
	return cmd
}

func authCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authorize Google Calendar and Gmail access",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if err := auth.Login(ctx, cfg.Dir, auth.GoogleScopes); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Authentication successful.")
			return nil
		},
	}
}

func configCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change settings",
	}

	path := func() (string, error) {
		if *configPath != "" {
			return *configPath, nil
		}
		return config.GetConfigPath()
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg.Redacted())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [key] [value]",
		Short: "Set a config key, e.g. calendar.name Work",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := path()
			if err != nil {
				return err
			}
			if err := config.Set(p, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s set to: %s\n", args[0], args[1])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := path()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		},
	})
	return cmd
}
