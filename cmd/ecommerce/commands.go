package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tomarrohitt/e-commerce-sub000/internal/app"
	"github.com/tomarrohitt/e-commerce-sub000/internal/config"
	"github.com/tomarrohitt/e-commerce-sub000/pkg/logger"

)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "ecommerce",
		Short:        "Servicios de e-commerce: catálogo, pedidos, carrito y facturas",
		SilenceUsage: true,
	}
	root.AddCommand(
		newServeCmd(),
		newWorkerCmd(),
		newMigrateCmd(),
		newOutboxCmd(),
		newSweepCmd(),
	)
	return root
}

// bootstrap carga config, logger y la aplicación completa.
func bootstrap(ctx context.Context) (*app.App, *zap.Logger, error) {
	cfg := config.LoadConfig()
	logger.Init(cfg.LogLevel)
	log := logger.Named(cfg.AppName)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, log, fmt.Errorf("arrancando %s: %w", cfg.AppName, err)
	}
	return a, log, nil
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func runCmd(use, short string, opts app.RunOptions) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, log, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer log.Sync()

			if err := a.Migrate(ctx); err != nil {
				a.Close()
				return err
			}
			return a.Run(ctx, opts)
		},
	}
}

func newServeCmd() *cobra.Command {
	return runCmd("serve", "API HTTP más relays, consumidores y sweeper", app.RunOptions{HTTP: true, Workers: true})
}

func newWorkerCmd() *cobra.Command {
	return runCmd("worker", "Solo relays, consumidores y sweeper", app.RunOptions{Workers: true})
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Crea las tablas de todos los servicios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, log, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Migrate(cmd.Context()); err != nil {
				return err
			}
			log.Info("✅ Migraciones aplicadas")
			return nil
		},
	}
}

func newOutboxCmd() *cobra.Command {
	outboxCmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspección y reintento de eventos FAILED",
	}

	var limit int
	failed := &cobra.Command{
		Use:   "failed <service>",
		Short: "Lista los eventos FAILED de un servicio",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			rows, err := a.Outboxes.ListFailed(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tEVENT\tAGGREGATE\tRETRIES\tLAST ERROR")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.EventType, r.AggregateID, strconv.Itoa(r.RetryCount), r.LastError)
			}
			return w.Flush()
		},
	}
	failed.Flags().IntVar(&limit, "limit", 50, "máximo de filas")

	retry := &cobra.Command{
		Use:   "retry <service> <event-id>",
		Short: "Devuelve un evento FAILED a PENDING",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("event-id inválido: %w", err)
			}
			a, log, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Outboxes.Retry(cmd.Context(), args[0], id); err != nil {
				return err
			}
			log.Info("🔁 Evento reencolado", zap.String("service", args[0]), zap.String("eventId", id.String()))
			return nil
		},
	}

	outboxCmd.AddCommand(failed, retry)
	return outboxCmd
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Cancela una vez los pedidos caducados",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, log, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Sweeper.SweepOnce(cmd.Context())
			if err != nil {
				return err
			}
			log.Info("🧹 Barrido completado", zap.Int("cancelled", n))
			return nil
		},
	}
}
