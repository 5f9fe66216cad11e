package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/Additional-Code/storefront/internal/app"
	"github.com/Additional-Code/storefront/internal/entity"
	"github.com/Additional-Code/storefront/internal/migration"
	repositorysetting "github.com/Additional-Code/storefront/internal/repository/setting"
	ordersvc "github.com/Additional-Code/storefront/internal/service/order"
	paymentsvc "github.com/Additional-Code/storefront/internal/service/payment"
	"github.com/Additional-Code/storefront/internal/seeder"
)

const stopTimeout = 10 * time.Second

// NewRootCommand builds the root storefront CLI command.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "storefront",
		Short:         "Storefront order and payment service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newStartCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newSeedCmd())
	root.AddCommand(newWorkerCmd())
	root.AddCommand(newPaymentCmd())

	return root
}

// Execute runs the storefront CLI until it finishes or the process is signalled.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}
	return nil
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "start",
		Aliases: []string{"run"},
		Short:   "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUntilDone(cmd.Context(), fx.New(app.Module))
		},
	}
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			var mig *migration.Migrator
			opts := fx.Options(app.Infrastructure, migration.Module, fx.Populate(&mig))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				if err := mig.Up(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Rollback migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			all, _ := cmd.Flags().GetBool("all")
			var mig *migration.Migrator
			opts := fx.Options(app.Infrastructure, migration.Module, fx.Populate(&mig))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				if err := mig.Down(ctx, steps, all); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations rolled back")
				return nil
			})
		},
	}
	downCmd.Flags().Int("steps", 1, "Number of migration steps to rollback")
	downCmd.Flags().Bool("all", false, "Rollback all applied migrations")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print the applied schema version and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			var mig *migration.Migrator
			opts := fx.Options(app.Infrastructure, migration.Module, fx.Populate(&mig))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				version, err := mig.Version(ctx)
				if err != nil {
					return err
				}
				pending, err := mig.Pending(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema version %d, %d pending %v\n", version, len(pending), pending)
				return nil
			})
		},
	}

	cmd.AddCommand(upCmd, downCmd, statusCmd)
	return cmd
}

func newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load catalog and settings fixtures",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			fixtures, err := seeder.LoadFixtures(file)
			if err != nil {
				return err
			}

			var seed *seeder.Seeder
			opts := fx.Options(app.Infrastructure, repositorysetting.Module, seeder.Module, fx.Populate(&seed))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				if err := seed.Run(ctx, fixtures); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "seed data applied")
				return nil
			})
		},
	}
	cmd.Flags().String("file", "", "YAML fixture file (defaults to the bundled catalog)")
	return cmd
}

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage background workers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run reconciliation and notification consumers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUntilDone(cmd.Context(), fx.New(app.Worker))
		},
	})
	return cmd
}

func newPaymentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payment",
		Short: "Payment maintenance",
	}

	verifyCmd := &cobra.Command{
		Use:   "verify <reference>",
		Short: "Reconcile one order against its payment gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			method, _ := cmd.Flags().GetString("method")
			orderID, _ := cmd.Flags().GetInt64("order-id")

			var (
				orders     *ordersvc.Service
				dispatcher *paymentsvc.Dispatcher
			)
			opts := fx.Options(app.Core, fx.Populate(&orders, &dispatcher))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				order, err := lookupOrder(ctx, orders, args[0], orderID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()

				if method == entity.MethodTransfer || order.PaymentMethod == entity.MethodTransfer {
					fmt.Fprintf(out, "order %s payment status: %s\n%s\n", order.Number, order.PaymentStatus, paymentsvc.TransferReviewMessage)
					return nil
				}
				if method != "" && method != order.PaymentMethod {
					return fmt.Errorf("order %s was placed with %s, not %s", order.Number, order.PaymentMethod, method)
				}
				if order.IsPaid() {
					fmt.Fprintf(out, "order %s already paid\n", order.Number)
					return nil
				}

				if dispatcher.Queued() {
					if err := dispatcher.ScheduleNow(ctx, order); err != nil {
						return err
					}
					fmt.Fprintf(out, "verification queued for order %s\n", order.Number)
					return nil
				}

				outcome := dispatcher.Attempt(ctx, dispatcher.NewTask(order))
				fmt.Fprintf(out, "order %s reconciliation: %s\n", order.Number, outcome)
				return nil
			})
		},
	}
	verifyCmd.Flags().String("method", "", "Payment method the reference belongs to (paystack, monnify, transfer)")
	verifyCmd.Flags().Int64("order-id", 0, "Order id, when the reference is not yet recorded")

	cmd.AddCommand(verifyCmd)
	return cmd
}

func lookupOrder(ctx context.Context, orders *ordersvc.Service, reference string, orderID int64) (*entity.Order, error) {
	if orderID > 0 {
		return orders.Reload(ctx, orderID)
	}
	return orders.FindByReference(ctx, reference)
}

func runUntilDone(ctx context.Context, application *fx.App) error {
	if err := application.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return application.Stop(stopCtx)
}

func runWithApp(ctx context.Context, opts fx.Option, fn func(context.Context) error) error {
	application := fx.New(opts)
	if err := application.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		_ = application.Stop(stopCtx)
	}()
	return fn(ctx)
}
