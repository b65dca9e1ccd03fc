package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reviewharvest/review-bridge/internal/api"
	"github.com/reviewharvest/review-bridge/internal/biz/domain"
	"github.com/reviewharvest/review-bridge/internal/biz/repo"
	"github.com/reviewharvest/review-bridge/internal/biz/usecase"
	"github.com/reviewharvest/review-bridge/internal/conf"
	"github.com/reviewharvest/review-bridge/internal/data"
)

var (
	listStatus  []string
	addProduct  string
	customersJS bool
)

// customersCmd manages the customer list
var customersCmd = &cobra.Command{
	Use:   "customers",
	Short: "Manage campaign customers",
	Long: `List and manage the customers a campaign reaches.

Subcommands:
  list     - List customers, optionally by status
  add      - Add one customer
  import   - Import customers from CSV (name,contact[,product])
  reset    - Put a customer back at pending
  delete   - Delete a customer
  stats    - Show campaign counters`,
	RunE: runCustomersList,
}

var customersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List customers",
	RunE:  runCustomersList,
}

var customersAddCmd = &cobra.Command{
	Use:   "add <name> <contact>",
	Short: "Add a pending customer",
	Args:  cobra.ExactArgs(2),
	RunE:  runCustomersAdd,
}

var customersImportCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Import customers from CSV rows of name,contact[,product]",
	Args:  cobra.ExactArgs(1),
	RunE:  runCustomersImport,
}

var customersResetCmd = &cobra.Command{
	Use:   "reset <id>",
	Short: "Put a customer back at pending for a fresh campaign cycle",
	Args:  cobra.ExactArgs(1),
	RunE:  runCustomersReset,
}

var customersDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a customer",
	Args:  cobra.ExactArgs(1),
	RunE:  runCustomersDelete,
}

var customersStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show campaign counters and the conversion rate",
	RunE:  runCustomersStats,
}

func init() {
	customersCmd.PersistentFlags().BoolVar(&customersJS, "json", false, "Print JSON")
	customersCmd.Flags().StringSliceVar(&listStatus, "status", nil, "Filter by status (repeatable)")
	customersListCmd.Flags().StringSliceVar(&listStatus, "status", nil, "Filter by status (repeatable)")
	customersAddCmd.Flags().StringVar(&addProduct, "product", "", "Product the customer bought")

	customersCmd.AddCommand(customersListCmd, customersAddCmd, customersImportCmd,
		customersResetCmd, customersDeleteCmd, customersStatsCmd)
}

// withCustomers opens only the customer store; no channel credentials are needed
func withCustomers(ctx context.Context, fn func(uc *usecase.CustomerUsecase) error) error {
	cfg := conf.LoadFromEnv()
	if err := cfg.ValidateStore(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	store, err := data.NewCustomerStore(ctx, data.StoreOptions{
		Driver: cfg.Store.Driver,
		Path:   cfg.Store.DBPath,
		DSN:    cfg.Store.DSN,
	})
	if err != nil {
		return err
	}
	defer closeStore(store)

	return fn(usecase.NewCustomerUsecase(store, usecase.NewKeyedLock(), logger))
}

func closeStore(store repo.CustomerRepo) {
	if err := store.Close(); err != nil {
		logger.Warn("close store", zap.Error(err))
	}
}

func runCustomersList(cmd *cobra.Command, args []string) error {
	var statuses []domain.Status
	for _, raw := range listStatus {
		status, err := domain.ParseStatus(raw)
		if err != nil {
			return err
		}
		statuses = append(statuses, status)
	}

	return withCustomers(cmd.Context(), func(uc *usecase.CustomerUsecase) error {
		customers, err := uc.List(cmd.Context(), statuses...)
		if err != nil {
			return fmt.Errorf("failed to list customers: %w", err)
		}
		if customersJS {
			views := make([]api.Customer, len(customers))
			for i, c := range customers {
				views[i] = api.ConvertCustomer(c)
			}
			return printJSON(cmd, views)
		}

		if len(customers) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No customers found.")
			return nil
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-6s %-20s %-18s %-15s %-9s %s\n", "ID", "NAME", "CONTACT", "STATUS", "SENTIMENT", "REPLY")
		fmt.Fprintln(out, strings.Repeat("─", 90))
		for _, c := range customers {
			fmt.Fprintf(out, "%-6d %-20s %-18s %-15s %-9s %s\n",
				c.ID, truncate(c.Name, 20), truncate(c.Contact, 18), c.Status, c.Sentiment, truncate(c.ReplyText, 30))
		}
		fmt.Fprintf(out, "Total: %d customers\n", len(customers))
		return nil
	})
}

func runCustomersAdd(cmd *cobra.Command, args []string) error {
	return withCustomers(cmd.Context(), func(uc *usecase.CustomerUsecase) error {
		c, err := uc.Add(cmd.Context(), args[0], args[1], addProduct)
		if err != nil {
			return fmt.Errorf("failed to add customer: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added customer #%d %s (%s)\n", c.ID, c.Name, c.Contact)
		return nil
	})
}

func runCustomersImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	return withCustomers(cmd.Context(), func(uc *usecase.CustomerUsecase) error {
		result, err := uc.Import(cmd.Context(), f)
		if err != nil {
			return fmt.Errorf("failed to import %s: %w", args[0], err)
		}
		if customersJS {
			return printJSON(cmd, result)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Imported %d customers, %d duplicates skipped\n", result.Added, result.Duplicates)
		for _, line := range result.Invalid {
			fmt.Fprintln(out, "  invalid", line)
		}
		return nil
	})
}

func runCustomersReset(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	return withCustomers(cmd.Context(), func(uc *usecase.CustomerUsecase) error {
		c, err := uc.Reset(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("failed to reset customer %d: %w", id, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Customer #%d is %s again\n", c.ID, c.Status)
		return nil
	})
}

func runCustomersDelete(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	return withCustomers(cmd.Context(), func(uc *usecase.CustomerUsecase) error {
		if err := uc.Delete(cmd.Context(), id); err != nil {
			return fmt.Errorf("failed to delete customer %d: %w", id, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted customer #%d\n", id)
		return nil
	})
}

func runCustomersStats(cmd *cobra.Command, args []string) error {
	return withCustomers(cmd.Context(), func(uc *usecase.CustomerUsecase) error {
		stats, err := uc.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to load stats: %w", err)
		}
		if customersJS {
			return printJSON(cmd, stats)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Customers: %d\n", stats.Total)
		statuses := make([]string, 0, len(stats.ByStatus))
		for s := range stats.ByStatus {
			statuses = append(statuses, string(s))
		}
		sort.Strings(statuses)
		for _, s := range statuses {
			fmt.Fprintf(out, "  %-15s %d\n", s, stats.ByStatus[domain.Status(s)])
		}
		fmt.Fprintf(out, "Completed: %d, positive: %d, conversion rate: %.1f%%\n",
			stats.Completed, stats.Positive, stats.ConversionRate*100)
		return nil
	})
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(raw, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid customer id %q", raw)
	}
	return id, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
