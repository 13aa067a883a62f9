package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/softcane/spot-optimizer/internal/config"
	"github.com/softcane/spot-optimizer/internal/store"
)

var createClientCmd = &cobra.Command{
	Use:   "create-client <name>",
	Short: "Create a client account and print its API token",
	Args:  cobra.ExactArgs(1),
	RunE:  createClient,
}

func init() {
	rootCmd.AddCommand(createClientCmd)
}

func createClient(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		cfgFile = "config/default.yaml"
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	st, err := store.Open(cfg.Database.Path, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	token := uuid.NewString()
	id, err := st.CreateClient(context.Background(), args[0], token)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	fmt.Printf("client_id: %d\ntoken: %s\n", id, token)
	return nil
}
