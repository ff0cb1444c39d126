package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/psds-microservice/support-chat-service/internal/config"
	"github.com/psds-microservice/support-chat-service/internal/database"
	"github.com/psds-microservice/support-chat-service/internal/model"
	"github.com/psds-microservice/support-chat-service/internal/searchindex"
	"github.com/spf13/cobra"
)

var reindexSearchCmd = &cobra.Command{
	Use:   "reindex-search",
	Short: "Reindex all support tickets into search (requires SEARCH_SERVICE_URL)",
	RunE:  runReindexSearch,
}

func init() {
	rootCmd.AddCommand(reindexSearchCmd)
}

func runReindexSearch(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.SearchServiceURL == "" {
		return fmt.Errorf("SEARCH_SERVICE_URL is not set")
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	client := searchindex.NewClient(cfg.SearchServiceURL)

	var tickets []model.Ticket
	if err := db.Order("id ASC").Find(&tickets).Error; err != nil {
		return fmt.Errorf("load tickets: %w", err)
	}
	for i := range tickets {
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		client.IndexTicket(ctx, &tickets[i])
		cancel()
	}
	log.Printf("reindex-search: %d tickets sent", len(tickets))
	return nil
}
