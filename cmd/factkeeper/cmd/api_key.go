package cmd

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/solatis/factkeeper/internal/core/auth"
	"github.com/solatis/factkeeper/internal/core/config"
	"github.com/solatis/factkeeper/internal/core/db"
)

var apiKeyCmd = &cobra.Command{
	Use:   "api-key",
	Short: "Manage API keys",
}

var apiKeyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new API key",
	Long: `Mints an API key under one of the configured HMAC secrets and stores
its hash. The plaintext key is printed exactly once and cannot be
recovered afterwards.`,
	RunE: runAPIKeyGenerate,
}

var apiKeyRevokeCmd = &cobra.Command{
	Use:   "revoke <api-key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runAPIKeyRevoke,
}

var apiKeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys",
	RunE:  runAPIKeyList,
}

func init() {
	rootCmd.AddCommand(apiKeyCmd)
	apiKeyCmd.AddCommand(apiKeyGenerateCmd, apiKeyRevokeCmd, apiKeyListCmd)
	apiKeyGenerateCmd.Flags().String("name", "", "human-readable key name (required)")
	apiKeyGenerateCmd.Flags().String("secret-id", "", "HMAC secret to sign with (defaults to the only configured secret)")
	_ = apiKeyGenerateCmd.MarkFlagRequired("name")
}

func openQueries() (*db.Queries, func(), error) {
	if dbURL == "" {
		return nil, nil, fmt.Errorf("--db-url required")
	}
	database, err := db.Open(dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	queries, err := db.LoadQueries(database)
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to load queries: %w", err)
	}
	return queries, func() { database.Close() }, nil
}

func runAPIKeyGenerate(cmd *cobra.Command, args []string) error {
	setupLogger()

	secrets, err := config.HMACSecrets()
	if err != nil {
		return fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	if len(secrets) == 0 {
		return fmt.Errorf("no HMAC secrets configured (set FK_HMAC_SECRET environment variable)")
	}

	secretID, _ := cmd.Flags().GetString("secret-id")
	if secretID == "" {
		if len(secrets) > 1 {
			return fmt.Errorf("multiple HMAC secrets configured, pass --secret-id")
		}
		for id := range secrets {
			secretID = id
		}
	}
	secret, ok := secrets[secretID]
	if !ok {
		return fmt.Errorf("no HMAC secret with id %q configured", secretID)
	}

	key, keyHash, err := auth.GenerateAPIKey(secretID, secret)
	if err != nil {
		return err
	}

	queries, closeDB, err := openQueries()
	if err != nil {
		return err
	}
	defer closeDB()

	name, _ := cmd.Flags().GetString("name")
	apiKeyID := uuid.NewString()
	if _, err := queries.Exec("insert-api-key", apiKeyID, keyHash, name, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to store key: %w", err)
	}

	fmt.Printf("API key ID: %s\n", apiKeyID)
	fmt.Printf("API key:    %s\n", key)
	fmt.Println("Store this key now; it cannot be shown again.")
	return nil
}

func runAPIKeyRevoke(cmd *cobra.Command, args []string) error {
	setupLogger()

	queries, closeDB, err := openQueries()
	if err != nil {
		return err
	}
	defer closeDB()

	res, err := queries.Exec("revoke-api-key", time.Now().UTC(), args[0])
	if err != nil {
		return fmt.Errorf("failed to revoke key: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("no API key with id %q", args[0])
	}

	fmt.Printf("Revoked API key %s\n", args[0])
	return nil
}

func runAPIKeyList(cmd *cobra.Command, args []string) error {
	setupLogger()

	queries, closeDB, err := openQueries()
	if err != nil {
		return err
	}
	defer closeDB()

	var rows []struct {
		APIKeyID   string       `db:"api_key_id"`
		Name       string       `db:"name"`
		CreatedAt  time.Time    `db:"created_at"`
		RevokedAt  sql.NullTime `db:"revoked_at"`
		LastUsedAt sql.NullTime `db:"last_used_at"`
	}
	if err := queries.Select("list-api-keys", &rows); err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}

	for _, row := range rows {
		state := "active"
		if row.RevokedAt.Valid {
			state = "revoked " + row.RevokedAt.Time.Format("2006-01-02")
		}
		lastUsed := "never"
		if row.LastUsedAt.Valid {
			lastUsed = row.LastUsedAt.Time.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%-36s  %-20s  %-20s  last used %s\n", row.APIKeyID, row.Name, state, lastUsed)
	}
	return nil
}
