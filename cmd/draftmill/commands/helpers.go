package commands

import (
	"database/sql"
	"time"

	"github.com/spf13/cobra"

	"github.com/draftmill/draftmill/config"
	"github.com/draftmill/draftmill/db"
	"github.com/draftmill/draftmill/logger"
)

// loadConfig resolves configuration using the persistent --config flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// openDatabase opens and migrates the configured database for direct CLI
// access.
func openDatabase(cmd *cobra.Command) (*sql.DB, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	conn, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(conn, logger.Logger); err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, cfg, nil
}

// formatTime renders a nullable timestamp for table output.
func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
