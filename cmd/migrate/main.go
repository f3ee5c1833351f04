package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"mailflow/internal/platform/config"
	"mailflow/internal/platform/database"
)

func main() {
	target := flag.String("target", "global", "Migration target: global or tenant")
	workspaceID := flag.String("workspace", "", "Workspace ID (required for tenant migrations, or 'all')")
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	switch *target {
	case "global":
		db, err := database.NewGlobalDB(cfg.Database.Global)
		if err != nil {
			log.Fatalf("Failed to connect to global DB: %v", err)
		}
		defer db.Close()
		if err := runMigrations(db, "migrations/global"); err != nil {
			log.Fatal(err)
		}
	case "tenant":
		if *workspaceID == "" {
			log.Fatal("--workspace flag required for tenant migrations")
		}
		globalDB, err := database.NewGlobalDB(cfg.Database.Global)
		if err != nil {
			log.Fatalf("Failed to connect to global DB: %v", err)
		}
		defer globalDB.Close()

		pool := database.NewTenantDBPool(cfg.Database.Tenant)
		defer pool.CloseAll()

		for _, ws := range targetWorkspaces(globalDB, *workspaceID) {
			db, err := pool.Get(ws.id, ws.dbPath)
			if err != nil {
				log.Fatalf("Failed to connect to workspace DB %s: %v", ws.id, err)
			}
			log.Printf("Migrating workspace %s", ws.id)
			if err := runMigrations(db, "migrations/tenant"); err != nil {
				log.Fatal(err)
			}
		}
	default:
		log.Fatal("Invalid target: must be 'global' or 'tenant'")
	}

	fmt.Println("Migration completed successfully")
}

type workspaceTarget struct {
	id     string
	dbPath string
}

func targetWorkspaces(globalDB *sql.DB, workspaceID string) []workspaceTarget {
	query := `SELECT id, db_file_path FROM workspaces WHERE deleted_at IS NULL`
	args := []interface{}{}
	if workspaceID != "all" {
		query += ` AND id = ?`
		args = append(args, workspaceID)
	}

	rows, err := globalDB.Query(query, args...)
	if err != nil {
		log.Fatalf("Failed to list workspaces: %v", err)
	}
	defer rows.Close()

	var targets []workspaceTarget
	for rows.Next() {
		var t workspaceTarget
		if err := rows.Scan(&t.id, &t.dbPath); err != nil {
			log.Fatalf("Failed to scan workspace row: %v", err)
		}
		targets = append(targets, t)
	}
	if len(targets) == 0 {
		log.Fatalf("No workspaces matched %q", workspaceID)
	}
	return targets
}

func runMigrations(db *sql.DB, dir string) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read migration directory: %w", err)
	}

	for _, file := range files {
		if filepath.Ext(file.Name()) != ".sql" {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file.Name(), err)
		}

		log.Printf("Applying migration: %s", file.Name())
		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", file.Name(), err)
		}
	}
	return nil
}
