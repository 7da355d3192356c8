package main

import (
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"

	"github.com/NjCayao/safetySystem-sub000/internal/config"
	"github.com/NjCayao/safetySystem-sub000/internal/database"
)

// 应用 SQL 迁移文件（默认 migrations/schema.sql）
func main() {
	migrationFile := "migrations/schema.sql"
	if len(os.Args) > 1 {
		migrationFile = os.Args[1]
	}

	sqlContent, err := os.ReadFile(migrationFile)
	if err != nil {
		log.Fatalf("Failed to read migration file: %v", err)
	}

	cfg := config.Load()
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Cannot connect to database: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(string(sqlContent)); err != nil {
		log.Fatalf("Failed to execute migration: %v", err)
	}

	fmt.Printf("Migration %s applied successfully\n", migrationFile)
}
