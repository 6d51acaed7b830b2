package main

import (
	"fmt"
	"log"

	"medbin-backend/internal/config"
	"medbin-backend/internal/database"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	if err := database.SeedUsers(db); err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	var result struct {
		Users            int `db:"users"`
		Devices          int `db:"devices"`
		Reports          int `db:"reports"`
		CollectionPoints int `db:"collection_points"`
	}
	query := `
		SELECT
			(SELECT COUNT(*) FROM users) AS users,
			(SELECT COUNT(*) FROM device_states) AS devices,
			(SELECT COUNT(*) FROM device_locations) AS reports,
			(SELECT COUNT(*) FROM collection_points) AS collection_points
	`
	if err := db.Get(&result, query); err != nil {
		log.Fatalf("Failed to query summary: %v", err)
	}

	fmt.Println("\n============================================================")
	fmt.Println("MIGRATION SUMMARY")
	fmt.Println("============================================================")
	fmt.Printf("Users:                   %d\n", result.Users)
	fmt.Printf("Devices:                 %d\n", result.Devices)
	fmt.Printf("Location reports:        %d\n", result.Reports)
	fmt.Printf("Collection points:       %d\n", result.CollectionPoints)
	fmt.Println("============================================================")
}
