package main

import (
	"fmt"
	"log"

	"fleettrack-backend/internal/config"
	"fleettrack-backend/internal/database"

	"github.com/jedib0t/go-pretty/v6/table"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	log.Println("🔄 Running migrations...")
	if err := database.Migrate(db); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	log.Println("✅ Migration completed successfully!")

	t := table.NewWriter()
	t.SetTitle("MIGRATION SUMMARY")
	t.AppendHeader(table.Row{"#", "Table", "Rows"})
	for i, name := range database.Tables {
		var count int64
		// Table names come from the fixed database.Tables list
		if err := db.Get(&count, fmt.Sprintf("SELECT COUNT(*) FROM %s", name)); err != nil {
			log.Fatalf("❌ Failed to count %s: %v", name, err)
		}
		t.AppendRow(table.Row{i + 1, name, count})
	}
	fmt.Println(t.Render())
}
