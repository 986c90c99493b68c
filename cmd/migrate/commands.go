package main

import (
	"context"
	"database/sql"
	"log"

	"relay-chat/migrations"
	"relay-chat/pkg/database"
	"relay-chat/pkg/logger"
)

type migrator struct {
	ctx     context.Context
	service string
	log     *logger.Logger
}

func (m *migrator) up(db *sql.DB) {
	log.Printf("🚀 Running %s migrations UP...", m.service)

	if err := database.ApplyMigrations(m.ctx, db, migrations.FS, m.service, false, m.log); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}

	log.Println("✅ Migrations completed successfully!")
}

func (m *migrator) down(db *sql.DB) {
	log.Printf("⬇️  Rolling back %s migrations...", m.service)

	if err := database.ApplyMigrations(m.ctx, db, migrations.FS, m.service, true, m.log); err != nil {
		log.Fatalf("❌ Rollback failed: %v", err)
	}

	log.Println("✅ Rollback completed successfully!")
}

func (m *migrator) status(db *sql.DB) {
	log.Println("🔍 Checking database status...")

	if err := database.HealthCheck(m.ctx, db); err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	log.Println("✅ Database connection: OK")

	for _, table := range serviceTables[m.service] {
		exists, err := database.TableExists(m.ctx, db, table)
		if err != nil {
			log.Printf("⚠️  Error checking table %s: %v", table, err)
			continue
		}
		if !exists {
			log.Printf("❌ Table %-20s does not exist", table)
			continue
		}
		count, err := database.GetTableCount(m.ctx, db, table)
		if err != nil {
			log.Printf("⚠️  Error counting table %s: %v", table, err)
			continue
		}
		log.Printf("✅ Table %-20s exists (%d rows)", table, count)
	}
}

func (m *migrator) seed(db *sql.DB) {
	log.Printf("🌱 Seeding %s tables (development mode)...", m.service)

	var (
		result *database.SeedResult
		err    error
	)
	if m.service == migrations.Notification {
		result, err = database.SeedNotifications(m.ctx, db, database.DefaultSeedConfig(), m.log)
	} else {
		result, err = database.SeedChat(m.ctx, db, database.DefaultSeedConfig(), m.log)
	}
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	log.Println("📊 Seed Summary:")
	log.Printf("   - Conversations: %d", result.Conversations)
	log.Printf("   - Messages: %d", result.Messages)
	log.Printf("   - Notifications: %d", result.Notifications)
	log.Println("✅ Development seeding completed!")
}
