package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"relay-chat/config"
	"relay-chat/migrations"
	"relay-chat/pkg/database"
	"relay-chat/pkg/logger"
)

const usage = `
Relay Chat - Database CLI Tool

Usage:
  migrate [flags] [command]

Commands:
  up          Apply the service's migrations
  down        Roll back the service's migrations
  status      Show database connection status and table sizes
  seed-dev    Seed the service's tables with development data

Flags:
  -service string   Schema to operate on: chat or notification (default "chat")

Examples:
  go run ./cmd/migrate -service chat up
  go run ./cmd/migrate -service notification seed-dev
  go run ./cmd/migrate status
`

var serviceTables = map[string][]string{
	migrations.Chat:         {"conversations", "messages", "outbox_events"},
	migrations.Notification: {"notifications"},
}

func main() {
	service := flag.String("service", migrations.Chat, "Schema to operate on: chat or notification")

	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}
	if _, ok := serviceTables[*service]; !ok {
		fmt.Printf("Unknown service: %s\n", *service)
		flag.Usage()
		os.Exit(1)
	}

	command := flag.Arg(0)

	cfg := config.LoadConfig()
	l := logger.New(cfg.AppMode).Named("migrate")
	defer l.Sync()

	ctx := context.Background()
	db, err := database.Connect(ctx, cfg, l)
	if err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	defer db.Close()

	m := &migrator{ctx: ctx, service: *service, log: l}
	switch command {
	case "up":
		m.up(db)
	case "down":
		m.down(db)
	case "status":
		m.status(db)
	case "seed-dev":
		m.seed(db)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}
