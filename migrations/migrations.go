// Package migrations embeds the SQL schema of both services.
package migrations

import "embed"

//go:embed chat/*.sql notification/*.sql
var FS embed.FS

const (
	Chat         = "chat"
	Notification = "notification"
)
