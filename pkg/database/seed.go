package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"relay-chat/pkg/logger"
)

// SeedConfig describes the development data set. User ids refer to accounts
// of the external auth provider; no users are created here.
type SeedConfig struct {
	UserIDs                 []int64
	MessagesPerConversation int
	NotificationsPerUser    int
}

func DefaultSeedConfig() *SeedConfig {
	return &SeedConfig{
		UserIDs:                 []int64{1, 2, 3, 4},
		MessagesPerConversation: 5,
		NotificationsPerUser:    3,
	}
}

type SeedResult struct {
	Conversations int
	Messages      int
	Notifications int
}

// Bodies are kept in storage form.
var seedBodies = []string{
	"hey :wave:",
	"how is it going?",
	"all good :thumbsup:",
	"see you tomorrow",
	"sounds great :smile:",
}

var seedKinds = []string{"USER", "TASK", "TRANSACTION", "MEETING"}

// SeedChat creates one conversation per user pair with a few messages each.
// Pairs that already have a conversation are skipped.
func SeedChat(ctx context.Context, db *sql.DB, cfg *SeedConfig, log *logger.Logger) (*SeedResult, error) {
	if cfg == nil {
		cfg = DefaultSeedConfig()
	}
	result := &SeedResult{}
	now := time.Now().UTC()

	for i := 0; i < len(cfg.UserIDs); i++ {
		for j := i + 1; j < len(cfg.UserIDs); j++ {
			a, b := cfg.UserIDs[i], cfg.UserIDs[j]
			err := WithTx(ctx, db, func(tx *sql.Tx) error {
				var id int64
				err := tx.QueryRowContext(ctx, `
                    INSERT INTO conversations (creator_id, other_id, pair_key, last_activity_at, created_at)
                    VALUES ($1, $2, $3, $4, $4)
                    ON CONFLICT (pair_key) DO NOTHING
                    RETURNING id`, a, b, pairKey(a, b), now).Scan(&id)
				if err == sql.ErrNoRows {
					log.Debugf("Conversation %s already exists, skipping", pairKey(a, b))
					return nil
				}
				if err != nil {
					return fmt.Errorf("insert conversation: %w", err)
				}
				result.Conversations++

				for k := 0; k < cfg.MessagesPerConversation; k++ {
					sender := a
					if k%2 == 1 {
						sender = b
					}
					_, err := tx.ExecContext(ctx, `
                        INSERT INTO messages (conversation_id, sender_id, body, is_viewed, created_at)
                        VALUES ($1, $2, $3, $4, $5)`,
						id, sender, seedBodies[k%len(seedBodies)], k < cfg.MessagesPerConversation-1,
						now.Add(time.Duration(k)*time.Minute))
					if err != nil {
						return fmt.Errorf("insert message: %w", err)
					}
					result.Messages++
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
	}

	log.Infof("Seeded %d conversations with %d messages", result.Conversations, result.Messages)
	return result, nil
}

// SeedNotifications stores a few notifications per user. Event refs are
// derived from the user and index so reruns do not duplicate rows.
func SeedNotifications(ctx context.Context, db *sql.DB, cfg *SeedConfig, log *logger.Logger) (*SeedResult, error) {
	if cfg == nil {
		cfg = DefaultSeedConfig()
	}
	result := &SeedResult{}
	now := time.Now().UTC()

	err := WithTx(ctx, db, func(tx *sql.Tx) error {
		for _, userID := range cfg.UserIDs {
			for k := 0; k < cfg.NotificationsPerUser; k++ {
				kind := seedKinds[k%len(seedKinds)]
				res, err := tx.ExecContext(ctx, `
                    INSERT INTO notifications (user_id, title, message, notification_type, is_read, event_ref, creation_date)
                    VALUES ($1, $2, $3, $4, $5, $6, $7)
                    ON CONFLICT (event_ref) DO NOTHING`,
					userID, "Welcome "+strconv.Itoa(k+1), seedBodies[k%len(seedBodies)], kind, k == 0,
					fmt.Sprintf("seed/%d-%d", userID, k), now.Add(-time.Duration(k)*time.Hour))
				if err != nil {
					return fmt.Errorf("insert notification: %w", err)
				}
				if n, _ := res.RowsAffected(); n > 0 {
					result.Notifications++
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Seeded %d notifications", result.Notifications)
	return result, nil
}

// WithTx runs fn in a transaction, rolling back on error or panic.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}

func pairKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return strconv.FormatInt(a, 10) + ":" + strconv.FormatInt(b, 10)
}
