package notification

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the notification type carried on the wire as notificationType.
type Kind string

const (
	KindChat        Kind = "CHAT"
	KindTransaction Kind = "TRANSACTION"
	KindTask        Kind = "TASK"
	KindCompetition Kind = "COMPETITION"
	KindAdvert      Kind = "ADVERT"
	KindAuth        Kind = "AUTH"
	KindUser        Kind = "USER"
)

// Policy says which delivery channels a kind goes through. Real-time relay
// applies to every kind and is not part of the table.
type Policy struct {
	Persist bool
	Push    bool
}

var policies = map[Kind]Policy{
	KindChat:        {Persist: false, Push: true},
	KindTransaction: {Persist: true, Push: true},
	KindTask:        {Persist: true, Push: false},
	KindCompetition: {Persist: true, Push: false},
	KindAdvert:      {Persist: true, Push: false},
	KindAuth:        {Persist: true, Push: false},
	KindUser:        {Persist: true, Push: false},
}

// Kinds lists every known kind in declaration order.
func Kinds() []Kind {
	return []Kind{KindChat, KindTransaction, KindTask, KindCompetition, KindAdvert, KindAuth, KindUser}
}

func (k Kind) Valid() bool {
	_, ok := policies[k]
	return ok
}

// PolicyFor returns the delivery policy of k. ok is false for unknown kinds.
func PolicyFor(k Kind) (Policy, bool) {
	p, ok := policies[k]
	return p, ok
}

// ParseKind accepts any casing of a known kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown notification type %q", s)
	}
	return k, nil
}

// Notification represents the notifications table. Message is stored exactly
// as it arrived on the bus (storage form).
type Notification struct {
	ID           int64
	UserID       int64
	Message      string
	Title        string
	Kind         Kind
	IsRead       bool
	EventRef     string
	CreationDate time.Time
}
