package push

import (
	"context"
	"fmt"
	"strconv"

	"relay-chat/pkg/logger"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// Messenger is the part of the FCM client used here.
type Messenger interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Request is a plain title/body push.
type Request struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// CallRequest announces an incoming call to UserID.
type CallRequest struct {
	UserID     int64  `json:"userId"`
	CallerID   int64  `json:"callerId"`
	Username   string `json:"username"`
	CallerName string `json:"callerName"`
}

type Client struct {
	messenger Messenger
	log       *logger.Logger
}

func NewClient(messenger Messenger, log *logger.Logger) *Client {
	return &Client{messenger: messenger, log: log.Named("push")}
}

// NewMessenger connects to FCM with the service account in credentialsFile.
// Without credentials it returns a sender that only logs.
func NewMessenger(ctx context.Context, credentialsFile string, log *logger.Logger) (Messenger, error) {
	if credentialsFile == "" {
		log.Warnf("PUSH_CREDENTIALS_FILE not set, push notifications are logged only")
		return &logMessenger{log: log.Named("push-noop")}, nil
	}
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase messaging: %w", err)
	}
	return client, nil
}

func (c *Client) SendToToken(ctx context.Context, req Request, token string) (string, error) {
	return c.send(ctx, &messaging.Message{
		Token: token,
		Data: map[string]string{
			"type":    "Single notification",
			"content": req.Message,
		},
		Notification: &messaging.Notification{Title: req.Title, Body: req.Message},
	})
}

func (c *Client) SendToTopic(ctx context.Context, req Request, topic string) (string, error) {
	return c.send(ctx, &messaging.Message{
		Topic: topic,
		Data: map[string]string{
			"type":    "Topic notification",
			"content": req.Message,
		},
		Notification: &messaging.Notification{Title: req.Title, Body: req.Message},
	})
}

// SendCallNotification pushes to the called user's topic.
func (c *Client) SendCallNotification(ctx context.Context, call CallRequest) (string, error) {
	return c.send(ctx, &messaging.Message{
		Topic: strconv.FormatInt(call.UserID, 10),
		Data: map[string]string{
			"userId":     strconv.FormatInt(call.UserID, 10),
			"callerId":   strconv.FormatInt(call.CallerID, 10),
			"username":   call.Username,
			"callerName": call.CallerName,
			"type":       "INCOMING_CALL",
		},
		Notification: &messaging.Notification{
			Title: "Incoming call",
			Body:  "Incoming call from " + call.CallerName,
		},
		Android: &messaging.AndroidConfig{Priority: "high"},
	})
}

func (c *Client) send(ctx context.Context, msg *messaging.Message) (string, error) {
	id, err := c.messenger.Send(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("fcm send: %w", err)
	}
	c.log.Debugf("push sent: %s", id)
	return id, nil
}

type logMessenger struct {
	log *logger.Logger
}

func (m *logMessenger) Send(_ context.Context, msg *messaging.Message) (string, error) {
	target := msg.Token
	if target == "" {
		target = "topic:" + msg.Topic
	}
	title := ""
	if msg.Notification != nil {
		title = msg.Notification.Title
	}
	m.log.Infof("push to %s: %q", target, title)
	return "noop", nil
}
