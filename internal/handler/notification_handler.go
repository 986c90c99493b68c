package handler

import (
	"context"
	"net/http"

	"relay-chat/internal/domain/notification"
	"relay-chat/internal/domain/pagination"
	"relay-chat/internal/push"
	"relay-chat/internal/services"
	"relay-chat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

type NotificationService interface {
	ListForUser(ctx context.Context, userID int64, page, size int, sort, direction string) (pagination.Page[notification.Notification], error)
	ListRead(ctx context.Context, userID int64) ([]notification.Notification, error)
	ListUnread(ctx context.Context, userID int64) ([]notification.Notification, error)
	MarkRead(ctx context.Context, id int64) error
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
	Delete(ctx context.Context, id int64) error
	Send(ctx context.Context, req services.SendRequest, kind notification.Kind) error
	Broadcast(ctx context.Context, req services.SendRequest, kind notification.Kind) error
}

type PushSender interface {
	SendToToken(ctx context.Context, req push.Request, token string) (string, error)
	SendToTopic(ctx context.Context, req push.Request, topic string) (string, error)
	SendCallNotification(ctx context.Context, req push.CallRequest) (string, error)
}

type NotificationHandler struct {
	service NotificationService
	push    PushSender
}

func NewNotificationHandler(service NotificationService, pushSender PushSender) *NotificationHandler {
	return &NotificationHandler{service: service, push: pushSender}
}

func (h *NotificationHandler) GetAllUserNotifications(c *gin.Context) {
	userID, err := pathID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}
	page, size, err := pageParams(c, services.DefaultNotificationPageSize)
	if err != nil {
		_ = c.Error(err)
		return
	}
	result, err := h.service.ListForUser(c.Request.Context(), userID, page, size, c.Query("sort"), c.Query("direction"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(pagination.Map(result, httpdto.ToNotificationDTO)))
}

func (h *NotificationHandler) GetAllReadUserNotifications(c *gin.Context) {
	h.listByReadState(c, h.service.ListRead)
}

func (h *NotificationHandler) GetAllUnReadUserNotifications(c *gin.Context) {
	h.listByReadState(c, h.service.ListUnread)
}

func (h *NotificationHandler) listByReadState(c *gin.Context, list func(context.Context, int64) ([]notification.Notification, error)) {
	userID, err := pathID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}
	result, err := list(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.ToNotificationDTOs(result)))
}

func (h *NotificationHandler) MarkAsRead(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}
	if err := h.service.MarkRead(c.Request.Context(), id); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse[any](nil))
}

func (h *NotificationHandler) MarkAllAsRead(c *gin.Context) {
	userID, err := pathID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}
	n, err := h.service.MarkAllRead(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.MarkAllReadResponse{Updated: n}))
}

func (h *NotificationHandler) Delete(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}
	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse[any](nil))
}

// Send publishes a platform notification; ?type= selects the kind and
// anything unrecognised is sent as USER.
func (h *NotificationHandler) Send(c *gin.Context) {
	var req services.SendRequest
	if err := bindJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}
	if err := h.service.Send(c.Request.Context(), req, kindOrUser(c.Query("type"))); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, httpdto.NewSuccessResponse[any](nil))
}

func (h *NotificationHandler) Broadcast(c *gin.Context) {
	var req services.SendRequest
	if err := bindJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}
	if err := h.service.Broadcast(c.Request.Context(), req, kindOrUser(c.Query("type"))); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse[any](nil))
}

func (h *NotificationHandler) PushNotification(c *gin.Context) {
	var req push.Request
	if err := bindJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}
	h.respondPush(c)(h.push.SendToToken(c.Request.Context(), req, c.Param("token")))
}

func (h *NotificationHandler) SendNotificationToTopic(c *gin.Context) {
	var req push.Request
	if err := bindJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}
	h.respondPush(c)(h.push.SendToTopic(c.Request.Context(), req, c.Param("topic")))
}

func (h *NotificationHandler) SendCallNotification(c *gin.Context) {
	var req push.CallRequest
	if err := bindJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}
	h.respondPush(c)(h.push.SendCallNotification(c.Request.Context(), req))
}

func (h *NotificationHandler) respondPush(c *gin.Context) func(string, error) {
	return func(id string, err error) {
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.PushResponse{MessageID: id}))
	}
}

func kindOrUser(s string) notification.Kind {
	k, err := notification.ParseKind(s)
	if err != nil {
		return notification.KindUser
	}
	return k
}
