package handler

import (
	"context"
	"net/http"
	"strconv"

	"relay-chat/internal/auth"
	"relay-chat/internal/domain/chat"
	"relay-chat/internal/domain/pagination"
	"relay-chat/internal/middleware"
	"relay-chat/internal/services"
	"relay-chat/internal/transport/httpdto"
	relay_errors "relay-chat/pkg/errors"

	"github.com/gin-gonic/gin"
)

// ChatService is what the chat routes need from the conversation store.
type ChatService interface {
	CreateConversation(ctx context.Context, requesterToken string, otherUserID int64) (int64, error)
	SendMessage(ctx context.Context, conversationID int64, senderToken, body string) (chat.Message, error)
	ListConversationsForUser(ctx context.Context, userID int64, page, size int) (pagination.Page[chat.Conversation], error)
	GetConversation(ctx context.Context, id int64) (chat.ConversationView, error)
	ListMessages(ctx context.Context, conversationID int64, page, size int) (pagination.Page[chat.Message], error)
	MarkMessageViewed(ctx context.Context, messageID int64) error
	MarkAllViewedForUser(ctx context.Context, conversationID int64, userToken string) error
	UnreadCountForUser(ctx context.Context, userToken string) (int, error)
	Profiles(ctx context.Context, token string, ids ...int64) map[int64]auth.Profile
}

type ChatHandler struct {
	service ChatService
}

func NewChatHandler(service ChatService) *ChatHandler {
	return &ChatHandler{service: service}
}

func (h *ChatHandler) CreateChat(c *gin.Context) {
	other, err := strconv.ParseInt(c.Query("other"), 10, 64)
	if err != nil {
		_ = c.Error(relay_errors.ErrInvalidInput)
		return
	}
	id, err := h.service.CreateConversation(c.Request.Context(), middleware.Token(c), other)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.CreateChatResponse{ID: id}))
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	chatID, err := pathID(c, "chatId")
	if err != nil {
		_ = c.Error(err)
		return
	}
	var req httpdto.SendMessageRequest
	if err := bindJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}
	if _, err := h.service.SendMessage(c.Request.Context(), chatID, middleware.Token(c), req.Message); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse[any](nil))
}

func (h *ChatHandler) GetUserChats(c *gin.Context) {
	userID, err := pathID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}
	page, size, err := pageParams(c, services.DefaultChatPageSize)
	if err != nil {
		_ = c.Error(err)
		return
	}
	result, err := h.service.ListConversationsForUser(c.Request.Context(), userID, page, size)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ids := make([]int64, 0, 2*len(result.Items))
	for _, conv := range result.Items {
		ids = append(ids, conv.CreatorID, conv.OtherID)
	}
	profiles := h.service.Profiles(c.Request.Context(), middleware.Token(c), ids...)
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.ToChatPage(result, profiles)))
}

func (h *ChatHandler) GetChat(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}
	view, err := h.service.GetConversation(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	profiles := h.service.Profiles(c.Request.Context(), middleware.Token(c), view.CreatorID, view.OtherID)
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.ToChatViewDTO(view, profiles)))
}

func (h *ChatHandler) GetChatMessages(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}
	page, size, err := pageParams(c, services.DefaultChatPageSize)
	if err != nil {
		_ = c.Error(err)
		return
	}
	result, err := h.service.ListMessages(c.Request.Context(), id, page, size)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ids := make([]int64, 0, len(result.Items))
	for _, m := range result.Items {
		ids = append(ids, m.SenderID)
	}
	profiles := h.service.Profiles(c.Request.Context(), middleware.Token(c), ids...)
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.ToMessagePage(result, profiles)))
}

func (h *ChatHandler) MarkMessageAsViewed(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}
	if err := h.service.MarkMessageViewed(c.Request.Context(), id); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse[any](nil))
}

func (h *ChatHandler) UserUnreadMessages(c *gin.Context) {
	n, err := h.service.UnreadCountForUser(c.Request.Context(), middleware.Token(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.UnreadResponse{UnreadMessages: n}))
}

func (h *ChatHandler) MarkAllAsViewed(c *gin.Context) {
	chatID, err := pathID(c, "chatId")
	if err != nil {
		_ = c.Error(err)
		return
	}
	if err := h.service.MarkAllViewedForUser(c.Request.Context(), chatID, middleware.Token(c)); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse[any](nil))
}
