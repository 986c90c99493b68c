package httpdto

import (
	"time"

	"relay-chat/internal/auth"
	"relay-chat/internal/domain/chat"
	"relay-chat/internal/domain/pagination"
)

type SendMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

type CreateChatResponse struct {
	ID int64 `json:"id"`
}

type UserDTO struct {
	ID                   int64   `json:"id"`
	Username             string  `json:"username"`
	Email                string  `json:"email,omitempty"`
	ProfileImage         string  `json:"profileImage,omitempty"`
	AudioCallPricePerMin float64 `json:"audioCallPricePerMin"`
	VideoCallPricePerMin float64 `json:"videoCallPricePerMin"`
}

type MessageDTO struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
	Sender    UserDTO   `json:"sender"`
	IsViewed  bool      `json:"isViewed"`
}

type ChatDTO struct {
	ID                   int64       `json:"id"`
	Creator              UserDTO     `json:"creator"`
	Other                UserDTO     `json:"other"`
	LastMessage          *MessageDTO `json:"lastMessage"`
	CreatorUnViewedCount int         `json:"creatorUnViewedCount"`
	OtherUnViewedCount   int         `json:"otherUnViewedCount"`
	LastActivityAt       time.Time   `json:"lastActivityAt"`
	CreatedAt            time.Time   `json:"createdAt"`
}

type UnreadResponse struct {
	UnreadMessages int `json:"unreadMessages"`
}

func ToUserDTO(p auth.Profile) UserDTO {
	return UserDTO{
		ID:                   p.ID,
		Username:             p.Username,
		Email:                p.Email,
		ProfileImage:         p.ProfileImage,
		AudioCallPricePerMin: p.AudioCallPricePerMin,
		VideoCallPricePerMin: p.VideoCallPricePerMin,
	}
}

// ToMessageDTO expects m in display form.
func ToMessageDTO(m chat.Message, profiles map[int64]auth.Profile) MessageDTO {
	return MessageDTO{
		ID:        m.ID,
		Message:   m.Body,
		CreatedAt: m.CreatedAt,
		Sender:    ToUserDTO(profileOf(profiles, m.SenderID)),
		IsViewed:  m.IsViewed,
	}
}

func ToChatDTO(c chat.Conversation, profiles map[int64]auth.Profile) ChatDTO {
	return ChatDTO{
		ID:             c.ID,
		Creator:        ToUserDTO(profileOf(profiles, c.CreatorID)),
		Other:          ToUserDTO(profileOf(profiles, c.OtherID)),
		LastActivityAt: c.LastActivityAt,
		CreatedAt:      c.CreatedAt,
	}
}

func ToChatViewDTO(v chat.ConversationView, profiles map[int64]auth.Profile) ChatDTO {
	dto := ToChatDTO(v.Conversation, profiles)
	dto.CreatorUnViewedCount = v.UnviewedByUser[v.CreatorID]
	dto.OtherUnViewedCount = v.UnviewedByUser[v.OtherID]
	if v.LastMessage != nil {
		last := ToMessageDTO(*v.LastMessage, profiles)
		dto.LastMessage = &last
	}
	return dto
}

func ToChatPage(p pagination.Page[chat.Conversation], profiles map[int64]auth.Profile) pagination.Page[ChatDTO] {
	return pagination.Map(p, func(c chat.Conversation) ChatDTO { return ToChatDTO(c, profiles) })
}

func ToMessagePage(p pagination.Page[chat.Message], profiles map[int64]auth.Profile) pagination.Page[MessageDTO] {
	return pagination.Map(p, func(m chat.Message) MessageDTO { return ToMessageDTO(m, profiles) })
}

func profileOf(profiles map[int64]auth.Profile, id int64) auth.Profile {
	if p, ok := profiles[id]; ok {
		return p
	}
	return auth.Profile{ID: id}
}
