package handler

import (
	"time"

	"secure-messaging/internal/domain"
)

type createConversationRequest struct {
	ParticipantID string `json:"participantId"`
}

type handshakeRequest struct {
	PublicKeys           map[string]string `json:"publicKeys,omitempty"`
	Algorithm            *string           `json:"algorithm,omitempty"`
	KeyVersion           *string           `json:"keyVersion,omitempty"`
	KeyExchangeCompleted *bool             `json:"keyExchangeCompleted,omitempty"`
}

// sendMessageRequest carries binary fields as base64 strings.
type sendMessageRequest struct {
	RecipientID      string   `json:"recipientId"`
	EncryptedContent []byte   `json:"encryptedContent"`
	IV               []byte   `json:"iv"`
	MessageHash      string   `json:"messageHash"`
	Metadata         metadata `json:"metadata"`
}

func (r sendMessageRequest) envelope() domain.Envelope {
	return domain.Envelope{
		EncryptedContent: r.EncryptedContent,
		IV:               r.IV,
		MessageHash:      r.MessageHash,
		Metadata:         r.Metadata.toDomain(),
	}
}

type metadata struct {
	Algorithm   string `json:"algorithm,omitempty"`
	KeyVersion  string `json:"keyVersion,omitempty"`
	Kind        string `json:"kind,omitempty"`
	File        *file  `json:"file,omitempty"`
	PreviewHint string `json:"previewHint,omitempty"`
}

type file struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
	Location string `json:"location"`
}

func (m metadata) toDomain() domain.Metadata {
	md := domain.Metadata{
		Algorithm:   m.Algorithm,
		KeyVersion:  m.KeyVersion,
		Kind:        domain.Kind(m.Kind),
		PreviewHint: m.PreviewHint,
	}
	if m.File != nil {
		md.File = &domain.FileDescriptor{Name: m.File.Name, Size: m.File.Size, MimeType: m.File.MimeType, Location: m.File.Location}
	}
	return md
}

func fromMetadata(md domain.Metadata) metadata {
	m := metadata{
		Algorithm:   md.Algorithm,
		KeyVersion:  md.KeyVersion,
		Kind:        string(md.Kind),
		PreviewHint: md.PreviewHint,
	}
	if f := md.File; f != nil {
		m.File = &file{Name: f.Name, Size: f.Size, MimeType: f.MimeType, Location: f.Location}
	}
	return m
}

type handshakeResponse struct {
	PublicKeys           map[string]string `json:"publicKeys"`
	Algorithm            string            `json:"algorithm,omitempty"`
	KeyVersion           string            `json:"keyVersion,omitempty"`
	KeyExchangeCompleted bool              `json:"keyExchangeCompleted"`
	CompletedAt          *time.Time        `json:"completedAt,omitempty"`
}

type conversationResponse struct {
	ConversationID     string            `json:"conversationId"`
	Participants       []string          `json:"participants"`
	IsActive           bool              `json:"isActive"`
	LastMessageAt      *time.Time        `json:"lastMessageAt"`
	LastMessagePreview *string           `json:"lastMessagePreview"`
	Handshake          handshakeResponse `json:"handshake"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
}

func toConversation(c domain.Conversation) conversationResponse {
	keys := c.Handshake.PublicKeys
	if keys == nil {
		keys = map[string]string{}
	}
	return conversationResponse{
		ConversationID:     c.ID,
		Participants:       c.Participants(),
		IsActive:           c.IsActive,
		LastMessageAt:      c.LastMessageAt,
		LastMessagePreview: c.LastMessagePreview,
		Handshake: handshakeResponse{
			PublicKeys:           keys,
			Algorithm:            c.Handshake.Algorithm,
			KeyVersion:           c.Handshake.KeyVersion,
			KeyExchangeCompleted: c.Handshake.KeyExchangeCompleted,
			CompletedAt:          c.Handshake.CompletedAt,
		},
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

type messageResponse struct {
	MessageID        string     `json:"messageId"`
	ConversationID   string     `json:"conversationId"`
	SenderID         string     `json:"senderId"`
	RecipientID      string     `json:"recipientId"`
	EncryptedContent []byte     `json:"encryptedContent"`
	IV               []byte     `json:"iv"`
	MessageHash      string     `json:"messageHash"`
	Status           string     `json:"status"`
	DeliveredAt      *time.Time `json:"deliveredAt"`
	ReadAt           *time.Time `json:"readAt"`
	Metadata         metadata   `json:"metadata"`
	IsDeleted        bool       `json:"isDeleted"`
	DeletedAt        *time.Time `json:"deletedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

func toMessage(m domain.Message) messageResponse {
	return messageResponse{
		MessageID:        m.ID,
		ConversationID:   m.ConversationID,
		SenderID:         m.SenderID,
		RecipientID:      m.RecipientID,
		EncryptedContent: m.EncryptedContent,
		IV:               m.IV,
		MessageHash:      m.MessageHash,
		Status:           string(m.Status),
		DeliveredAt:      m.DeliveredAt,
		ReadAt:           m.ReadAt,
		Metadata:         fromMetadata(m.Metadata),
		IsDeleted:        m.IsDeleted,
		DeletedAt:        m.DeletedAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

type listResponse[T any] struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Items []T `json:"items"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}
