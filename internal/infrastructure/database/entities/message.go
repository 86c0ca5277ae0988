package entities

import (
	"time"

	"gorm.io/datatypes"

	"bella-server/internal/domain/conversation"
	"bella-server/internal/domain/status"
)

// Message stores one conversation turn.
type Message struct {
	ID             string    `gorm:"type:varchar(64);primaryKey"`
	ConversationID string    `gorm:"type:varchar(64);not null;index:idx_message_conversation_created,priority:1"`
	Role           string    `gorm:"type:varchar(16);not null"`
	Status         string    `gorm:"type:varchar(16);not null;index:idx_message_status_created,priority:1"`
	CreatedAt      time.Time `gorm:"not null;index:idx_message_conversation_created,priority:2;index:idx_message_status_created,priority:2"`

	Parts []MessagePart `gorm:"foreignKey:MessageID"`
}

// TableName specifies the table name for Message.
func (Message) TableName() string {
	return "message"
}

// EtoD converts database entity to domain model
func (m *Message) EtoD() *conversation.Message {
	parts := make([]conversation.Part, len(m.Parts))
	for i := range m.Parts {
		parts[i] = *m.Parts[i].EtoD()
	}
	return &conversation.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           conversation.Role(m.Role),
		Status:         status.Message(m.Status),
		CreatedAt:      m.CreatedAt,
		Parts:          parts,
	}
}

// NewSchemaMessage creates a database entity from domain model, without parts.
func NewSchemaMessage(m *conversation.Message) *Message {
	return &Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           string(m.Role),
		Status:         string(m.Status),
		CreatedAt:      m.CreatedAt,
	}
}

// PartData is the type-specific payload of a message part.
type PartData struct {
	Text            string                        `json:"text,omitempty"`
	KnowledgeSearch *conversation.KnowledgeSearch `json:"knowledgeSearch,omitempty"`
}

// MessagePart stores an append-only fragment of a message.
type MessagePart struct {
	ID        string                       `gorm:"type:varchar(64);primaryKey"`
	MessageID string                       `gorm:"type:varchar(64);not null;index:idx_message_part_message_attempt,priority:1"`
	Type      string                       `gorm:"type:varchar(32);not null"`
	Data      datatypes.JSONType[PartData] `gorm:"type:jsonb;not null"`
	Attempt   int                          `gorm:"not null;default:1;index:idx_message_part_message_attempt,priority:2"`
	CreatedAt time.Time                    `gorm:"not null"`
}

// TableName specifies the table name for MessagePart.
func (MessagePart) TableName() string {
	return "message_part"
}

// EtoD converts database entity to domain model
func (p *MessagePart) EtoD() *conversation.Part {
	data := p.Data.Data()
	return &conversation.Part{
		ID:              p.ID,
		MessageID:       p.MessageID,
		Type:            conversation.PartType(p.Type),
		Text:            data.Text,
		KnowledgeSearch: data.KnowledgeSearch,
		Attempt:         p.Attempt,
		CreatedAt:       p.CreatedAt,
	}
}

// NewSchemaMessagePart creates a database entity from domain model
func NewSchemaMessagePart(p *conversation.Part) *MessagePart {
	return &MessagePart{
		ID:        p.ID,
		MessageID: p.MessageID,
		Type:      string(p.Type),
		Data:      datatypes.NewJSONType(PartData{Text: p.Text, KnowledgeSearch: p.KnowledgeSearch}),
		Attempt:   p.Attempt,
		CreatedAt: p.CreatedAt,
	}
}
