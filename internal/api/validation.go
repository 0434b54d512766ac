package api

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/skdvlpr/gomercatocrm/internal/ack"
	"github.com/skdvlpr/gomercatocrm/internal/bridge"
)

// sendRequest is the body of sendMessage. Either ChatID or Phone is required.
type sendRequest struct {
	ChatID  string `json:"chatId"`
	Phone   string `json:"phone"`
	Message string `json:"message"`
	TempID  string `json:"tempId"`
}

func (r sendRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ChatID, validation.When(strings.TrimSpace(r.Phone) == "", validation.Required.Error("chatId or phone is required"))),
		validation.Field(&r.Message, validation.Required, validation.Length(1, 65536)),
		validation.Field(&r.TempID, validation.Length(0, 128)),
	)
}

// ackRequest is the body of broadcastAck. Status wins over Ack when it
// carries a known label.
type ackRequest struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	Ack       *int   `json:"ack"`
	Status    string `json:"status"`
}

func (r ackRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ChatID, validation.Required),
		validation.Field(&r.MessageID, validation.Required),
	)
}

func (r ackRequest) level() ack.Level {
	if l, ok := ack.FromStatus(r.Status); ok {
		return l
	}
	if r.Ack == nil {
		return ack.Sent
	}
	return bridge.AckLevel(*r.Ack)
}

// typingRequest is the body of broadcastTyping. IsTyping defaults to true.
type typingRequest struct {
	ChatID   string `json:"chatId"`
	IsTyping *bool  `json:"isTyping"`
}

func (r typingRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ChatID, validation.Required),
	)
}

// leadRequest is the body of leadCreated. IsNew defaults to true.
type leadRequest struct {
	ID          string `json:"id"`
	FirstName   string `json:"firstName"`
	Name        string `json:"name"`
	AccountName string `json:"accountName"`
	Source      string `json:"source"`
	PhoneNumber string `json:"phoneNumber"`
	IsNew       *bool  `json:"isNew"`
}

func (r leadRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ID, validation.Required),
	)
}
