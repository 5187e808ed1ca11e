package tgbot

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrContactInvalid = errors.New("name, contact and message are required")

type ContactRequest struct {
	Name    string `json:"name"`
	Contact string `json:"contact"`
	Message string `json:"message"`
}

// ContactForwarder posts contact-form submissions to the operator chat.
type ContactForwarder struct {
	sender Sender
	chatID int64
}

func NewContactForwarder(sender Sender, operatorChatID int64) *ContactForwarder {
	return &ContactForwarder{sender: sender, chatID: operatorChatID}
}

func (f *ContactForwarder) Forward(ctx context.Context, req ContactRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	req.Contact = strings.TrimSpace(req.Contact)
	req.Message = strings.TrimSpace(req.Message)
	if req.Name == "" || req.Contact == "" || req.Message == "" {
		return ErrContactInvalid
	}
	if len(req.Message) > 3000 {
		req.Message = req.Message[:3000]
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	text := fmt.Sprintf("New contact request\nName: %s\nContact: %s\n\n%s", req.Name, req.Contact, req.Message)
	if err := reply(f.sender, f.chatID, text); err != nil {
		return fmt.Errorf("forward contact: %w", err)
	}
	return nil
}
