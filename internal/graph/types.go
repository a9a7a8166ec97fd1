package graph

import (
	"strings"
	"time"
)

// Profile describes the signed-in user.
type Profile struct {
	ID                string
	DisplayName       string
	Email             string
	UserPrincipalName string
	TenantID          string
}

// Address is a named mailbox.
type Address struct {
	Name    string
	Address string
}

// MessageSummary is one inbox entry.
type MessageSummary struct {
	ID         string
	From       Address
	Subject    string
	ReceivedAt time.Time
	Preview    string
	IsRead     bool
}

// Inbox is one page of the inbox, most recent first.
type Inbox struct {
	Messages []MessageSummary

	// HasMore reports that the upstream advertised a further page.
	HasMore bool
}

// BodyKind is the content type of an outbound message body.
type BodyKind string

const (
	BodyText BodyKind = "text"
	BodyHTML BodyKind = "html"
)

// OutboundMessage is a message to send to a single recipient.
type OutboundMessage struct {
	Recipient string   `validate:"required,email"`
	Body      string   `validate:"max=4194304"`
	BodyKind  BodyKind `validate:"oneof=text html"`
	Subject   string
}

// normalize lower-cases the body kind and defaults it to text.
func (m OutboundMessage) normalize() OutboundMessage {
	m.Recipient = strings.TrimSpace(m.Recipient)
	m.BodyKind = BodyKind(strings.ToLower(strings.TrimSpace(string(m.BodyKind))))
	if m.BodyKind == "" {
		m.BodyKind = BodyText
	}
	return m
}

// Wire formats of the Graph v1.0 REST API.

type userResource struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

type emailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type messageResource struct {
	ID               string     `json:"id"`
	Subject          string     `json:"subject"`
	BodyPreview      string     `json:"bodyPreview"`
	IsRead           bool       `json:"isRead"`
	ReceivedDateTime time.Time  `json:"receivedDateTime"`
	From             *recipient `json:"from"`
}

type messageCollection struct {
	Value    []messageResource `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
}

type itemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type outgoingMessage struct {
	Subject      string      `json:"subject"`
	Body         itemBody    `json:"body"`
	ToRecipients []recipient `json:"toRecipients"`
}

type sendMailRequest struct {
	Message         outgoingMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

type odataError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (m messageResource) summary() MessageSummary {
	s := MessageSummary{
		ID:         m.ID,
		Subject:    m.Subject,
		ReceivedAt: m.ReceivedDateTime,
		Preview:    m.BodyPreview,
		IsRead:     m.IsRead,
	}
	if m.From != nil {
		s.From = Address{Name: m.From.EmailAddress.Name, Address: m.From.EmailAddress.Address}
	}
	return s
}

func (m OutboundMessage) request() sendMailRequest {
	contentType := "Text"
	if m.BodyKind == BodyHTML {
		contentType = "HTML"
	}
	return sendMailRequest{
		Message: outgoingMessage{
			Subject: m.Subject,
			Body:    itemBody{ContentType: contentType, Content: m.Body},
			ToRecipients: []recipient{
				{EmailAddress: emailAddress{Address: m.Recipient}},
			},
		},
		SaveToSentItems: true,
	}
}
