package graph

import (
	"encoding/base64"

	"github.com/shineum/smtp-mailmerge/internal/email"
)

// sendMailRequest is the top-level request body for the Graph API sendMail endpoint.
type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

// sendMailMessage represents the message portion of a sendMail request.
type sendMailMessage struct {
	Subject           string            `json:"subject"`
	Body              messageBody       `json:"body"`
	ToRecipients      []recipient       `json:"toRecipients"`
	InternetMessageID string            `json:"internetMessageId,omitempty"`
	Attachments       []graphAttachment `json:"attachments,omitempty"`
}

type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// graphAttachment represents a file attachment in a Graph API request.
type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// buildSendMailRequest converts a composed message into a sendMail request
// body. The message is always plain text with a single recipient.
func buildSendMailRequest(msg *email.Email) *sendMailRequest {
	attachments := make([]graphAttachment, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		attachments = append(attachments, graphAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         att.Filename,
			ContentType:  att.ContentType,
			ContentBytes: base64.StdEncoding.EncodeToString(att.Content),
		})
	}

	return &sendMailRequest{
		Message: sendMailMessage{
			Subject: msg.Subject,
			Body: messageBody{
				ContentType: "text",
				Content:     msg.TextBody,
			},
			ToRecipients: []recipient{{
				EmailAddress: emailAddress{Name: msg.RecipientName, Address: msg.To},
			}},
			InternetMessageID: msg.MessageID,
			Attachments:       attachments,
		},
		SaveToSentItems: true,
	}
}
