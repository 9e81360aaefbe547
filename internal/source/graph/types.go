package graph

// EmailAddress is a Graph emailAddress resource.
type EmailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// Recipient wraps an EmailAddress, as used in from/toRecipients/ccRecipients.
type Recipient struct {
	EmailAddress EmailAddress `json:"emailAddress"`
}

// ItemBody is a message body with its content type ("html" or "text").
type ItemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// Message is the subset of the Graph message resource this client reads.
type Message struct {
	ID               string      `json:"id"`
	Subject          string      `json:"subject"`
	BodyPreview      string      `json:"bodyPreview"`
	From             *Recipient  `json:"from"`
	ToRecipients     []Recipient `json:"toRecipients"`
	CcRecipients     []Recipient `json:"ccRecipients"`
	ReceivedDateTime string      `json:"receivedDateTime"`
	HasAttachments   bool        `json:"hasAttachments"`
	Importance       string      `json:"importance"`
	IsRead           bool        `json:"isRead"`
	// Only present when body is selected.
	Body *ItemBody `json:"body,omitempty"`
}

// MessageList is a page of messages from a collection GET.
type MessageList struct {
	Value    []Message `json:"value"`
	NextLink string    `json:"@odata.nextLink,omitempty"`
}

// Attachment is a Graph attachment resource. ContentBytes is base64 and is
// only populated for file attachments fetched individually or sent.
type Attachment struct {
	ODataType    string `json:"@odata.type,omitempty"`
	ID           string `json:"id,omitempty"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	Size         int64  `json:"size,omitempty"`
	IsInline     bool   `json:"isInline"`
	ContentBytes string `json:"contentBytes,omitempty"`
}

// AttachmentList is the response of GET .../attachments.
type AttachmentList struct {
	Value []Attachment `json:"value"`
}

// OutgoingMessage is the message object inside a sendMail request.
type OutgoingMessage struct {
	Subject       string       `json:"subject"`
	Body          ItemBody     `json:"body"`
	ToRecipients  []Recipient  `json:"toRecipients"`
	CcRecipients  []Recipient  `json:"ccRecipients,omitempty"`
	BccRecipients []Recipient  `json:"bccRecipients,omitempty"`
	Attachments   []Attachment `json:"attachments,omitempty"`
}

// SendMailRequest is the body of POST /users/{id}/sendMail.
type SendMailRequest struct {
	Message         OutgoingMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

// User is the subset of the Graph user resource used for connection tests.
type User struct {
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

const fileAttachmentType = "#microsoft.graph.fileAttachment"
