package email

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// Client sends transactional mail through the Postmark API.
type Client struct {
	serverToken string
	fromEmail   string
	baseURL     string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(serverToken, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     baseURL,
		httpClient:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// SendPinReset sends the financial-PIN recovery link.
func (c *Client) SendPinReset(toEmail, token string) error {
	link := fmt.Sprintf("%s/finance-pin/reset?token=%s", c.baseURL, token)
	textBody := fmt.Sprintf("A reset of your financial data PIN was requested.\n\nUse the link below to choose a new PIN:\n\n%s\n\nThis link expires in 30 minutes. If you did not request this, you can ignore this email.", link)
	htmlBody := fmt.Sprintf(
		`<p>A reset of your financial data PIN was requested.</p><p><a href="%s">Choose a new PIN</a></p><p>This link expires in 30 minutes. If you did not request this, you can ignore this email.</p>`,
		link,
	)
	return c.send(toEmail, "Reset your financial data PIN", htmlBody, textBody)
}

// SendLoginLink sends the sign-in magic link.
func (c *Client) SendLoginLink(toEmail, token string) error {
	link := fmt.Sprintf("%s/auth/verify?token=%s", c.baseURL, token)
	textBody := fmt.Sprintf("Click the link below to sign in:\n\n%s", link)
	htmlBody := fmt.Sprintf(`<p>Click the link below to sign in:</p><p><a href="%s">Sign in</a></p>`, link)
	return c.send(toEmail, "Sign in to Despacho", htmlBody, textBody)
}

func (c *Client) send(toEmail, subject, htmlBody, textBody string) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing server token")
	}

	payload := postmarkEmail{
		From:     c.fromEmail,
		To:       toEmail,
		Subject:  subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequest("POST", "https://api.postmarkapp.com/email", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}
