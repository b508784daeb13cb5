// Package google wraps the OAuth2, Drive and Sheets APIs used for gradebook exports.
package google

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/noah-isme/profman-api/pkg/config"
)

// Scopes requested at consent time.
var Scopes = []string{drive.DriveFileScope, sheets.SpreadsheetsScope}

// Document identifies a file created in the user's Google account.
type Document struct {
	ID  string
	URL string
}

// Client talks to Google on behalf of a user token.
type Client struct {
	oauth *oauth2.Config
}

// NewClient builds a client from config. Callers check Enabled before use.
func NewClient(cfg config.GoogleConfig) *Client {
	return &Client{oauth: &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     googleoauth.Endpoint,
		Scopes:       Scopes,
	}}
}

// Enabled reports whether OAuth credentials are configured.
func (c *Client) Enabled() bool {
	return c.oauth.ClientID != "" && c.oauth.ClientSecret != "" && c.oauth.RedirectURL != ""
}

// AuthCodeURL returns the consent URL. Offline access with forced approval
// guarantees a refresh token on every connect.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token.
func (c *Client) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange google code: %w", err)
	}
	return tok, nil
}

// UploadFile stores r in Drive. The returned token is the possibly refreshed credential.
func (c *Client) UploadFile(ctx context.Context, tok *oauth2.Token, name, mimeType string, r io.Reader) (Document, *oauth2.Token, error) {
	ts := oauth2.ReuseTokenSource(tok, c.oauth.TokenSource(ctx, tok))
	srv, err := drive.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return Document{}, nil, fmt.Errorf("create drive service: %w", err)
	}

	file, err := srv.Files.Create(&drive.File{Name: name, MimeType: mimeType}).
		Media(r, googleapi.ContentType(mimeType)).
		Fields("id, webViewLink").
		Context(ctx).
		Do()
	if err != nil {
		return Document{}, nil, fmt.Errorf("upload drive file: %w", err)
	}
	return Document{ID: file.Id, URL: file.WebViewLink}, latest(ts, tok), nil
}

// CreateSpreadsheet creates a spreadsheet titled title and appends rows to its first sheet.
func (c *Client) CreateSpreadsheet(ctx context.Context, tok *oauth2.Token, title string, rows [][]interface{}) (Document, *oauth2.Token, error) {
	ts := oauth2.ReuseTokenSource(tok, c.oauth.TokenSource(ctx, tok))
	srv, err := sheets.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return Document{}, nil, fmt.Errorf("create sheets service: %w", err)
	}

	created, err := srv.Spreadsheets.Create(&sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{Title: title},
	}).Context(ctx).Do()
	if err != nil {
		return Document{}, nil, fmt.Errorf("create spreadsheet: %w", err)
	}

	if len(rows) > 0 {
		_, err = srv.Spreadsheets.Values.Append(created.SpreadsheetId, "A1", &sheets.ValueRange{Values: rows}).
			ValueInputOption("RAW").
			Context(ctx).
			Do()
		if err != nil {
			return Document{}, nil, fmt.Errorf("append spreadsheet values: %w", err)
		}
	}
	return Document{ID: created.SpreadsheetId, URL: created.SpreadsheetUrl}, latest(ts, tok), nil
}

func latest(ts oauth2.TokenSource, fallback *oauth2.Token) *oauth2.Token {
	tok, err := ts.Token()
	if err != nil || tok == nil {
		return fallback
	}
	return tok
}
