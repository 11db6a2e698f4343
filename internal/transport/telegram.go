package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"wbh-go/internal/wbh"
)

const (
	// DefaultTelegramAPIURL is the public Bot API. A self-hosted Bot API
	// server lifts the 20 MB download limit.
	DefaultTelegramAPIURL = "https://api.telegram.org"
	// TelegramMessageLimit is the longest text sendMessage accepts.
	TelegramMessageLimit = 4096
	// telegramCaptionLimit is the longest document caption.
	telegramCaptionLimit = 1024
)

// TelegramTransport sends chunks as documents to a chat through the
// Telegram Bot API. The destination is a chat id.
type TelegramTransport struct {
	client *resty.Client
	token  string
}

type telegramResponse[T any] struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
	Result      T      `json:"result"`
}

type telegramMessage struct {
	MessageID int64 `json:"message_id"`
	Document  *struct {
		FileID string `json:"file_id"`
	} `json:"document"`
}

type telegramFile struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
}

// NewTelegramTransport creates a Bot API client. apiURL may be empty.
// Retried requests rewind the document body, which must then be an
// io.Seeker for the retry to carry the whole chunk.
func NewTelegramTransport(token, apiURL string) (*TelegramTransport, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram transport requires telegram_token to be set")
	}
	if apiURL == "" {
		apiURL = DefaultTelegramAPIURL
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(apiURL, "/")).
		SetTimeout(10 * time.Minute).
		SetRetryCount(2).
		SetRetryWaitTime(2 * time.Second).
		SetRetryResetReaders(true).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})
	return &TelegramTransport{client: client, token: token}, nil
}

func (t *TelegramTransport) method(name string) string {
	return "/bot" + t.token + "/" + name
}

func (t *TelegramTransport) Upload(ctx context.Context, destination string, doc wbh.Document) (wbh.RemoteHandle, error) {
	var out telegramResponse[telegramMessage]
	resp, err := t.client.R().
		SetContext(ctx).
		SetMultipartFormData(map[string]string{
			"chat_id": destination,
			"caption": truncate(doc.Caption, telegramCaptionLimit),
		}).
		SetFileReader("document", doc.Name, doc.Body).
		SetResult(&out).
		SetError(&out).
		Post(t.method("sendDocument"))
	if err := t.apiError(resp, err, out.OK, out.Description); err != nil {
		return wbh.RemoteHandle{}, fmt.Errorf("sending document %s: %w", doc.Name, err)
	}
	if out.Result.Document == nil {
		return wbh.RemoteHandle{}, fmt.Errorf("%w: sendDocument returned no document", wbh.ErrTransport)
	}
	return wbh.RemoteHandle{
		MessageID: strconv.FormatInt(out.Result.MessageID, 10),
		BlobID:    out.Result.Document.FileID,
	}, nil
}

func (t *TelegramTransport) Fetch(ctx context.Context, blobID string, w io.Writer) error {
	var file telegramResponse[telegramFile]
	resp, err := t.client.R().
		SetContext(ctx).
		SetQueryParam("file_id", blobID).
		SetResult(&file).
		SetError(&file).
		Get(t.method("getFile"))
	if err := t.apiError(resp, err, file.OK, file.Description); err != nil {
		return fmt.Errorf("resolving file %s: %w", blobID, err)
	}

	resp, err = t.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get("/file/bot" + t.token + "/" + file.Result.FilePath)
	if err != nil {
		return fmt.Errorf("downloading file %s: %w", blobID, t.apiError(resp, err, true, ""))
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%w: downloading file %s: status %d", wbh.ErrTransport, blobID, resp.StatusCode())
	}
	if _, err := io.Copy(w, body); err != nil {
		return fmt.Errorf("%w: downloading file %s: %w", wbh.ErrTransport, blobID, err)
	}
	return nil
}

func (t *TelegramTransport) PostMessage(ctx context.Context, destination, text string) (string, error) {
	var out telegramResponse[telegramMessage]
	resp, err := t.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{"chat_id": destination, "text": text}).
		SetResult(&out).
		SetError(&out).
		Post(t.method("sendMessage"))
	if err := t.apiError(resp, err, out.OK, out.Description); err != nil {
		return "", fmt.Errorf("sending message: %w", err)
	}
	return strconv.FormatInt(out.Result.MessageID, 10), nil
}

func (t *TelegramTransport) MessageLimit() int { return TelegramMessageLimit }

// apiError folds a request error and an API-level failure into one
// ErrTransport-tagged error. The token never appears in it.
func (t *TelegramTransport) apiError(resp *resty.Response, err error, ok bool, description string) error {
	if err != nil {
		// Request URLs embed the token.
		return fmt.Errorf("%w: %s", wbh.ErrTransport, strings.ReplaceAll(err.Error(), t.token, "<token>"))
	}
	if resp.IsError() || !ok {
		if description == "" {
			description = resp.Status()
		}
		return fmt.Errorf("%w: bot api status %d: %s", wbh.ErrTransport, resp.StatusCode(), description)
	}
	return nil
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

var _ wbh.Transport = (*TelegramTransport)(nil)
