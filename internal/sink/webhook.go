package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"codeberg.org/mutker/treadlink/internal/errors"
	"codeberg.org/mutker/treadlink/internal/logger"
	"codeberg.org/mutker/treadlink/internal/session"
)

const webhookTimeout = 10 * time.Second

// Webhook POSTs the session as JSON to a fixed URL. Any 2xx response
// confirms delivery; everything else leaves the session in place.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: webhookTimeout},
	}
}

func (w *Webhook) Save(ctx context.Context, s *session.DailySession) error {
	errFactory := errors.New()

	body, err := json.Marshal(s)
	if err != nil {
		return errFactory.Wrap(ErrSinkEncode, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return errFactory.Wrap(ErrSinkRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return errFactory.Wrap(ErrSinkRequest, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errFactory.WithData(ErrSinkRejected, resp.Status)
	}

	logger.Info().Str("url", w.url).Str("date", s.StartDate).Msg("Session delivered")

	return nil
}

func (w *Webhook) Close() {}
