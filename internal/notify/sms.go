package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const twilioBaseURL = "https://api.twilio.com/2010-04-01"

// SMSSender delivers one text message to an E.164 number.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// TwilioSender posts SMS messages using Twilio's REST API.
type TwilioSender struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	retryDelay time.Duration
	httpClient *http.Client
	log        logrus.FieldLogger
}

func NewTwilioSender(accountSID, authToken, from string, log logrus.FieldLogger) *TwilioSender {
	return &TwilioSender{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		baseURL:    twilioBaseURL,
		retryDelay: 250 * time.Millisecond,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

func (s *TwilioSender) WithBaseURL(u string) *TwilioSender {
	s.baseURL = strings.TrimRight(u, "/")
	return s
}

func (s *TwilioSender) WithHTTPClient(c *http.Client) *TwilioSender {
	if c != nil {
		s.httpClient = c
	}
	return s
}

func (s *TwilioSender) WithRetryDelay(d time.Duration) *TwilioSender {
	s.retryDelay = d
	return s
}

// SendSMS dispatches a single SMS, retrying transport errors, 429 and 5xx.
func (s *TwilioSender) SendSMS(ctx context.Context, to, body string) error {
	if s.accountSID == "" || s.authToken == "" {
		return errors.New("notify: twilio credentials missing")
	}
	if to == "" {
		return errors.New("notify: sms recipient required")
	}
	if s.from == "" {
		return errors.New("notify: twilio from number required")
	}
	if strings.TrimSpace(body) == "" {
		return errors.New("notify: sms body required")
	}

	payload := url.Values{}
	payload.Set("To", to)
	payload.Set("From", s.from)
	payload.Set("Body", body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", s.baseURL, s.accountSID)

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
		if err != nil {
			return fmt.Errorf("notify: build twilio request: %w", err)
		}
		req.SetBasicAuth(s.accountSID, s.authToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("notify: twilio request: %w", err)
		} else {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()

			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				var parsed struct {
					SID string `json:"sid"`
				}
				_ = json.Unmarshal(respBody, &parsed)
				s.log.WithField("sid", parsed.SID).Info("sms sent via twilio")
				return nil
			}

			lastErr = fmt.Errorf("notify: twilio returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				break
			}
		}

		if attempt < 3 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.retryDelay):
			}
		}
	}

	return lastErr
}

// LogSMSSender logs instead of sending. Used when Twilio is not configured.
type LogSMSSender struct {
	log logrus.FieldLogger
}

func NewLogSMSSender(log logrus.FieldLogger) *LogSMSSender {
	return &LogSMSSender{log: log}
}

func (s *LogSMSSender) SendSMS(ctx context.Context, to, body string) error {
	if to == "" {
		return errors.New("notify: sms recipient required")
	}
	s.log.WithFields(logrus.Fields{
		"to":     to,
		"length": len(body),
	}).Info("sms delivery disabled, logging message")
	return nil
}
