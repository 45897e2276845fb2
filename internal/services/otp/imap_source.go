// -----------------------------------------------------------------------
// OTP Source - reads one-time codes from an IMAP mailbox
// -----------------------------------------------------------------------

package otp

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fleetsync/internal/common"
)

// pollInterval is how often the mailbox is re-checked while waiting
const pollInterval = 5 * time.Second

// defaultPattern extracts a bare 4-8 digit code when a platform does not
// configure its own pattern
const defaultPattern = `\b(\d{4,8})\b`

// Source polls an IMAP mailbox for one-time codes sent by portal login
// flows, so a second factor does not always need a human at the keyboard
type Source struct {
	cfg    common.OTPConfig
	logger arbor.ILogger
}

// NewSource creates a mailbox-backed OTP source
func NewSource(cfg common.OTPConfig, logger arbor.ILogger) *Source {
	return &Source{cfg: cfg, logger: logger}
}

// WaitForCode polls until a message from sender arriving after since yields a
// code matching pattern, or the configured window / ctx expires
func (s *Source) WaitForCode(ctx context.Context, sender, pattern string, since time.Time) (string, error) {
	if s.cfg.Server == "" || s.cfg.Username == "" {
		return "", fmt.Errorf("mailbox OTP source not configured")
	}

	if pattern == "" {
		pattern = defaultPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("invalid OTP pattern %q: %w", pattern, err)
	}

	window, err := time.ParseDuration(s.cfg.Timeout)
	if err != nil || window <= 0 {
		window = 2 * time.Minute
	}

	waitCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		code, err := s.checkMailbox(sender, re, since)
		if err != nil {
			s.logger.Debug().Err(err).Msg("Mailbox check failed, will retry")
		} else if code != "" {
			s.logger.Info().
				Str("sender", sender).
				Msg("One-time code retrieved from mailbox")
			return code, nil
		}

		select {
		case <-waitCtx.Done():
			return "", fmt.Errorf("no one-time code from %s within %s: %w", sender, window, waitCtx.Err())
		case <-ticker.C:
		}
	}
}

// checkMailbox does one connect-search-fetch pass
func (s *Source) checkMailbox(sender string, re *regexp.Regexp, since time.Time) (string, error) {
	c, err := client.DialTLS(s.cfg.Server, nil)
	if err != nil {
		return "", fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	defer c.Logout()

	if err := c.Login(s.cfg.Username, s.cfg.Password); err != nil {
		return "", fmt.Errorf("IMAP login failed: %w", err)
	}

	folder := s.cfg.Folder
	if folder == "" {
		folder = "INBOX"
	}
	mbox, err := c.Select(folder, true)
	if err != nil {
		return "", fmt.Errorf("failed to select %s: %w", folder, err)
	}
	if mbox.Messages == 0 {
		return "", nil
	}

	criteria := imap.NewSearchCriteria()
	// IMAP SINCE has day granularity; the envelope date filters precisely below
	criteria.Since = since.Truncate(24 * time.Hour)
	criteria.Header.Add("From", sender)

	seqNums, err := c.Search(criteria)
	if err != nil {
		return "", fmt.Errorf("mailbox search failed: %w", err)
	}
	if len(seqNums) == 0 {
		return "", nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seqNums...)

	messages := make(chan *imap.Message, len(seqNums))
	section := &imap.BodySectionName{Peek: true}

	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqSet, []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}, messages)
	}()

	var code string
	for msg := range messages {
		if msg == nil || msg.Envelope == nil {
			continue
		}
		if msg.Envelope.Date.Before(since) {
			continue
		}

		body, err := extractTextBody(msg, section)
		if err != nil {
			s.logger.Debug().Err(err).Int64("seq", int64(msg.SeqNum)).Msg("Failed to parse message body")
			continue
		}

		haystack := msg.Envelope.Subject + "\n" + body
		if m := re.FindStringSubmatch(haystack); m != nil {
			if len(m) > 1 {
				code = m[1]
			} else {
				code = m[0]
			}
			// Newest matching message wins; keep draining the channel
		}
	}

	if err := <-done; err != nil {
		return "", fmt.Errorf("failed to fetch messages: %w", err)
	}

	return code, nil
}

// extractTextBody pulls the text/plain part from a fetched message
func extractTextBody(msg *imap.Message, section *imap.BodySectionName) (string, error) {
	r := msg.GetBody(section)
	if r == nil {
		return "", fmt.Errorf("no body section")
	}

	mr, err := mail.CreateReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to create mail reader: %w", err)
	}

	var body string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read next part: %w", err)
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			if strings.HasPrefix(contentType, "text/plain") {
				b, err := io.ReadAll(p.Body)
				if err != nil {
					return "", fmt.Errorf("failed to read body: %w", err)
				}
				body = string(b)
			}
		}
	}

	return strings.TrimSpace(body), nil
}
