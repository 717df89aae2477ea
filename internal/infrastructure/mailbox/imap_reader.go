// Package mailbox retrieves one-time verification codes from an IMAP inbox.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"go.uber.org/zap"

	syncdomain "github.com/salesledger/backend/internal/domain/sync"
)

var (
	ErrConfigIncomplete = errors.New("mailbox: host, username and password are required")
	ErrMailboxFailed    = errors.New("mailbox: imap operation failed")
)

// clockSkewTolerance widens the sentAfter cutoff so a mail server whose clock
// runs slightly behind ours does not hide a freshly delivered code.
const clockSkewTolerance = 30 * time.Second

// codePattern extracts the 4-8 digit numeric verification code
var codePattern = regexp.MustCompile(`\b(\d{4,8})\b`)

// Config holds the mailbox connection and matching settings
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// Sender is the expected From address of verification mails
	Sender string
	// SubjectContains is the substring matched against the subject line
	SubjectContains string
}

// Validate checks required fields and applies defaults
func (c *Config) Validate() error {
	if c.Host == "" || c.Username == "" || c.Password == "" {
		return ErrConfigIncomplete
	}
	if c.Port == 0 {
		c.Port = 993
	}
	if c.SubjectContains == "" {
		c.SubjectContains = "verification"
	}
	return nil
}

// imapSession is the subset of the go-imap client the reader drives.
// client.Client satisfies it; tests substitute a fake.
type imapSession interface {
	Login(username, password string) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	Search(criteria *imap.SearchCriteria) ([]uint32, error)
	Fetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	Store(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	Expunge(ch chan uint32) error
	Logout() error
}

// IMAPReader implements the sync.CodeMailbox port over IMAP4 with TLS.
type IMAPReader struct {
	config *Config
	logger *zap.Logger

	// dial is swappable in tests
	dial func() (imapSession, error)
}

// NewIMAPReader creates a reader with the given configuration
func NewIMAPReader(config *Config, logger *zap.Logger) (*IMAPReader, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &IMAPReader{config: config, logger: logger}
	r.dial = func() (imapSession, error) {
		c, err := client.DialTLS(fmt.Sprintf("%s:%d", config.Host, config.Port), nil)
		if err != nil {
			return nil, fmt.Errorf("%w: dial: %v", ErrMailboxFailed, err)
		}
		return c, nil
	}
	return r, nil
}

// FetchCode opens one exclusive mailbox session, deletes all prior messages
// matching the expected sender/subject (so an earlier run's code can never be
// mistaken for the fresh one), then polls until a matching message newer than
// sentAfter arrives or timeout elapses. The matched message is deleted before
// the code is returned. A deadline miss is a CodeTimeoutError: the caller
// owns login-level retry, this layer never retries on its own.
func (r *IMAPReader) FetchCode(ctx context.Context, sentAfter time.Time, timeout, pollInterval time.Duration) (string, error) {
	session, err := r.dial()
	if err != nil {
		return "", err
	}
	defer func() { _ = session.Logout() }()

	if err := session.Login(r.config.Username, r.config.Password); err != nil {
		return "", fmt.Errorf("%w: login: %v", ErrMailboxFailed, err)
	}
	if _, err := session.Select("INBOX", false); err != nil {
		return "", fmt.Errorf("%w: select: %v", ErrMailboxFailed, err)
	}

	if err := r.purgeStale(session); err != nil {
		return "", err
	}

	cutoff := sentAfter.Add(-clockSkewTolerance)
	started := time.Now()
	deadline := started.Add(timeout)

	for {
		code, matched, err := r.findCode(session, cutoff)
		if err != nil {
			return "", err
		}
		if code != "" {
			if err := r.deleteMessages(session, matched); err != nil {
				r.logger.Warn("failed to clean up verification mail", zap.Error(err))
			}
			r.logger.Info("verification code retrieved",
				zap.Duration("waited", time.Since(started)),
			)
			return code, nil
		}

		if time.Now().After(deadline) {
			return "", &syncdomain.CodeTimeoutError{Waited: time.Since(started)}
		}

		timer := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}

// searchCriteria builds the sender/subject criteria for verification mails
func (r *IMAPReader) searchCriteria() *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()
	if r.config.Sender != "" {
		criteria.Header.Set("From", r.config.Sender)
	}
	criteria.Header.Set("Subject", r.config.SubjectContains)
	return criteria
}

// purgeStale deletes every pre-existing message matching the verification
// pattern, eliminating false matches from earlier runs.
func (r *IMAPReader) purgeStale(session imapSession) error {
	ids, err := session.Search(r.searchCriteria())
	if err != nil {
		return fmt.Errorf("%w: search: %v", ErrMailboxFailed, err)
	}
	if len(ids) == 0 {
		return nil
	}
	r.logger.Debug("purging stale verification mails", zap.Int("count", len(ids)))
	return r.deleteMessages(session, ids)
}

// findCode searches for a fresh matching message and extracts the code,
// preferring the subject line and falling back to the body.
func (r *IMAPReader) findCode(session imapSession, cutoff time.Time) (string, []uint32, error) {
	ids, err := session.Search(r.searchCriteria())
	if err != nil {
		return "", nil, fmt.Errorf("%w: search: %v", ErrMailboxFailed, err)
	}
	if len(ids) == 0 {
		return "", nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, len(ids))
	if err := session.Fetch(seqset, items, messages); err != nil {
		return "", nil, fmt.Errorf("%w: fetch: %v", ErrMailboxFailed, err)
	}

	for msg := range messages {
		received := msg.InternalDate
		if msg.Envelope != nil && !msg.Envelope.Date.IsZero() {
			received = msg.Envelope.Date
		}
		if received.Before(cutoff) {
			continue
		}
		// Some servers match SUBJECT loosely; re-check locally
		if msg.Envelope != nil && !r.subjectMatches(msg.Envelope.Subject) {
			continue
		}

		if msg.Envelope != nil {
			if code := codePattern.FindString(msg.Envelope.Subject); code != "" {
				return code, []uint32{msg.SeqNum}, nil
			}
		}
		if body := msg.GetBody(section); body != nil {
			raw, err := io.ReadAll(body)
			if err != nil {
				continue
			}
			if code := codePattern.FindString(string(raw)); code != "" {
				return code, []uint32{msg.SeqNum}, nil
			}
		}
	}

	return "", nil, nil
}

// deleteMessages flags the given messages deleted and expunges them
func (r *IMAPReader) deleteMessages(session imapSession, ids []uint32) error {
	if len(ids) == 0 {
		return nil
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	op := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.DeletedFlag}
	if err := session.Store(seqset, op, flags, nil); err != nil {
		return fmt.Errorf("%w: store: %v", ErrMailboxFailed, err)
	}
	if err := session.Expunge(nil); err != nil {
		return fmt.Errorf("%w: expunge: %v", ErrMailboxFailed, err)
	}
	return nil
}

func (r *IMAPReader) subjectMatches(subject string) bool {
	return strings.Contains(strings.ToLower(subject), strings.ToLower(r.config.SubjectContains))
}

// Ensure IMAPReader implements the CodeMailbox port
var _ syncdomain.CodeMailbox = (*IMAPReader)(nil)
