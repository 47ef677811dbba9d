package payments

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"
)

// Verifier looks up a payment by transaction id.
type Verifier interface {
	FindPayment(ctx context.Context, txnID string) (*Payment, error)
}

// Mailbox is an IMAP client for the inbox that receives payment
// confirmations. It connects lazily and reconnects after failures.
type Mailbox struct {
	host     string
	port     int
	username string
	password string
	sender   string
	lookback time.Duration

	mu     sync.Mutex
	client *client.Client
	logger *logrus.Logger
}

// NewMailbox creates a new mailbox client instance
func NewMailbox(host string, port int, username, password, sender string, lookback time.Duration, logger *logrus.Logger) (*Mailbox, error) {
	if host == "" || username == "" || password == "" {
		return nil, fmt.Errorf("IMAP connection parameters cannot be empty")
	}
	if port == 0 {
		port = 993
	}
	if lookback <= 0 {
		lookback = 72 * time.Hour
	}

	return &Mailbox{
		host:     host,
		port:     port,
		username: username,
		password: password,
		sender:   sender,
		lookback: lookback,
		logger:   logger,
	}, nil
}

func (m *Mailbox) addr() string {
	return fmt.Sprintf("%s:%d", m.host, m.port)
}

// connect establishes the IMAP session. Callers hold m.mu.
func (m *Mailbox) connect() error {
	c, err := client.DialTLS(m.addr(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	c.Timeout = 30 * time.Second

	if err := c.Login(m.username, m.password); err != nil {
		_ = c.Logout()
		return fmt.Errorf("failed to log in to IMAP server: %w", err)
	}

	m.client = c
	m.logger.WithField("host", m.host).Info("IMAP connection established")
	return nil
}

// Disconnect logs out and closes the connection.
func (m *Mailbox) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnect()
}

func (m *Mailbox) disconnect() error {
	if m.client == nil {
		return nil
	}
	err := m.client.Logout()
	m.client = nil
	m.logger.WithField("host", m.host).Info("IMAP connection closed")
	return err
}

// FindPayment searches recent mail from the configured sender for a
// confirmation carrying txnID. It returns nil when none is found. Messages
// are fetched with BODY.PEEK so they stay unread for later checks.
func (m *Mailbox) FindPayment(ctx context.Context, txnID string) (*Payment, error) {
	txnID = strings.TrimSpace(txnID)
	if txnID == "" {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if m.client == nil {
		if err := m.connect(); err != nil {
			return nil, err
		}
	}

	payment, err := m.search(txnID)
	if err != nil {
		m.logger.WithError(err).Warn("IMAP search failed, dropping connection")
		_ = m.disconnect()
		return nil, err
	}
	return payment, nil
}

func (m *Mailbox) search(txnID string) (*Payment, error) {
	if _, err := m.client.Select("INBOX", true); err != nil {
		return nil, fmt.Errorf("failed to select inbox: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = time.Now().Add(-m.lookback)
	if m.sender != "" {
		criteria.Header.Add("From", m.sender)
	}
	criteria.Body = []string{txnID}

	uids, err := m.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search mailbox: %w", err)
	}
	m.logger.WithFields(logrus.Fields{"txn_id": txnID, "matches": len(uids)}).Debug("IMAP search finished")
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- m.client.UidFetch(seqset, []imap.FetchItem{section.FetchItem()}, messages)
	}()

	var found *Payment
	for msg := range messages {
		if found != nil {
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		text, err := messageText(body)
		if err != nil {
			m.logger.WithError(err).WithField("uid", msg.Uid).Warn("Failed to read payment mail")
			continue
		}
		if p, ok := ParsePayment(text); ok && strings.EqualFold(p.TxnID, txnID) {
			found = &p
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch mail: %w", err)
	}
	return found, nil
}

// messageText returns the first text/plain part of a mail, falling back to
// a flattened text/html part.
func messageText(r io.Reader) (string, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return "", err
	}

	var htmlText string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		data, err := io.ReadAll(part.Body)
		if err != nil {
			return "", err
		}

		switch contentType {
		case "text/plain":
			return string(data), nil
		case "text/html":
			if htmlText == "" {
				htmlText = HTMLToText(bytes.NewReader(data))
			}
		}
	}
	return htmlText, nil
}
