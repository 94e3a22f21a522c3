// SPDX-License-Identifier: Apache-2.0

// Package notify e-mails the end-of-run import report.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/gemaraproj/hca2mtab/internal/config"
)

// ImportSubject is the subject of the import report.
const ImportSubject = "New experiments imported from HCA DCC"

const defaultSMTPAddr = "localhost:25"

// SendFunc delivers one message; net/smtp.SendMail without authentication by default.
type SendFunc func(addr, from string, to []string, msg []byte) error

func sendMail(addr, from string, to []string, msg []byte) error {
	return smtp.SendMail(addr, nil, from, to, msg)
}

// Import is one imported experiment technology.
type Import struct {
	Accession  string
	Technology string
	Bundles    int
	Title      string
}

// String formats i as a report line.
func (i Import) String() string {
	return fmt.Sprintf("%s (%s - %d bundles): %s", i.Accession, i.Technology, i.Bundles, i.Title)
}

// Mailer sends reports over SMTP, retrying refused connections.
type Mailer struct {
	addr       string
	from       string
	to         []string
	send       SendFunc
	maxRetries uint64
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
}

// Option configures a Mailer.
type Option func(*Mailer)

// WithSendFunc replaces the SMTP delivery.
func WithSendFunc(f SendFunc) Option {
	return func(m *Mailer) { m.send = f }
}

// WithBackOff replaces the retry policy.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(m *Mailer) { m.newBackOff = f }
}

// NewMailer creates a Mailer from cfg.
func NewMailer(cfg config.NotifyConfig, logger *zap.Logger, opts ...Option) *Mailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	addr := cfg.SMTPAddr
	if addr == "" {
		addr = defaultSMTPAddr
	}
	m := &Mailer{
		addr:       addr,
		from:       cfg.Sender,
		to:         cfg.Recipients,
		send:       sendMail,
		maxRetries: 3,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 2 * time.Second
			return b
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enabled reports whether a sender and at least one recipient are configured.
func (m *Mailer) Enabled() bool {
	return m.from != "" && len(m.to) > 0
}

// ReportImports mails one line per import. Nothing is sent for an empty list.
func (m *Mailer) ReportImports(ctx context.Context, imports []Import) error {
	if len(imports) == 0 {
		return nil
	}
	lines := make([]string, len(imports))
	for i, imp := range imports {
		lines[i] = imp.String()
	}
	return m.Send(ctx, ImportSubject, strings.Join(lines, "\n"))
}

// ReportFailure mails the error that aborted a run of process.
func (m *Mailer) ReportFailure(ctx context.Context, process string, cause error) error {
	return m.Send(ctx, process+" error",
		fmt.Sprintf("%s has crashed with the following error: %v", process, cause))
}

// Send delivers one plain-text message. It is a no-op when the mailer is not enabled.
func (m *Mailer) Send(ctx context.Context, subject, body string) error {
	if !m.Enabled() {
		m.logger.Debug("notification skipped, no sender or recipients", zap.String("subject", subject))
		return nil
	}
	msg := m.message(subject, body)
	op := func() error {
		return m.send(m.addr, m.from, m.to, msg)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(m.newBackOff(), m.maxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		m.logger.Warn("retrying notification", zap.String("smtp", m.addr), zap.Duration("wait", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return fmt.Errorf("failed to send %q: %w", subject, err)
	}
	m.logger.Info("notification sent", zap.String("subject", subject), zap.Strings("to", m.to))
	return nil
}

func (m *Mailer) message(subject, body string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", m.from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(m.to, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	buf.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	buf.WriteString("\r\n")
	return buf.Bytes()
}
