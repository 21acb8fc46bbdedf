// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package mail delivers poll notifications over SMTP, for subscribers
// whose destination is a mailto address.
package mail

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"
)

// Config holds SMTP settings. All fields are required.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (c Config) validate() error {
	switch {
	case c.Host == "":
		return fmt.Errorf("SMTP host is not configured")
	case c.Port == 0:
		return fmt.Errorf("SMTP port is not configured")
	case c.Username == "":
		return fmt.Errorf("SMTP username is not configured")
	case c.Password == "":
		return fmt.Errorf("SMTP password is not configured")
	case c.From == "":
		return fmt.Errorf("from address is not configured")
	}
	return nil
}

// dialer abstracts gomail.Dialer for tests.
type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// Sink sends notification messages by e-mail. Destinations look like
// "mailto:user@example.com".
type Sink struct {
	cfg  Config
	dial dialer
}

// NewSink returns a Sink backed by the SMTP server in cfg.
func NewSink(cfg Config) (*Sink, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Sink{
		cfg:  cfg,
		dial: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}, nil
}

// Send mails text to destination. The first line of text becomes the
// subject.
func (s *Sink) Send(ctx context.Context, destination, text string) error {
	to := strings.TrimPrefix(destination, "mailto:")
	if to == "" || strings.Contains(to, " ") {
		return fmt.Errorf("invalid mail destination %q", destination)
	}

	subject, _, _ := strings.Cut(text, "\n")

	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", text)

	if err := s.dial.DialAndSend(m); err != nil {
		return fmt.Errorf("sending mail to %s: %w", to, err)
	}
	return nil
}
