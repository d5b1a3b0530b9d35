// Package notify tells users that their curated image set is ready.
package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
)

//go:embed templates/*.html
var templateFS embed.FS

// Message is a rendered email ready for delivery.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers a rendered Message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Subject returns the results-ready subject line for query.
func Subject(query string) string {
	return fmt.Sprintf("Your Image Set for '%s' is Ready!", query)
}

type Notifier struct {
	sender Sender
	tmpl   *template.Template
	md     *converter.Converter
	logger *slog.Logger
}

func New(sender Sender, logger *slog.Logger) (*Notifier, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/results_ready.html")
	if err != nil {
		return nil, fmt.Errorf("parse email template: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		sender: sender,
		tmpl:   tmpl,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
		logger: logger,
	}, nil
}

// Render builds the results-ready email without sending it.
func (n *Notifier) Render(recipient, query, resultsURL string) (Message, error) {
	var buf bytes.Buffer
	data := struct{ Query, ResultsURL string }{query, resultsURL}
	if err := n.tmpl.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("render email: %w", err)
	}

	html := buf.String()
	text, err := n.md.ConvertString(html)
	if err != nil {
		return Message{}, fmt.Errorf("render plain text: %w", err)
	}

	return Message{To: recipient, Subject: Subject(query), HTML: html, Text: text}, nil
}

// NotifyResultsReady renders and sends the results email. Every failure is
// returned so the caller can retry on a later pass.
func (n *Notifier) NotifyResultsReady(ctx context.Context, recipient, query, resultsURL string) error {
	msg, err := n.Render(recipient, query, resultsURL)
	if err != nil {
		return err
	}

	n.logger.Info("notify: sending results email", "query", query, "results_url", resultsURL)
	if err := n.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("send results email: %w", err)
	}
	return nil
}
