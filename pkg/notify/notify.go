/*
Copyright 2026 The FiskAI Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package notify routes watchdog alerts: critical alerts fan out to Slack
// and email, and every alert is persisted by the caller. Alerts never
// throw; each Notifier returns an error for observability but Fanout
// swallows it after logging.
package notify

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"github.com/Wandeon/FiskAI-App-sub004/internal/config"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/domain"
)

// Notifier delivers a single Alert to one channel.
type Notifier interface {
	Notify(ctx context.Context, alert domain.Alert) error
}

// SlackNotifier posts CRITICAL-routed alerts to a Slack incoming
// webhook.
type SlackNotifier struct {
	webhookURL string
	channel    string
	post       func(url string, msg *slack.WebhookMessage) error
}

// NewSlackNotifier constructs a SlackNotifier. When webhookURL is empty
// (no SLACK_WEBHOOK_URL configured) the notifier is inert.
func NewSlackNotifier(webhookURL, channel string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		channel:    channel,
		post:       slack.PostWebhook,
	}
}

func (n *SlackNotifier) Notify(_ context.Context, alert domain.Alert) error {
	if n.webhookURL == "" {
		return nil
	}
	msg := &slack.WebhookMessage{
		Channel: n.channel,
		Text:    fmt.Sprintf("[%s] %s (%s): %s", alert.Severity, alert.AlertType, alert.EntityID, alert.Message),
	}
	return n.post(n.webhookURL, msg)
}

// EmailNotifier sends the daily-digest/critical-alert email via stdlib
// net/smtp; plain SMTP is all this boundary needs.
type EmailNotifier struct {
	smtpAddr string
	from     string
	to       string
	send     func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailNotifier constructs an EmailNotifier. When to is empty (no
// TRUTH_DIGEST_EMAIL configured) Notify is a no-op.
func NewEmailNotifier(smtpAddr, from, to string) *EmailNotifier {
	return &EmailNotifier{smtpAddr: smtpAddr, from: from, to: to, send: smtp.SendMail}
}

func (n *EmailNotifier) Notify(_ context.Context, alert domain.Alert) error {
	if n.to == "" {
		return nil
	}
	subject := fmt.Sprintf("Subject: [%s] %s\r\n\r\n", alert.Severity, alert.AlertType)
	body := subject + alert.Message + "\r\n"
	return n.send(n.smtpAddr, nil, n.from, []string{n.to}, []byte(body))
}

// Fanout delivers alert to every configured notifier, logging (never
// returning) individual failures.
type Fanout struct {
	notifiers []Notifier
	log       *logrus.Logger
}

// NewFanout builds a Fanout from cfg: a SlackNotifier and EmailNotifier
// constructed from NotifyConfig, both inert when unconfigured.
func NewFanout(cfg config.NotifyConfig, log *logrus.Logger) *Fanout {
	if log == nil {
		log = logrus.New()
	}
	return &Fanout{
		notifiers: []Notifier{
			NewSlackNotifier(cfg.SlackWebhookURL, cfg.SlackChannel),
			NewEmailNotifier("localhost:25", "truth-pipeline@fiskai.local", cfg.DigestEmail),
		},
		log: log,
	}
}

// Notify fans alert out to every notifier, swallowing individual failures.
func (f *Fanout) Notify(ctx context.Context, alert domain.Alert) {
	for _, n := range f.notifiers {
		if err := n.Notify(ctx, alert); err != nil {
			f.log.WithError(err).WithField("alertType", alert.AlertType).Warn("notify: delivery failed")
		}
	}
}
