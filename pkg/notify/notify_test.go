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

package notify

import (
	"context"
	"errors"
	"net/smtp"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/domain"
)

func TestNotify(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Notify Suite")
}

var _ = Describe("BR-NOTIFY-001: alert fan-out", func() {
	alert := domain.Alert{
		AlertType: "LLM_CIRCUIT_OPEN",
		EntityID:  "ollama-extract",
		Severity:  domain.AlertCritical,
		Message:   "provider ollama-extract circuit is OPEN",
	}

	It("posts the alert to the configured Slack webhook and channel", func() {
		var gotURL string
		var gotMsg *slack.WebhookMessage
		n := NewSlackNotifier("https://hooks.slack.com/services/T000/B000/XXX", "#truth-alerts")
		n.post = func(url string, msg *slack.WebhookMessage) error {
			gotURL, gotMsg = url, msg
			return nil
		}

		Expect(n.Notify(context.Background(), alert)).To(Succeed())
		Expect(gotURL).To(Equal("https://hooks.slack.com/services/T000/B000/XXX"))
		Expect(gotMsg.Channel).To(Equal("#truth-alerts"))
		Expect(gotMsg.Text).To(ContainSubstring("LLM_CIRCUIT_OPEN"))
		Expect(gotMsg.Text).To(ContainSubstring("ollama-extract"))
	})

	It("is inert when no Slack webhook is configured", func() {
		called := false
		n := NewSlackNotifier("", "#truth-alerts")
		n.post = func(string, *slack.WebhookMessage) error {
			called = true
			return nil
		}

		Expect(n.Notify(context.Background(), alert)).To(Succeed())
		Expect(called).To(BeFalse())
	})

	It("sends the email with a severity-tagged subject line", func() {
		var gotTo []string
		var gotMsg []byte
		n := NewEmailNotifier("localhost:25", "truth-pipeline@fiskai.local", "ops@fiskai.local")
		n.send = func(_ string, _ smtp.Auth, _ string, to []string, msg []byte) error {
			gotTo, gotMsg = to, msg
			return nil
		}

		Expect(n.Notify(context.Background(), alert)).To(Succeed())
		Expect(gotTo).To(ConsistOf("ops@fiskai.local"))
		Expect(string(gotMsg)).To(ContainSubstring("Subject: [CRITICAL] LLM_CIRCUIT_OPEN"))
	})

	It("swallows a notifier failure instead of propagating it", func() {
		slackN := NewSlackNotifier("https://hooks.slack.com/services/T000/B000/XXX", "")
		slackN.post = func(string, *slack.WebhookMessage) error {
			return errors.New("slack is down")
		}
		f := &Fanout{notifiers: []Notifier{slackN}, log: logrus.New()}

		// Notify returns nothing; the failure must not panic or escape.
		f.Notify(context.Background(), alert)
	})
})
