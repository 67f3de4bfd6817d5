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

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Wandeon/FiskAI-App-sub004/internal/config"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config Suite")
}

func clearEnv(keys ...string) func() {
	saved := map[string]string{}
	for _, k := range keys {
		saved[k] = os.Getenv(k)
		os.Unsetenv(k)
	}
	return func() {
		for k, v := range saved {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}
}

var _ = Describe("Load", func() {
	It("defaults extraction to https://ollama.com + llama3.1 when nothing is set", func() {
		restore := clearEnv("OLLAMA_EXTRACT_ENDPOINT", "OLLAMA_ENDPOINT", "OLLAMA_EXTRACT_MODEL", "OLLAMA_MODEL")
		defer restore()

		cfg := config.Load()
		Expect(cfg.Extraction.Endpoint).To(Equal("https://ollama.com"))
		Expect(cfg.Extraction.Model).To(Equal("llama3.1"))
	})

	It("falls back OLLAMA_EXTRACT_* to OLLAMA_*", func() {
		restore := clearEnv("OLLAMA_EXTRACT_ENDPOINT", "OLLAMA_ENDPOINT")
		defer restore()
		os.Setenv("OLLAMA_ENDPOINT", "http://shared:11434")

		cfg := config.Load()
		Expect(cfg.Extraction.Endpoint).To(Equal("http://shared:11434"))
	})

	It("never leaks extraction env vars into embeddings", func() {
		restore := clearEnv("OLLAMA_ENDPOINT", "OLLAMA_MODEL", "OLLAMA_EMBED_ENDPOINT", "OLLAMA_EMBED_MODEL")
		defer restore()
		os.Setenv("OLLAMA_ENDPOINT", "http://extract-only:11434")
		os.Setenv("OLLAMA_MODEL", "extract-model")

		cfg := config.Load()
		Expect(cfg.Embeddings.Endpoint).To(Equal("http://localhost:11434"))
		Expect(cfg.Embeddings.Model).To(Equal("nomic-embed-text"))
	})

	It("defaults the alert dedup window to 60 minutes", func() {
		restore := clearEnv("ALERT_DEDUP_WINDOW_MINUTES")
		defer restore()

		cfg := config.Load()
		Expect(cfg.Watchdog.AlertDedupWindowMinutes).To(Equal(60))
	})

	It("overlays a CONFIG_FILE YAML file onto the env-derived defaults", func() {
		restore := clearEnv("CONFIG_FILE", "ALERT_DEDUP_WINDOW_MINUTES", "SLACK_CHANNEL")
		defer restore()

		dir := filepath.Join(os.TempDir(), "fiskai-config-test")
		Expect(os.MkdirAll(dir, 0o755)).To(Succeed())
		path := filepath.Join(dir, "overlay.yaml")
		Expect(os.WriteFile(path, []byte("watchdog:\n  alertDedupWindowMinutes: 120\nnotify:\n  slackChannel: \"#overlay-alerts\"\n"), 0o644)).To(Succeed())
		defer os.Remove(path)

		os.Setenv("CONFIG_FILE", path)
		cfg := config.Load()
		Expect(cfg.Watchdog.AlertDedupWindowMinutes).To(Equal(120))
		Expect(cfg.Notify.SlackChannel).To(Equal("#overlay-alerts"))
	})

	It("leaves defaults untouched when CONFIG_FILE is unset or unreadable", func() {
		restore := clearEnv("CONFIG_FILE", "ALERT_DEDUP_WINDOW_MINUTES")
		defer restore()
		os.Setenv("CONFIG_FILE", "/nonexistent/overlay.yaml")

		cfg := config.Load()
		Expect(cfg.Watchdog.AlertDedupWindowMinutes).To(Equal(60))
	})
})
