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
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/Wandeon/FiskAI-App-sub004/internal/config"
)

var _ = Describe("Watch", func() {
	var (
		dir     string
		path    string
		ctx     context.Context
		cancel  context.CancelFunc
		logger  *logrus.Logger
		mu      sync.Mutex
		reloads []config.Config
	)

	latest := func() (config.Config, bool) {
		mu.Lock()
		defer mu.Unlock()
		if len(reloads) == 0 {
			return config.Config{}, false
		}
		return reloads[len(reloads)-1], true
	}

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		path = filepath.Join(dir, "overlay.yaml")
		ctx, cancel = context.WithCancel(context.Background())
		logger = logrus.New()
		logger.SetLevel(logrus.ErrorLevel)
		reloads = nil

		go func() {
			defer GinkgoRecover()
			err := config.Watch(ctx, path, logger, func(c config.Config) {
				mu.Lock()
				reloads = append(reloads, c)
				mu.Unlock()
			})
			Expect(err).ToNot(HaveOccurred())
		}()
	})

	AfterEach(func() { cancel() })

	It("reloads the merged config when the overlay file appears and changes", func() {
		// fsnotify typically detects within 100-500ms; the Eventually
		// windows below leave room for slower CI filesystems.
		Expect(os.WriteFile(path, []byte("watchdog:\n  staleSourceWarnDays: 3\n"), 0o644)).To(Succeed())

		Eventually(func() int {
			c, ok := latest()
			if !ok {
				return 0
			}
			return c.Watchdog.StaleSourceWarnDays
		}, 5*time.Second, 50*time.Millisecond).Should(Equal(3))

		Expect(os.WriteFile(path, []byte("watchdog:\n  staleSourceWarnDays: 9\n"), 0o644)).To(Succeed())

		Eventually(func() int {
			c, ok := latest()
			if !ok {
				return 0
			}
			return c.Watchdog.StaleSourceWarnDays
		}, 5*time.Second, 50*time.Millisecond).Should(Equal(9))
	})

	It("ignores changes to sibling files in the watched directory", func() {
		Expect(os.WriteFile(filepath.Join(dir, "unrelated.yaml"), []byte("watchdog:\n  staleSourceWarnDays: 99\n"), 0o644)).To(Succeed())

		Consistently(func() int {
			mu.Lock()
			defer mu.Unlock()
			return len(reloads)
		}, time.Second, 100*time.Millisecond).Should(BeZero())
	})
})
