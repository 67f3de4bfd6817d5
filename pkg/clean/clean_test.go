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

package clean_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/clean"
)

func TestClean(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Content Cleaning Suite")
}

const sampleHTML = `<html><head><style>.nav{}</style></head><body>
<nav>Skip to main content</nav>
<script>track();</script>
<article>
<h1>Članak 1.</h1>
<p>(1) Stopa poreza je 25%.</p>
</article>
<footer>All rights reserved</footer>
</body></html>`

var _ = Describe("Clean", func() {
	It("strips script, style and tag markup", func() {
		out := clean.Clean(sampleHTML, "https://narodne-novine.nn.hr/clanak/1")

		Expect(out).ToNot(ContainSubstring("<script"))
		Expect(out).ToNot(ContainSubstring("<style"))
		Expect(out).ToNot(ContainSubstring("<p>"))
	})

	It("preserves article-number and paragraph-numeral markers", func() {
		out := clean.Clean(sampleHTML, "https://narodne-novine.nn.hr/clanak/1")

		Expect(out).To(ContainSubstring("Članak 1."))
		Expect(out).To(ContainSubstring("(1)"))
	})

	It("removes host-specific boilerplate phrases", func() {
		out := clean.Clean(sampleHTML, "https://narodne-novine.nn.hr/clanak/1")

		Expect(out).ToNot(ContainSubstring("Skip to main content"))
		Expect(out).ToNot(ContainSubstring("All rights reserved"))
	})

	It("is idempotent", func() {
		once := clean.Clean(sampleHTML, "https://example.com")
		twice := clean.Clean(once, "https://example.com")
		Expect(twice).To(Equal(once))
	})
})

var _ = Describe("ComputeStats", func() {
	It("reports a positive reduction for markup-heavy input", func() {
		cleaned := clean.Clean(sampleHTML, "https://example.com")
		stats := clean.ComputeStats(sampleHTML, cleaned)

		Expect(stats.OriginalLength).To(Equal(len(sampleHTML)))
		Expect(stats.CleanedLength).To(Equal(len(cleaned)))
		Expect(stats.ReductionPercent).To(BeNumerically(">", 0))
	})

	It("handles empty raw content without dividing by zero", func() {
		stats := clean.ComputeStats("", "")
		Expect(stats.ReductionPercent).To(Equal(0.0))
	})
})
