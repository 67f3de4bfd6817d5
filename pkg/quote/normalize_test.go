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

package quote_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/quote"
)

func TestQuote(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Quote Normalization Suite")
}

var _ = Describe("Normalize", func() {
	It("maps smart double quotes to ASCII", func() {
		Expect(quote.Normalize("“Članak 1.”")).To(Equal("\"Članak 1.\""))
	})

	It("maps smart single quotes to ASCII", func() {
		Expect(quote.Normalize("it’s a ‘test’")).To(Equal("it's a 'test'"))
	})

	It("is idempotent", func() {
		once := quote.Normalize("“mixed ‘quotes’”")
		twice := quote.Normalize(once)
		Expect(twice).To(Equal(once))
	})

	It("leaves ASCII-only text untouched", func() {
		Expect(quote.Normalize(`plain "text" with 'apostrophes'`)).To(Equal(`plain "text" with 'apostrophes'`))
	})
})

var _ = Describe("ContainsNormalized", func() {
	It("matches when only the haystack carries smart quotes", func() {
		Expect(quote.ContainsNormalized("the rate is “25%”", `the rate is "25%"`)).To(BeTrue())
	})

	It("matches when only the needle carries smart quotes", func() {
		Expect(quote.ContainsNormalized(`the rate is "25%"`, "the rate is “25%”")).To(BeTrue())
	})

	It("fails when the text genuinely differs", func() {
		Expect(quote.ContainsNormalized(`the rate is "25%"`, `the rate is "30%"`)).To(BeFalse())
	})
})
