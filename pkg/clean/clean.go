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

// Package clean strips navigation/boilerplate noise from fetched HTML
// content before extraction, while preserving legal citation markers
// ("Članak 1.", "(1)") that the extractor relies on for provenance.
package clean

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	tagRe         = regexp.MustCompile(`(?s)<[^>]+>`)
	multiBlankRe  = regexp.MustCompile(`\n{3,}`)
	multiSpaceRe  = regexp.MustCompile(`[ \t]{2,}`)
)

// hostBoilerplatePhrases lists per-host navigation/footer phrases dropped
// before the generic tag strip runs. Extend as new sources are onboarded.
var hostBoilerplatePhrases = map[string][]string{
	"narodne-novine.nn.hr": {"Skip to main content", "Pretraga", "Arhiva"},
	"porezna-uprava.gov.hr": {"Pristupačnost", "Karta weba", "Kontakt"},
}

// genericBoilerplatePhrases are dropped regardless of host.
var genericBoilerplatePhrases = []string{
	"Cookie Policy", "Privacy Policy", "All rights reserved", "Back to top",
}

// Stats summarizes a Clean call for logging.
type Stats struct {
	OriginalLength  int
	CleanedLength   int
	ReductionPercent float64
	NewsItemsFound  int
}

// Clean removes navigation/script/style/boilerplate content from rawContent
// using per-host heuristics keyed by the source URL, while preserving
// article-number and paragraph-numeral markers the extractor grounds
// quotes against. It is idempotent: Clean(Clean(x)) == Clean(x).
func Clean(rawContent, sourceURL string) string {
	text := scriptStyleRe.ReplaceAllString(rawContent, " ")
	text = tagRe.ReplaceAllString(text, " ")
	text = stripBoilerplate(text, sourceURL)
	text = multiSpaceRe.ReplaceAllString(text, " ")
	text = multiBlankRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func stripBoilerplate(text, sourceURL string) string {
	phrases := append([]string{}, genericBoilerplatePhrases...)
	if u, err := url.Parse(sourceURL); err == nil {
		if hostPhrases, ok := hostBoilerplatePhrases[u.Hostname()]; ok {
			phrases = append(phrases, hostPhrases...)
		}
	}
	for _, p := range phrases {
		text = strings.ReplaceAll(text, p, " ")
	}
	return text
}

// newsItemRe counts heuristic "news item" boundaries (a bare article-number
// marker starting a line) for the Stats.NewsItemsFound field.
var newsItemRe = regexp.MustCompile(`(?m)^\s*(Članak|Article)\s+\d+`)

// ComputeStats derives before/after size and a naive news-item count used
// for logging by the extractor around each Clean call.
func ComputeStats(raw, cleaned string) Stats {
	origLen := len(raw)
	cleanLen := len(cleaned)
	reduction := 0.0
	if origLen > 0 {
		reduction = 100 * (1 - float64(cleanLen)/float64(origLen))
	}
	return Stats{
		OriginalLength:   origLen,
		CleanedLength:    cleanLen,
		ReductionPercent: reduction,
		NewsItemsFound:   len(newsItemRe.FindAllString(cleaned, -1)),
	}
}
