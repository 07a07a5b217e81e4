/*
Copyright 2026 The llm-d Authors

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

package lexicon

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
)

// Distance returns the Levenshtein distance between a and b, case-folded when caseInsensitive is set.
func Distance(a, b string, caseInsensitive bool) int {
	if caseInsensitive {
		// a Caser keeps state, so one per call
		fold := cases.Fold()
		a = fold.String(a)
		b = fold.String(b)
	}
	if a == b {
		return 0
	}
	if a == "" {
		return utf8.RuneCountInString(b)
	}
	if b == "" {
		return utf8.RuneCountInString(a)
	}
	return levenshtein.ComputeDistance(a, b)
}
