// Copyright 2011 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package nin

import "testing"

func TestEditDistance_Identical(t *testing.T) {
	if d := editDistance("browser_tests", "browser_tests", true, 0); d != 0 {
		t.Fatalf("want 0, got %d", d)
	}
}

func TestEditDistance_OneInsertion(t *testing.T) {
	if d := editDistance("browser_test", "browser_tests", true, 0); d != 1 {
		t.Fatalf("want 1, got %d", d)
	}
}

func TestEditDistance_ReplacementsDisallowed(t *testing.T) {
	// Without replacements, turning "abc" into "abd" costs a deletion plus an
	// insertion (distance 2), not a single substitution.
	withReplacement := editDistance("abc", "abd", true, 0)
	withoutReplacement := editDistance("abc", "abd", false, 0)
	if withReplacement != 1 {
		t.Fatalf("want 1, got %d", withReplacement)
	}
	if withoutReplacement != 2 {
		t.Fatalf("want 2, got %d", withoutReplacement)
	}
}

func TestEditDistance_MaxDistanceCutsSearchShort(t *testing.T) {
	// Completely unrelated strings: exact distance is large, but capping the
	// search must still report something at or beyond the cap rather than
	// continuing the full O(mn) computation.
	if d := editDistance("completely", "unrelated!", true, 3); d < 3 {
		t.Fatalf("want >= 3, got %d", d)
	}
}
