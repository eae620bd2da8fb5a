package session

import (
	"reflect"
	"testing"
)

func TestParseResponse(t *testing.T) {
	cases := []struct {
		name     string
		response string
		want     []int
		wantOK   bool
	}{
		{"single index", "2", []int{2}, true},
		{"multiple sorted", "0,2", []int{0, 2}, true},
		{"unsorted input", "2,0", []int{0, 2}, true},
		{"duplicates collapse", "1,1,1", []int{1}, true},
		{"spaces tolerated", " 0 , 2 ", []int{0, 2}, true},
		{"empty is valid", "", nil, true},
		{"trailing comma", "0,", nil, false},
		{"garbage", "a,b", nil, false},
		{"negative index", "-1", nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParseResponse(tc.response)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if tc.wantOK && len(tc.want) > 0 && !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestScoreMCQ(t *testing.T) {
	correct := []int{0, 2}
	cases := []struct {
		name     string
		response string
		want     float64
	}{
		{"exact match", "0,2", 5},
		{"exact match unordered", "2,0", 5},
		{"subset scores zero", "0", 0},
		{"superset scores zero", "0,1,2", 0},
		{"disjoint scores zero", "1", 0},
		{"empty scores zero", "", 0},
		{"malformed scores zero", "0,x", 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ScoreMCQ(tc.response, correct, 5); got != tc.want {
				t.Fatalf("ScoreMCQ(%q) = %v, want %v", tc.response, got, tc.want)
			}
		})
	}
}

func TestScoreMCQSingleCorrect(t *testing.T) {
	if got := ScoreMCQ("1", []int{1}, 2.5); got != 2.5 {
		t.Fatalf("got %v, want 2.5", got)
	}
	if got := ScoreMCQ("1,2", []int{1}, 2.5); got != 0 {
		t.Fatalf("got %v, want 0", got)
	}
}

func TestFormatResponseRoundTrip(t *testing.T) {
	got := FormatResponse([]int{2, 0})
	if got != "0,2" {
		t.Fatalf("FormatResponse = %q, want %q", got, "0,2")
	}
	if FormatResponse(nil) != "" {
		t.Fatalf("expected empty string for nil indices")
	}
	parsed, ok := ParseResponse(got)
	if !ok || !reflect.DeepEqual(parsed, []int{0, 2}) {
		t.Fatalf("round trip failed: %v %v", parsed, ok)
	}
}
