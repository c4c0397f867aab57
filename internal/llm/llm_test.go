package llm

import (
	"strings"
	"testing"
)

func TestBuildDistractorPrompt(t *testing.T) {
	tests := []struct {
		name    string
		answer  string
		lang    string
		level   string
		n       int
		wantSub []string
	}{
		{"french word", "pomme", "fr", "CE1", 3, []string{`"pomme"`, "3", "French", "CE1"}},
		{"english word", "apple", "en", "CE2", 2, []string{`"apple"`, "2", "English", "CE2"}},
		{"unknown lang defaults to english", "sept", "de", "CP", 4, []string{"English"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildDistractorPrompt(tt.answer, tt.lang, tt.level, tt.n)
			for _, sub := range tt.wantSub {
				if !strings.Contains(got, sub) {
					t.Errorf("prompt missing %q:\n%s", sub, got)
				}
			}
			if !strings.Contains(got, "distractors") {
				t.Errorf("prompt does not describe the JSON shape:\n%s", got)
			}
		})
	}
}

func TestFilterDistractors(t *testing.T) {
	tests := []struct {
		name       string
		answer     string
		candidates []string
		n          int
		want       []string
	}{
		{"keeps good ones", "pomme", []string{"paume", "plume", "pompe"}, 3, []string{"paume", "plume", "pompe"}},
		{"drops the answer itself", "pomme", []string{"pomme", "paume"}, 3, []string{"paume"}},
		{"drops case variants of the answer", "pomme", []string{"Pomme", "paume"}, 3, []string{"paume"}},
		{"drops duplicates", "sept", []string{"cept", "cept", "sette"}, 3, []string{"cept", "sette"}},
		{"drops empties and trims", "sept", []string{"  ", " cept "}, 3, []string{"cept"}},
		{"caps at n", "un", []string{"a", "b", "c", "d"}, 2, []string{"a", "b"}},
		{"nothing usable", "un", []string{"un", " ", "UN"}, 3, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := filterDistractors(tt.answer, tt.candidates, tt.n)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}
