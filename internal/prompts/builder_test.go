package prompts

import (
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		vars    map[string]string
		want    []string
		wantErr string
	}{
		{
			name: "extraction",
			id:   IDExtraction,
			vars: map[string]string{"section": "skills", "resume": "Go, SQL"},
			want: []string{"Section to extract: skills", "Go, SQL"},
		},
		{
			name: "values are not expanded",
			id:   IDExtraction,
			vars: map[string]string{"section": "profile", "resume": "literal {{section}} in a resume"},
			want: []string{"literal {{section}} in a resume"},
		},
		{
			name:    "missing variable",
			id:      IDOverview,
			vars:    nil,
			wantErr: "unresolved placeholder {{context}}",
		},
		{
			name:    "unknown prompt",
			id:      "nope",
			wantErr: "failed to get base prompt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.id, tt.vars)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Render() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("Render() missing %q in:\n%s", w, got)
				}
			}
		})
	}
}

func TestDefaultRegistry_AllPromptsRegistered(t *testing.T) {
	r := DefaultRegistry()
	for _, id := range []string{IDDecision, IDPlanning, IDActing, IDJudge, IDExtraction, IDOverview} {
		if _, err := r.GetLatest(id); err != nil {
			t.Errorf("GetLatest(%s) error = %v", id, err)
		}
	}
}

func TestPromptBuilder_AddFragment(t *testing.T) {
	b, err := NewPromptBuilder(DefaultRegistry(), IDOverview)
	if err != nil {
		t.Fatal(err)
	}
	out, err := b.SetVariable("context", "ctx").AddFragment("  ").AddFragment("Be brief.").Build()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(out, "\n\nBe brief.") {
		t.Errorf("fragment not appended: %q", out)
	}
}
