package watcher

import "testing"

func TestFilter_Included(t *testing.T) {
	f, err := NewFilter([]string{"*.md", "*.markdown"}, DefaultExcludes, DefaultExcludeDirs)
	if err != nil {
		t.Fatalf("NewFilter() error = %v", err)
	}

	tests := []struct {
		path string
		want bool
	}{
		{"/vault/note.md", true},
		{"/vault/deep/note.markdown", true},
		{"/vault/image.png", false},
		{"/vault/.note.md.swp", false},
		{"/vault/note.md~", false},
		{"/vault/#note.md#", false},
		{"/vault/4913", false},
		{"/vault/.DS_Store", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := f.Included(tt.path); got != tt.want {
				t.Errorf("Included(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestFilter_EmptyIncludeMatchesAll(t *testing.T) {
	f, err := NewFilter(nil, []string{"*.tmp"}, nil)
	if err != nil {
		t.Fatalf("NewFilter() error = %v", err)
	}

	if !f.Included("/vault/photo.jpg") {
		t.Error("Included(photo.jpg) = false, want true")
	}
	if f.Included("/vault/x.tmp") {
		t.Error("Included(x.tmp) = true, want false")
	}
}

func TestFilter_InSkippedDir(t *testing.T) {
	f, err := NewFilter(nil, nil, []string{".git", ".obsidian"})
	if err != nil {
		t.Fatalf("NewFilter() error = %v", err)
	}

	tests := []struct {
		rel  string
		want bool
	}{
		{"note.md", false},
		{"daily/note.md", false},
		{".git/HEAD", true},
		{"sub/.obsidian/workspace.json", true},
		{"gitnotes/a.md", false},
	}

	for _, tt := range tests {
		if got := f.InSkippedDir(tt.rel); got != tt.want {
			t.Errorf("InSkippedDir(%q) = %v, want %v", tt.rel, got, tt.want)
		}
	}
}

func TestNewFilter_InvalidPattern(t *testing.T) {
	if _, err := NewFilter([]string{"[unclosed"}, nil, nil); err == nil {
		t.Error("NewFilter() error = nil, want error for malformed pattern")
	}
}
