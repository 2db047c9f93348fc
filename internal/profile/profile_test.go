package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAndGet(t *testing.T) {
	content := `
profiles:
  - name: documents
    include: ["*.pdf", "*.docx"]
  - name: no-junk
    exclude: ["*.tmp", ".DS_Store"]
`
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	f, err := Load(path)
	require.NoError(t, err)
	require.Len(t, f.Profiles, 2)

	p, err := f.Get("documents")
	require.NoError(t, err)
	assert.Equal(t, []string{"*.pdf", "*.docx"}, p.Include)

	_, err = f.Get("missing")
	assert.Error(t, err)
}

func TestFilterShouldInclude(t *testing.T) {
	tests := []struct {
		name    string
		profile *Profile
		rel     string
		want    bool
	}{
		{name: "nil filter includes all", profile: nil, rel: "anything/at/all.bin", want: true},
		{
			name:    "include by extension",
			profile: &Profile{Include: []string{"*.pdf"}},
			rel:     "docs/report.pdf",
			want:    true,
		},
		{
			name:    "include misses other extensions",
			profile: &Profile{Include: []string{"*.pdf"}},
			rel:     "docs/report.txt",
			want:    false,
		},
		{
			name:    "exclude wins over include",
			profile: &Profile{Include: []string{"*.pdf"}, Exclude: []string{"draft*"}},
			rel:     "docs/draft-report.pdf",
			want:    false,
		},
		{
			name:    "empty include means all",
			profile: &Profile{Exclude: []string{"*.tmp"}},
			rel:     "photos/cat.jpg",
			want:    true,
		},
		{
			name:    "exclude by basename",
			profile: &Profile{Exclude: []string{".DS_Store"}},
			rel:     "photos/.DS_Store",
			want:    false,
		},
		{
			name:    "full path pattern",
			profile: &Profile{Include: []string{"photos/*"}},
			rel:     "photos/cat.jpg",
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewFilter(tt.profile).ShouldInclude(tt.rel))
		})
	}
}

func TestFilterShouldDescend(t *testing.T) {
	tests := []struct {
		name    string
		profile *Profile
		rel     string
		want    bool
	}{
		{name: "nil filter descends", profile: nil, rel: "cache", want: true},
		{
			name:    "excluded directory is pruned",
			profile: &Profile{Exclude: []string{"cache"}},
			rel:     "sub/cache",
			want:    false,
		},
		{
			name:    "include patterns do not prune directories",
			profile: &Profile{Include: []string{"*.pdf"}},
			rel:     "docs",
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewFilter(tt.profile).ShouldDescend(tt.rel))
		})
	}
}
