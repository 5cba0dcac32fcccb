package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"scheme stripped", "https://example.com/story", "example.com/story"},
		{"http scheme stripped", "http://example.com/story", "example.com/story"},
		{"www stripped", "https://www.example.com/story", "example.com/story"},
		{"host lowercased", "https://EXAMPLE.com/Story", "example.com/Story"},
		{"trailing slash dropped", "https://example.com/story/", "example.com/story"},
		{"fragment dropped", "https://example.com/story#section", "example.com/story"},
		{"query preserved", "https://example.com/search?q=go&page=2", "example.com/search?q=go&page=2"},
		{"no scheme input", "example.com/story", "example.com/story"},
		{"bare host", "https://www.example.com/", "example.com"},
		{"whitespace trimmed", "  https://example.com/story  ", "example.com/story"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, NormalizeURL(tc.in))
		})
	}
}

func TestNormalizeURLIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"https://www.Example.com/Some/Path/",
		"HTTP://EXAMPLE.COM/a?b=C",
		"example.com",
		"not a url at all",
		"",
	}
	for _, in := range inputs {
		once := NormalizeURL(in)
		require.Equal(t, once, NormalizeURL(once), "normalize must be idempotent for %q", in)
	}
}

func TestNormalizeURLVariantsCollide(t *testing.T) {
	t.Parallel()

	variants := []string{
		"https://www.example.com/story",
		"http://example.com/story",
		"EXAMPLE.com/story/",
		"https://example.com/story#top",
	}
	want := NormalizeURL(variants[0])
	for _, v := range variants {
		require.Equal(t, want, NormalizeURL(v))
	}
}

func TestRateLimitErrorUnwrapsTaxonomy(t *testing.T) {
	t.Parallel()

	err := &RateLimitError{}
	require.ErrorIs(t, err, ErrRateLimited)
}
