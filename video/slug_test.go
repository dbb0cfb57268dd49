package video

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlug(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "simple", in: "The Joe Rogan Experience", want: "the-joe-rogan-experience"},
		{name: "punctuation collapses", in: "Hello, World!! --- Podcast", want: "hello-world-podcast"},
		{name: "empty string", in: "", want: "untitled"},
		{name: "only punctuation", in: "!!!...", want: "untitled"},
		{name: "already slugged", in: "already-a-slug", want: "already-a-slug"},
		{name: "leading and trailing junk trimmed", in: "  --Episode 1--  ", want: "episode-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Slug(tt.in))
		})
	}
}

func TestSlugDeterministic(t *testing.T) {
	in := "Some Title With Mixed CASE and 123 Numbers!"
	require.Equal(t, Slug(in), Slug(in))
}

func TestSlugLengthCap(t *testing.T) {
	long := strings.Repeat("a", 500)
	got := Slug(long)
	require.LessOrEqual(t, len(got), maxSlugLength)
}
