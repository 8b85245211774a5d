package optimizer

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaypost/relaypost/src/platforms"
)

func TestMinBudget(t *testing.T) {
	assert.Equal(t, 280, MinBudget([]string{platforms.Facebook, platforms.Twitter, platforms.LinkedIn}))
	assert.Equal(t, 500, MinBudget([]string{platforms.Facebook, platforms.Threads}))
	assert.Equal(t, 0, MinBudget([]string{"myspace"}))
	assert.Equal(t, 0, MinBudget(nil))
}

func TestOptimizeUnknownPlatform(t *testing.T) {
	_, err := Optimize(platforms.Content{Text: "hi"}, "myspace", Options{})
	require.Error(t, err)
}

func TestOptimizeShortTextUntouched(t *testing.T) {
	out, err := Optimize(platforms.Content{Text: "Short and sweet."}, platforms.Twitter, Options{})
	require.NoError(t, err)
	assert.Equal(t, "Short and sweet.", out.Text)
	assert.Empty(t, out.Thread)
}

func TestOptimizeTruncates(t *testing.T) {
	long := strings.Repeat("a", 3500)
	out, err := Optimize(platforms.Content{Text: long}, platforms.LinkedIn, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3000, len([]rune(out.Text)))
	assert.True(t, strings.HasSuffix(out.Text, "..."))
	assert.Empty(t, out.Thread)
}

func TestOptimizeTruncatesWithoutThreadOption(t *testing.T) {
	long := strings.Repeat("word ", 100) // ~500 chars
	out, err := Optimize(platforms.Content{Text: long}, platforms.Twitter, Options{})
	require.NoError(t, err)
	assert.LessOrEqual(t, len([]rune(out.Text)), 280)
	assert.True(t, strings.HasSuffix(out.Text, "..."))
}

func TestOptimizeThreadSplit(t *testing.T) {
	sentence := "This is a reasonably long sentence for testing purposes."
	parts := make([]string, 8)
	for i := range parts {
		parts[i] = sentence
	}
	text := strings.Join(parts, " ")
	require.Greater(t, len(text), 280)

	out, err := Optimize(platforms.Content{Text: text}, platforms.Twitter, Options{CreateThread: true})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(out.Thread), 2)
	assert.Equal(t, out.Thread[0], out.Text)

	total := len(out.Thread)
	var rejoined []string
	for i, seg := range out.Thread {
		assert.LessOrEqual(t, len([]rune(seg)), 280)
		suffix := fmt.Sprintf(" (%d/%d)", i+1, total)
		require.True(t, strings.HasSuffix(seg, suffix), "segment %d missing %q", i, suffix)
		rejoined = append(rejoined, strings.TrimSuffix(seg, suffix))
	}
	// Nothing lost, nothing reordered.
	assert.Equal(t, text, strings.Join(rejoined, " "))
}

func TestOptimizeThreadHardCutsLongWord(t *testing.T) {
	text := strings.Repeat("x", 600)
	out, err := Optimize(platforms.Content{Text: text}, platforms.Twitter, Options{CreateThread: true})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(out.Thread), 2)
	for _, seg := range out.Thread {
		assert.LessOrEqual(t, len([]rune(seg)), 280)
	}
}

func TestOptimizeThreadOnlyForThreadablePlatforms(t *testing.T) {
	long := strings.Repeat("word ", 700) // past the 3000 cap
	out, err := Optimize(platforms.Content{Text: long}, platforms.LinkedIn, Options{CreateThread: true})
	require.NoError(t, err)
	assert.Empty(t, out.Thread)
	assert.LessOrEqual(t, len([]rune(out.Text)), 3000)
}

func TestInstagramRequiresMedia(t *testing.T) {
	_, err := Optimize(platforms.Content{Text: "no media here"}, platforms.Instagram, Options{})
	require.Error(t, err)
	assert.True(t, platforms.IsValidation(err))
}

func TestYouTubeRequiresVideo(t *testing.T) {
	image := platforms.Media{URL: "https://cdn.example.com/a.jpg", MIMEType: "image/jpeg"}
	video := platforms.Media{URL: "https://cdn.example.com/a.mp4", MIMEType: "video/mp4"}

	_, err := Optimize(platforms.Content{Text: "pics only", Media: []platforms.Media{image}}, platforms.YouTube, Options{})
	require.Error(t, err)
	assert.True(t, platforms.IsValidation(err))

	_, err = Optimize(platforms.Content{Text: "with video", Media: []platforms.Media{image, video}}, platforms.YouTube, Options{})
	assert.NoError(t, err)
}

func TestInstagramHashtagAugmentation(t *testing.T) {
	media := []platforms.Media{{URL: "https://cdn.example.com/a.jpg", MIMEType: "image/jpeg"}}
	text := "Launch day for the rocket. Rocket launch is ready. Rocket fans assemble."

	out, err := Optimize(platforms.Content{Text: text, Media: media}, platforms.Instagram, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out.Text, "#"))
	assert.Contains(t, out.Text, "#rocket")
	assert.Contains(t, out.Text, "#launch")
	assert.LessOrEqual(t, len([]rune(out.Text)), 2200)
}

func TestInstagramKeepsExistingHashtags(t *testing.T) {
	media := []platforms.Media{{URL: "https://cdn.example.com/a.jpg", MIMEType: "image/jpeg"}}
	text := "Big news today #launch"

	out, err := Optimize(platforms.Content{Text: text, Media: media}, platforms.Instagram, Options{})
	require.NoError(t, err)
	assert.Equal(t, text, out.Text)
}

func TestSanitizeStripsMarkup(t *testing.T) {
	out, err := Optimize(platforms.Content{Text: "<b>Hello</b> world & friends"}, platforms.Facebook, Options{})
	require.NoError(t, err)
	assert.Equal(t, "Hello world & friends", out.Text)
}

func TestSplitSentencesKeepsPunctuationRuns(t *testing.T) {
	got := splitSentences("Wait... really?! Yes. v1.2 is out.")
	assert.Equal(t, []string{"Wait...", "really?!", "Yes.", "v1.2 is out."}, got)
}
