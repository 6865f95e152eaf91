package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScan_AllSyntaxes(t *testing.T) {
	content := `Intro ![cover](./img/cover.jpg "Cover") then <img class="x" src="assets/chart.png"> and
![[diagram.svg|300]] plus <a href='files/report.pdf'>report</a>.`

	matches := Scan(content)
	require.Len(t, matches, 4)

	expect := []struct {
		syntax Syntax
		path   string
	}{
		{SyntaxMarkdown, "./img/cover.jpg"},
		{SyntaxTag, "assets/chart.png"},
		{SyntaxEmbed, "diagram.svg"},
		{SyntaxTag, "files/report.pdf"},
	}
	for i, e := range expect {
		assert.Equal(t, e.syntax, matches[i].Syntax)
		assert.Equal(t, e.path, matches[i].Path)
		assert.Equal(t, e.path, content[matches[i].Start:matches[i].End])
	}
}

func TestScan_SkipsRemoteAndNonMedia(t *testing.T) {
	content := `![a](https://cdn.example.com/a.jpg) ![b](//cdn.example.com/b.png)
<img src="http://x/y.gif"> <a href="notes.txt">n</a> [link](./doc.pdf) ![c](data:image/png;base64,xx)`
	assert.Empty(t, Scan(content))
}

func TestIsLocalMedia(t *testing.T) {
	tests := []struct {
		ref    string
		expect bool
	}{
		{"./img/x.jpg", true},
		{"img/X.JPEG", true},
		{"/uploads/a%20b.png", true},
		{"photo.webp?v=2", true},
		{"https://example.com/x.jpg", false},
		{"//example.com/x.jpg", false},
		{"notes.md", false},
		{"", false},
	}
	for _, tc := range tests {
		t.Run(tc.ref, func(t *testing.T) {
			assert.Equal(t, tc.expect, IsLocalMedia(tc.ref))
		})
	}
}

func TestBasenameAndMediaType(t *testing.T) {
	assert.Equal(t, "a b.png", Basename("/uploads/a%20b.png"))
	assert.Equal(t, "x.jpg", Basename(`img\x.jpg`))
	assert.Equal(t, "x.jpg", Basename("./img/x.jpg#frag"))
	assert.Equal(t, "image/jpeg", MediaType("x.JPG"))
	assert.Equal(t, "audio/mpeg", MediaType("episode.mp3"))
	assert.Equal(t, "", MediaType("x.docx"))
}
