// Package media finds local media references in record content and
// metadata, uploads each distinct asset once (by content hash) and
// rewrites the references to remote URLs.
package media

import (
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"
)

// Syntax identifies how a media reference was written.
type Syntax string

const (
	SyntaxField    Syntax = "field"    // metadata field holding a bare path
	SyntaxMarkdown Syntax = "markdown" // ![alt](path)
	SyntaxTag      Syntax = "tag"      // <img src="path">, <a href="path">
	SyntaxEmbed    Syntax = "embed"    // ![[path]]
)

var (
	markdownRef = regexp.MustCompile(`!\[[^\]]*\]\(\s*<?([^)\s>]+)>?(?:\s+["'][^"']*["'])?\s*\)`)
	tagRef      = regexp.MustCompile(`(?i)<(?:img|a|source|video|audio)\b[^>]*?\b(?:src|href)\s*=\s*["']([^"']+)["']`)
	embedRef    = regexp.MustCompile(`!\[\[([^\]|]+)(?:\|[^\]]*)?\]\]`)
)

var mediaExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".bmp":  "image/bmp",
	".pdf":  "application/pdf",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
}

// Match is one media reference found in content. Start and End delimit
// the path itself, so replacing content[Start:End] rewrites the reference
// and keeps the surrounding markup.
type Match struct {
	Syntax Syntax
	Path   string
	Start  int
	End    int
}

// IsRemote reports whether ref is an absolute URL (http, https or
// protocol-relative) that must be left untouched.
func IsRemote(ref string) bool {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "//") {
		return true
	}
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https" || scheme == "data"
}

// cleanPath strips any query or fragment and decodes percent escapes.
func cleanPath(ref string) string {
	ref = strings.TrimSpace(ref)
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	if decoded, err := url.PathUnescape(ref); err == nil {
		ref = decoded
	}
	return ref
}

// MediaType returns the MIME type of a recognised media path, or "".
func MediaType(ref string) string {
	return mediaExtensions[strings.ToLower(path.Ext(cleanPath(ref)))]
}

// IsLocalMedia reports whether ref points at a local file with a
// recognised media extension.
func IsLocalMedia(ref string) bool {
	ref = strings.TrimSpace(ref)
	return ref != "" && !IsRemote(ref) && MediaType(ref) != ""
}

// Basename returns the cache key of a reference.
func Basename(ref string) string {
	return path.Base(strings.ReplaceAll(cleanPath(ref), `\`, "/"))
}

// Scan returns the local media references in content, in content order.
func Scan(content string) []Match {
	var matches []Match
	collect := func(re *regexp.Regexp, syntax Syntax) {
		for _, loc := range re.FindAllStringSubmatchIndex(content, -1) {
			start, end := loc[2], loc[3]
			if start < 0 {
				continue
			}
			p := content[start:end]
			if !IsLocalMedia(p) {
				continue
			}
			matches = append(matches, Match{Syntax: syntax, Path: p, Start: start, End: end})
		}
	}
	collect(markdownRef, SyntaxMarkdown)
	collect(tagRef, SyntaxTag)
	collect(embedRef, SyntaxEmbed)

	sort.Slice(matches, func(i, j int) bool { return matches[i].Start < matches[j].Start })
	// Drop overlaps, e.g. a tag inside markdown link text.
	out := matches[:0]
	lastEnd := -1
	for _, m := range matches {
		if m.Start < lastEnd {
			continue
		}
		out = append(out, m)
		lastEnd = m.End
	}
	return out
}
