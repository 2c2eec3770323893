package feed

import (
	"errors"
	"regexp"
	"strings"
)

// ErrPackNotFound means the listing has no line for the title and quality.
var ErrPackNotFound = errors.New("feed: pack not found")

// Pack is one listing line:
//
//	#<n> [<size>] [<releaser>] <title> - <episode> (<quality>)
type Pack struct {
	Number   string
	Size     string
	Releaser string
	Title    string
	Episode  string
	Quality  string
}

const packPrefix = `(?m)#([^\s\[]+)[^\[\n]*\[([^\]\n]*)\] \[([^\]\n]*)\] `

func packRegexp(title, quality string) *regexp.Regexp {
	q := `([^)\n]+)`
	if quality != "" {
		q = `(` + regexp.QuoteMeta(quality) + `)`
	}
	return regexp.MustCompile(packPrefix + regexp.QuoteMeta(title) + ` - ([^\n]+?) \(` + q + `\)`)
}

func collect(re *regexp.Regexp, text, title string) []Pack {
	var out []Pack
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		out = append(out, Pack{
			Number:   m[1],
			Size:     strings.TrimSpace(m[2]),
			Releaser: strings.TrimSpace(m[3]),
			Title:    title,
			Episode:  strings.TrimSpace(m[4]),
			Quality:  m[5],
		})
	}
	return out
}

// ParsePacks returns every pack for title in listing order. The title match
// is exact and case-sensitive.
func ParsePacks(text, title string) []Pack {
	if title == "" {
		return nil
	}
	return collect(packRegexp(title, ""), text, title)
}

// LatestByQuality keys the last n packs by quality; later lines win.
func LatestByQuality(packs []Pack, n int) map[string]Pack {
	if n <= 0 {
		n = 3
	}
	if len(packs) > n {
		packs = packs[len(packs)-n:]
	}
	out := make(map[string]Pack, len(packs))
	for _, p := range packs {
		out[p.Quality] = p
	}
	return out
}

// FindPack returns the last pack matching both title and quality.
func FindPack(text, title, quality string) (Pack, error) {
	if title == "" || quality == "" {
		return Pack{}, ErrPackNotFound
	}
	packs := collect(packRegexp(title, quality), text, title)
	if len(packs) == 0 {
		return Pack{}, ErrPackNotFound
	}
	return packs[len(packs)-1], nil
}
