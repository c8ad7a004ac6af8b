package page

import (
	"os"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Subtitle is a locally available text track of a video.
type Subtitle struct {
	Code    string `json:"code"`
	English string `json:"english"`
	Native  string `json:"native"`
}

// nonStandard are codes the platform uses outside of the regular language tables.
var nonStandard = map[string]Subtitle{
	"zh-Hans": {Code: "zh-Hans", English: "Simplified Chinese", Native: "简化字"},
	"zh-Hant": {Code: "zh-Hant", English: "Traditional Chinese", Native: "正體字"},
	"iw":      {Code: "iw", English: "Hebrew", Native: "עברית"},
}

var englishNames = display.Languages(language.English)

// LanguageNames returns the English and native names of a language code.
// Unknown codes are returned as their own name.
func LanguageNames(code string) Subtitle {
	if s, ok := nonStandard[code]; ok {
		return s
	}
	s := Subtitle{Code: code, English: code, Native: code}
	tag, err := language.Parse(code)
	if err != nil {
		return s
	}
	if name := englishNames.Name(tag); name != "" {
		s.English = name
		s.Native = name
	}
	if name := display.Self.Name(tag); name != "" {
		s.Native = name
	}
	return s
}

// Subtitles lists the video.<lang>.vtt files of a video directory, sorted by code.
// A missing directory has no subtitles.
func Subtitles(videoDir string) ([]Subtitle, error) {
	entries, err := os.ReadDir(videoDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var subs []Subtitle
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "video.") || !strings.HasSuffix(name, ".vtt") {
			continue
		}
		code := strings.TrimSuffix(strings.TrimPrefix(name, "video."), ".vtt")
		if code == "" {
			continue
		}
		subs = append(subs, LanguageNames(code))
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].Code < subs[j].Code })
	return subs, nil
}
