package sandbox

import (
	"cmp"
	"slices"
	"strconv"
	"strings"
)

// Target is the catalog language and version a player language maps to.
// Version "*" accepts whichever version the catalog offers.
type Target struct {
	Language string
	Version  string
}

var languages = map[string]Target{
	"javascript": {Language: "javascript", Version: "*"},
	"python":     {Language: "python", Version: "3"},
	"java":       {Language: "java", Version: "*"},
	"cpp":        {Language: "c++", Version: "*"},
	"c":          {Language: "c", Version: "*"},
	"go":         {Language: "go", Version: "*"},
	"rust":       {Language: "rust", Version: "*"},
	"typescript": {Language: "typescript", Version: "*"},
}

// LookupLanguage returns the target of a lower cased player language.
func LookupLanguage(name string) (Target, bool) {
	t, ok := languages[name]
	return t, ok
}

// Languages lists the supported player languages, sorted.
func Languages() []string {
	out := make([]string, 0, len(languages))
	for name := range languages {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// pickRuntime returns the newest catalog entry matching the target language
// by name or alias, or the player language by alias. A version other than
// "*" must prefix the catalog version.
func pickRuntime(catalog []Runtime, name string, target Target) (Runtime, bool) {
	var best Runtime
	found := false
	for _, rt := range catalog {
		if rt.Language != target.Language &&
			!slices.Contains(rt.Aliases, target.Language) &&
			!slices.Contains(rt.Aliases, name) {
			continue
		}
		if target.Version != "*" && !strings.HasPrefix(rt.Version, target.Version) {
			continue
		}
		if !found || compareVersions(rt.Version, best.Version) > 0 {
			best, found = rt, true
		}
	}
	return best, found
}

// compareVersions orders dotted numeric versions; non numeric parts compare as 0.
func compareVersions(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < max(len(as), len(bs)); i++ {
		var x, y int
		if i < len(as) {
			x, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			y, _ = strconv.Atoi(bs[i])
		}
		if x != y {
			return cmp.Compare(x, y)
		}
	}
	return 0
}
