package auxdata

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// StyleFor chooses the auxdata style for a given language and compiler
// version. Vyper pre-release strings should already be normalized to
// semver form (see pkg/compiler) before being passed here.
func StyleFor(language string, version string) Style {
	if !strings.EqualFold(language, "vyper") {
		return StyleSolidityStandard
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		// Unparseable version: fall back to the most permissive (and
		// most common) trailing-auxdata layout rather than refusing to
		// locate anything.
		return StyleVyperGE0_3_10
	}

	switch {
	case v.LessThan(semver.MustParse("0.3.5")):
		return StyleVyperPre0_3_5
	case v.LessThan(semver.MustParse("0.3.10")):
		return StyleVyper0_3_5To9
	case v.LessThan(semver.MustParse("0.4.1")):
		return StyleVyperGE0_3_10
	default:
		return StyleVyperGE0_4_1
	}
}
