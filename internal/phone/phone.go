// Package phone normalises stock numbers and maps between country names and
// ISO 3166 region codes.
package phone

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nyaruka/phonenumbers"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

var ErrInvalidNumber = errors.New("invalid phone number")

// Normalize parses an international number (leading + required) and returns
// it in E.164 form together with its region code.
func Normalize(raw string) (string, string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "+") {
		return "", "", fmt.Errorf("%w: %q must start with +country code", ErrInvalidNumber, raw)
	}

	num, err := phonenumbers.Parse(raw, "")
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidNumber, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidNumber, raw)
	}

	return phonenumbers.Format(num, phonenumbers.E164), phonenumbers.GetRegionCodeForNumber(num), nil
}

// CountryName returns the English name of a region code, or the code itself
// when it is unknown.
func CountryName(region string) string {
	r, err := language.ParseRegion(region)
	if err != nil {
		return region
	}
	if name := display.English.Regions().Name(r); name != "" {
		return name
	}
	return region
}

type regionName struct {
	code string
	name string
}

var (
	regionsOnce sync.Once
	regions     []regionName
)

func knownRegions() []regionName {
	regionsOnce.Do(func() {
		for code := range phonenumbers.GetSupportedRegions() {
			regions = append(regions, regionName{code: code, name: strings.ToLower(CountryName(code))})
		}
		sort.Slice(regions, func(i, j int) bool { return regions[i].code < regions[j].code })
	})
	return regions
}

// RegionForCountry resolves "IN", "india" or "United States" to a region
// code. Exact names win over partial matches; among partial matches a
// name prefix wins, then the shortest name.
func RegionForCountry(input string) (string, bool) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", false
	}

	all := knownRegions()
	if len(s) == 2 {
		code := strings.ToUpper(s)
		for _, r := range all {
			if r.code == code {
				return code, true
			}
		}
		return "", false
	}

	needle := strings.ToLower(s)
	switch needle {
	case "usa", "us", "america":
		return "US", true
	case "uk", "britain", "england":
		return "GB", true
	case "korea":
		return "KR", true
	}

	for _, r := range all {
		if r.name == needle {
			return r.code, true
		}
	}

	best, bestRank := regionName{}, 0
	for _, r := range all {
		rank := matchRank(r.name, needle)
		if rank == 0 {
			continue
		}
		if rank > bestRank || (rank == bestRank && len(r.name) < len(best.name)) {
			best, bestRank = r, rank
		}
	}
	if bestRank == 0 {
		return "", false
	}
	return best.code, true
}

// matchRank scores a partial match: 3 for a prefix of the name, 2 for a
// word start inside it, 1 for any other substring and 0 for no match.
func matchRank(name, needle string) int {
	i := strings.Index(name, needle)
	switch {
	case i < 0:
		return 0
	case i == 0:
		return 3
	case name[i-1] == ' ':
		return 2
	}
	return 1
}
