package ext

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/wehubfusion/Courier/pkg/token"
)

var patternCache sync.Map

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if re, ok := patternCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	patternCache.Store(pattern, re)
	return re, nil
}

// regexMatch reports whether the pattern matches at the start of the candidate.
func regexMatch(args []any) (any, error) {
	pattern := token.Stringify(arg(args, 0))
	re, err := compilePattern(`^(?:` + pattern + `)`)
	if err != nil {
		return nil, err
	}
	return re.MatchString(token.Stringify(arg(args, 1))), nil
}

func regexNotMatch(args []any) (any, error) {
	matched, err := regexMatch(args)
	if err != nil {
		return nil, err
	}
	return !matched.(bool), nil
}

// regexSearch returns the named groups of the first match anywhere in the
// candidate. Non-string candidates never match.
func regexSearch(args []any) (any, error) {
	re, err := compilePattern(token.Stringify(arg(args, 0)))
	if err != nil {
		return nil, err
	}
	groups := map[string]any{}
	candidate, ok := arg(args, 1).(string)
	if !ok {
		return groups, nil
	}
	m := re.FindStringSubmatch(candidate)
	if m == nil {
		return groups, nil
	}
	for i, name := range re.SubexpNames() {
		if name != "" {
			groups[name] = m[i]
		}
	}
	return groups, nil
}
