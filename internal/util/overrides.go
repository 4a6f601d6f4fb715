package util

import (
	"fmt"
	"sort"
	"strings"
)

// ParsedTags maps canonical DICOM keywords to override values. Multiple
// values are separated by a backslash, as in DICOM.
type ParsedTags map[string]string

// ParseTagFlags parses repeated "Keyword=Value" flags.
func ParseTagFlags(flags []string) (ParsedTags, error) {
	raw := make(map[string]string, len(flags))
	for _, f := range flags {
		name, value, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("invalid tag %q, expected 'TagName=Value'", f)
		}
		raw[name] = value
	}
	return ParseTagMap(raw)
}

// ParseTagMap canonicalizes and validates keyword overrides loaded from a
// configuration file.
func ParseTagMap(raw map[string]string) (ParsedTags, error) {
	parsed := make(ParsedTags, len(raw))
	for name, value := range raw {
		info, err := GetTagByName(name)
		if err != nil {
			return nil, err
		}
		if info.Reserved {
			return nil, fmt.Errorf("tag %s is computed from the volume and cannot be overridden", info.Name)
		}
		if _, dup := parsed[info.Name]; dup {
			return nil, fmt.Errorf("tag %s given more than once", info.Name)
		}
		parsed[info.Name] = value
	}
	return parsed, nil
}

// Keys returns the keywords in sorted order.
func (p ParsedTags) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Values returns the backslash-separated values of keyword.
func (p ParsedTags) Values(keyword string) ([]string, bool) {
	v, ok := p[keyword]
	if !ok {
		return nil, false
	}
	return strings.Split(v, `\`), true
}
