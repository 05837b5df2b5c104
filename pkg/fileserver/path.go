package fileserver

import "strings"

// Separator is the DOS-style path separator ISO 11783-13 mandates;
// implemented directly since no example repo in the pack does
// DOS-style path handling (the stdlib's path/filepath package assumes
// either POSIX or host-OS separators, neither of which is "always
// backslash regardless of host").
const Separator = `\`

// Resolve joins a base directory and a relative path per ISO
// 11783-13 path semantics: absolute paths (beginning with `\\`) replace
// the base entirely; `.` is a no-op segment; `..` pops one segment,
// clamped at the root instead of escaping it.
func Resolve(base, rel string) string {
	segments := splitSegments(base)
	if strings.HasPrefix(rel, Separator+Separator) {
		segments = nil
		rel = rel[2:]
	} else if strings.HasPrefix(rel, Separator) {
		segments = nil
		rel = rel[1:]
	}

	for _, seg := range strings.Split(rel, Separator) {
		switch seg {
		case "", ".":
			// no-op
		case "..":
			if len(segments) > 0 {
				segments = segments[:len(segments)-1]
			}
		default:
			segments = append(segments, seg)
		}
	}
	return Separator + Separator + strings.Join(segments, Separator)
}

func splitSegments(path string) []string {
	trimmed := strings.TrimPrefix(path, Separator+Separator)
	trimmed = strings.TrimPrefix(trimmed, Separator)
	if trimmed == "" {
		return nil
	}
	var out []string
	for _, seg := range strings.Split(trimmed, Separator) {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// Base returns the final path component (the filename or directory
// name being referenced), and Dir returns everything before it.
func Base(path string) string {
	segs := splitSegments(path)
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

func Dir(path string) string {
	segs := splitSegments(path)
	if len(segs) <= 1 {
		return Separator + Separator
	}
	return Separator + Separator + strings.Join(segs[:len(segs)-1], Separator)
}

// MatchWildcard reports whether name matches a pattern using `*`
// (matches any run of characters, including none) and `?` (matches
// exactly one character), via greedy backtracking.
func MatchWildcard(pattern, name string) bool {
	return matchWildcard([]rune(pattern), []rune(name))
}

func matchWildcard(pattern, name []rune) bool {
	var pi, ni int
	starPi, starNi := -1, -1

	for ni < len(name) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == name[ni]):
			pi++
			ni++
		case pi < len(pattern) && pattern[pi] == '*':
			starPi = pi
			starNi = ni
			pi++
		case starPi != -1:
			// backtrack: let the last '*' absorb one more character.
			pi = starPi + 1
			starNi++
			ni = starNi
		default:
			return false
		}
	}

	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
