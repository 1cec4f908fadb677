package core

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const maxNameLength = 255

// SanitizeName strips directory components from a client supplied file name
// and bounds its length. It returns "" when nothing usable remains.
func SanitizeName(name string) string {
	// filepath.Base is platform specific, normalize Windows separators first.
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimSpace(filepath.Base(name))

	if name == "" || name == "." || name == ".." || name == "/" {
		return ""
	}

	if len(name) > maxNameLength {
		ext := filepath.Ext(name)
		name = fitName(strings.TrimSuffix(name, ext), "", ext)
	}
	return name
}

// UniqueNames returns names with collisions resolved by suffixing: the second
// "a.txt" becomes "a_1.txt", the third "a_2.txt", and so on. Order is kept.
// The stem is shortened when needed so a suffixed name stays within the
// length limit.
func UniqueNames(names []string) []string {
	taken := make(map[string]bool, len(names))
	out := make([]string, len(names))

	for i, name := range names {
		candidate := name
		ext := filepath.Ext(name)
		stem := strings.TrimSuffix(name, ext)
		for n := 1; taken[candidate]; n++ {
			candidate = fitName(stem, fmt.Sprintf("_%d", n), ext)
		}
		taken[candidate] = true
		out[i] = candidate
	}
	return out
}

// fitName joins stem, suffix and ext, cutting the stem so the result is at
// most maxNameLength bytes. An extension too long to keep is treated as part
// of the stem.
func fitName(stem, suffix, ext string) string {
	room := maxNameLength - len(suffix) - len(ext)
	if room < 1 {
		stem, ext = stem+ext, ""
		room = maxNameLength - len(suffix)
	}
	return truncateUTF8(stem, room) + suffix + ext
}

// truncateUTF8 cuts s to at most n bytes without splitting a character.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
