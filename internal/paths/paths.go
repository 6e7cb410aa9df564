package paths

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultFolderPattern groups files into one folder per Genus_species.
const DefaultFolderPattern = "{gen}_{sp}"

// Define allowed tags using a map for easy lookup
var allowedTags = map[string]struct{}{
	"gen": {},
	"sp":  {},
	"ssp": {},
	"en":  {},
	"grp": {},
	"cnt": {},
	"id":  {},
}

// Regex to find tags like {gen}
var tagRegex = regexp.MustCompile(`\{([^}]+)\}`)

var invalidChars = strings.NewReplacer(
	"<", "_",
	">", "_",
	":", "_",
	`"`, "_",
	"/", "_",
	`\`, "_",
	"|", "_",
	"?", "_",
	"*", "_",
)

// SanitizeName replaces characters that are invalid in file names on common
// filesystems (< > : " / \ | ? *) with underscores, then strips leading and
// trailing dots and spaces.
func SanitizeName(name string) string {
	return strings.Trim(invalidChars.Replace(name), ". ")
}

// ValidatePattern returns an error for tags GeneratePath would reject.
func ValidatePattern(pattern string) error {
	for _, match := range tagRegex.FindAllStringSubmatch(pattern, -1) {
		if _, ok := allowedTags[match[1]]; !ok {
			return fmt.Errorf("unknown tag found in folder pattern: %s", match[0])
		}
	}
	return nil
}

// GeneratePath substitutes {tag} placeholders in pattern with values from data.
// Substituted values cannot introduce path separators; each resulting path
// segment is sanitized with SanitizeName. Missing or empty values become "unknown".
func GeneratePath(pattern string, data map[string]string) (string, error) {
	if err := ValidatePattern(pattern); err != nil {
		return "", err
	}

	generated := tagRegex.ReplaceAllStringFunc(pattern, func(tagWithBraces string) string {
		tagName := tagWithBraces[1 : len(tagWithBraces)-1]
		value := strings.TrimSpace(data[tagName])
		if value == "" {
			value = "unknown"
		}
		return invalidChars.Replace(value)
	})

	segments := strings.Split(filepath.ToSlash(generated), "/")
	cleaned := make([]string, 0, len(segments))
	for _, seg := range segments {
		if strings.TrimSpace(seg) == "" {
			continue
		}
		s := SanitizeName(seg)
		if s == "" {
			s = "unknown"
		}
		cleaned = append(cleaned, s)
	}
	if len(cleaned) == 0 {
		return "", fmt.Errorf("folder pattern resulted in an empty path: '%s'", pattern)
	}

	return filepath.Join(cleaned...), nil
}
