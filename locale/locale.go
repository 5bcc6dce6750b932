// Package locale resolves the process locale from the environment.
//
// It follows POSIX setlocale(3) precedence for an empty locale name:
// LC_ALL, then the category's own variable, then LANG, then "C". Names
// are validated before any category changes, so a failed call leaves the
// process locale untouched.
package locale

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/language"
)

// Category selects which part of the locale to query or set.
type Category int

const (
	All Category = iota
	CType
	Collate
	Time
	Numeric
	Monetary
	Messages
)

// categories lists every concrete category in glibc composite order.
var categories = []Category{CType, Numeric, Time, Collate, Monetary, Messages}

func (c Category) String() string {
	switch c {
	case All:
		return "LC_ALL"
	case CType:
		return "LC_CTYPE"
	case Collate:
		return "LC_COLLATE"
	case Time:
		return "LC_TIME"
	case Numeric:
		return "LC_NUMERIC"
	case Monetary:
		return "LC_MONETARY"
	case Messages:
		return "LC_MESSAGES"
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

// Error reports a locale name the process cannot use.
type Error struct {
	Category Category
	Name     string
	Reason   string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("unsupported locale setting: %s=%q", e.Category, e.Name)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

// LookupFunc reads an environment variable.
type LookupFunc func(key string) (string, bool)

// Locale is a process locale table.
type Locale struct {
	lookup  LookupFunc
	current map[Category]string
	mu      sync.RWMutex
}

// New creates a locale table in the "C" locale that resolves empty names
// through lookup. A nil lookup reads the process environment.
func New(lookup LookupFunc) *Locale {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	l := &Locale{
		lookup:  lookup,
		current: make(map[Category]string, len(categories)),
	}
	for _, c := range categories {
		l.current[c] = "C"
	}
	return l
}

var (
	process     *Locale
	processOnce sync.Once
)

// Process returns the table for the running process.
func Process() *Locale {
	processOnce.Do(func() {
		process = New(nil)
	})
	return process
}

// Setlocale sets category to name and returns the resulting locale name.
// An empty name resolves from the environment.
func (l *Locale) Setlocale(category Category, name string) (string, error) {
	targets := []Category{category}
	if category == All {
		targets = categories
	} else if !category.valid() {
		return "", &Error{Category: category, Name: name, Reason: "unknown category"}
	}

	resolved := make(map[Category]string, len(targets))
	for _, c := range targets {
		n := name
		if n == "" {
			n = l.fromEnv(c)
		}
		if err := Validate(n); err != nil {
			return "", &Error{Category: c, Name: n, Reason: err.Error()}
		}
		resolved[c] = n
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for c, n := range resolved {
		l.current[c] = n
	}
	return l.nameLocked(category), nil
}

// Current returns the locale name of category.
func (l *Locale) Current(category Category) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nameLocked(category)
}

func (l *Locale) nameLocked(category Category) string {
	if category != All {
		return l.current[category]
	}

	first := l.current[categories[0]]
	uniform := true
	for _, c := range categories[1:] {
		if l.current[c] != first {
			uniform = false
			break
		}
	}
	if uniform {
		return first
	}

	parts := make([]string, 0, len(categories))
	for _, c := range categories {
		parts = append(parts, c.String()+"="+l.current[c])
	}
	return strings.Join(parts, ";")
}

func (l *Locale) fromEnv(c Category) string {
	for _, key := range []string{"LC_ALL", c.String(), "LANG"} {
		if v, ok := l.lookup(key); ok && v != "" {
			return v
		}
	}
	return "C"
}

func (c Category) valid() bool {
	return c >= CType && c <= Messages
}

// Validate checks a locale name of the form
// language[_TERRITORY][.codeset][@modifier], or C/POSIX.
func Validate(name string) error {
	lang, codeset, _ := split(name)
	if lang == "C" || lang == "POSIX" {
		return validateCodeset(codeset)
	}
	if lang == "" {
		return fmt.Errorf("empty language")
	}

	tag, err := language.Parse(strings.ReplaceAll(lang, "_", "-"))
	if err != nil {
		return fmt.Errorf("language %q: %w", lang, err)
	}
	if _, conf := tag.Base(); conf == language.No {
		return fmt.Errorf("language %q is not recognised", lang)
	}
	return validateCodeset(codeset)
}

func validateCodeset(codeset string) error {
	if codeset == "" {
		return nil
	}
	if _, err := ianaindex.IANA.Encoding(normalizeCodeset(codeset)); err != nil {
		return fmt.Errorf("codeset %q: %w", codeset, err)
	}
	return nil
}

// Codeset returns the lower-case codeset of a locale name. C and POSIX
// without an explicit codeset report "ascii". Other names without one,
// such as "en_US", report "utf-8", not the legacy charset glibc assigns
// to them.
func Codeset(name string) string {
	lang, codeset, _ := split(name)
	if codeset == "" {
		if lang == "" || lang == "C" || lang == "POSIX" {
			return "ascii"
		}
		return "utf-8"
	}
	return strings.ToLower(normalizeCodeset(codeset))
}

// split breaks a locale name into language_territory, codeset and modifier.
func split(name string) (lang, codeset, modifier string) {
	lang, modifier, _ = strings.Cut(name, "@")
	lang, codeset, _ = strings.Cut(lang, ".")
	return lang, codeset, modifier
}

// normalizeCodeset maps glibc spellings such as "utf8" to IANA names.
func normalizeCodeset(codeset string) string {
	switch strings.ToLower(strings.ReplaceAll(codeset, "-", "")) {
	case "utf8":
		return "UTF-8"
	case "iso88591":
		return "ISO-8859-1"
	case "iso885915":
		return "ISO-8859-15"
	case "eucjp":
		return "EUC-JP"
	}
	return codeset
}
