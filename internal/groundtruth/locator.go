package groundtruth

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gigmap/extract-cli/internal/extract"
	"github.com/gigmap/extract-cli/internal/model"
)

// token is a located candidate snippet inside a caption.
type token struct {
	text  string
	start int
	end   int
}

var (
	timeTokenRe = regexp.MustCompile(`(?i)\b\d{1,2}(?::[0-5]\d)?\s*(?:a\.?m\.?|p\.?m\.?|nn|mn|ng\s+(?:umaga|tanghali|hapon|gabi))|\b([01]?\d|2[0-3]):[0-5]\d\b`)

	dateMonthFirstRe = regexp.MustCompile(`(?i)\b(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|jun(?:e)?|jul(?:y)?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?|enero|pebrero|marso|abril|mayo|hunyo|hulyo|agosto|set(?:yembre)?|okt(?:ubre)?|nob(?:yembre)?|dis(?:yembre)?)\.?\s+\d{1,2}(?:\s*,?\s*\d{4})?\b`)
	dateDayFirstRe   = regexp.MustCompile(`(?i)\b\d{1,2}\s+(?:ng\s+)?(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|jun(?:e)?|jul(?:y)?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?|enero|pebrero|marso|abril|mayo|hunyo|hulyo|agosto|set(?:yembre)?|okt(?:ubre)?|nob(?:yembre)?|dis(?:yembre)?)\.?(?:\s*,?\s*\d{4})?\b`)
	dateNumericRe    = regexp.MustCompile(`\b\d{1,2}[/.-]\d{1,2}(?:[/.-]\d{2,4})?\b`)

	priceTokenRe = regexp.MustCompile(`(?i)(?:₱|php\s*|p)\s*\d[\d,]*(?:\.\d{2})?|\b\d[\d,]*\s*(?:pesos|php)\b`)

	rangeSepRe = regexp.MustCompile(`(?i)^[\s]*(?:[-–—~]|to|until|'?til|till|hanggang)[\s]*$`)

	pinLabelRe = regexp.MustCompile(`(?i)(?:📍|\bat\b|\bsa\b|@)\s*([^\n|#@]+)`)

	monthNumbers = map[string]int{
		"jan": 1, "january": 1, "enero": 1,
		"feb": 2, "february": 2, "pebrero": 2,
		"mar": 3, "march": 3, "marso": 3,
		"apr": 4, "april": 4, "abril": 4,
		"may": 5, "mayo": 5,
		"jun": 6, "june": 6, "hunyo": 6,
		"jul": 7, "july": 7, "hulyo": 7,
		"aug": 8, "august": 8, "agosto": 8,
		"sep": 9, "sept": 9, "september": 9, "set": 9, "setyembre": 9,
		"oct": 10, "october": 10, "okt": 10, "oktubre": 10,
		"nov": 11, "november": 11, "nob": 11, "nobyembre": 11,
		"dec": 12, "december": 12, "dis": 12, "disyembre": 12,
	}
)

// Locator finds the literal caption substring behind a normalized field
// value. Every located snippet must re-derive the stored value; a null
// result is preferred over a plausible but wrong snippet.
type Locator struct{}

func NewLocator() *Locator { return &Locator{} }

// Locate returns the verbatim snippet for the given field, or nil when no
// snippet could be isolated that round-trips to the normalized value.
func (l *Locator) Locate(caption string, field model.FieldName, normalized string) *string {
	var snippet *string
	switch field {
	case model.FieldEndTime:
		snippet = locateRangeEnd(caption, timeTokens(caption), timeRoundTrips(normalized))
	case model.FieldEventEndDate:
		snippet = locateRangeEnd(caption, dateTokens(caption), dateRoundTrips(normalized))
	case model.FieldEventTime:
		snippet = locateFirst(timeTokens(caption), timeRoundTrips(normalized))
	case model.FieldEventDate:
		snippet = locateFirst(dateTokens(caption), dateRoundTrips(normalized))
	case model.FieldVenueName:
		snippet = locateVenue(caption, normalized)
	case model.FieldPrice:
		snippet = locateFirst(priceTokens(caption), priceRoundTrips(normalized))
	case model.FieldSignupURL:
		snippet = locateExact(caption, normalized)
	default:
		snippet = locateExact(caption, normalized)
	}
	if snippet != nil && !validSnippet(*snippet) {
		return nil
	}
	return snippet
}

// locateRangeEnd finds an "A-B" / "A to B" / "A until B" span among the
// located tokens and returns the SECOND token when it round-trips. No
// standalone fallback: a range whose end can't be verified yields nil.
func locateRangeEnd(caption string, toks []token, roundTrips func(string) bool) *string {
	for i := 0; i+1 < len(toks); i++ {
		between := caption[toks[i].end:toks[i+1].start]
		if !rangeSepRe.MatchString(between) {
			continue
		}
		end := strings.TrimSpace(toks[i+1].text)
		if roundTrips(end) {
			return &end
		}
		return nil
	}
	return nil
}

// locateFirst returns the first standalone token that re-derives the value.
func locateFirst(toks []token, roundTrips func(string) bool) *string {
	for _, tk := range toks {
		t := strings.TrimSpace(tk.text)
		if roundTrips(t) {
			return &t
		}
	}
	return nil
}

// locateVenue accepts only an exact substring of the caption or a
// pin-emoji/"at X" labeled mention containing the venue. Free text and bare
// handles are never returned.
func locateVenue(caption, venue string) *string {
	if start, end := indexFold(caption, venue); start >= 0 {
		s := caption[start:end]
		return &s
	}
	for _, m := range pinLabelRe.FindAllStringSubmatch(caption, -1) {
		candidate := strings.TrimSpace(m[1])
		if candidate == "" || strings.HasPrefix(candidate, "@") {
			continue
		}
		if extract.NormalizedContains(candidate, venue) {
			return &candidate
		}
	}
	return nil
}

func locateExact(caption, value string) *string {
	if start, end := indexFold(caption, value); start >= 0 {
		s := caption[start:end]
		return &s
	}
	return nil
}

// indexFold finds a case-insensitive occurrence of needle and returns its
// byte bounds in the original haystack. Folding rune by rune keeps offsets
// valid for captions where lowercasing changes byte widths.
func indexFold(haystack, needle string) (int, int) {
	if needle == "" {
		return -1, -1
	}
	nRunes := utf8.RuneCountInString(needle)
	for i := 0; i < len(haystack); {
		j, count := i, 0
		for j < len(haystack) && count < nRunes {
			_, size := utf8.DecodeRuneInString(haystack[j:])
			j += size
			count++
		}
		if count == nRunes && strings.EqualFold(haystack[i:j], needle) {
			return i, j
		}
		_, size := utf8.DecodeRuneInString(haystack[i:])
		i += size
	}
	return -1, -1
}

// validSnippet rejects snippets that are too short or mostly
// symbols/mentions/hashtags.
func validSnippet(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return false
	}
	if strings.HasPrefix(s, "#") || strings.HasPrefix(s, "@") {
		return false
	}
	var alnum, total int
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}
	return total > 0 && float64(alnum)/float64(total) >= 0.5
}

func timeTokens(caption string) []token {
	return findTokens(caption, timeTokenRe)
}

func dateTokens(caption string) []token {
	toks := findTokens(caption, dateMonthFirstRe)
	toks = append(toks, findTokens(caption, dateDayFirstRe)...)
	toks = append(toks, findTokens(caption, dateNumericRe)...)
	return sortTokens(dedupeOverlaps(toks))
}

func priceTokens(caption string) []token {
	return findTokens(caption, priceTokenRe)
}

func findTokens(caption string, re *regexp.Regexp) []token {
	var toks []token
	for _, loc := range re.FindAllStringIndex(caption, -1) {
		toks = append(toks, token{text: caption[loc[0]:loc[1]], start: loc[0], end: loc[1]})
	}
	return toks
}

func sortTokens(toks []token) []token {
	for i := 1; i < len(toks); i++ {
		for j := i; j > 0 && toks[j].start < toks[j-1].start; j-- {
			toks[j], toks[j-1] = toks[j-1], toks[j]
		}
	}
	return toks
}

// dedupeOverlaps keeps the longest token when two regexes match the same
// span (e.g. the numeric matcher inside a month-name match).
func dedupeOverlaps(toks []token) []token {
	toks = sortTokens(toks)
	var out []token
	for _, t := range toks {
		overlapped := false
		for i, kept := range out {
			if t.start < kept.end && kept.start < t.end {
				overlapped = true
				if t.end-t.start > kept.end-kept.start {
					out[i] = t
				}
				break
			}
		}
		if !overlapped {
			out = append(out, t)
		}
	}
	return out
}

// RoundTrips reports whether a raw token re-derives the normalized value for
// a pattern type. Used both by the locator and by synthesis replay.
func RoundTrips(pt model.PatternType, raw, normalized string) bool {
	raw = strings.TrimSpace(raw)
	switch pt {
	case model.PatternTime:
		return timeRoundTrips(normalized)(raw)
	case model.PatternDate:
		return dateRoundTrips(normalized)(raw)
	case model.PatternPrice:
		return priceRoundTrips(normalized)(raw)
	default:
		return extract.NormalizedContains(raw, normalized)
	}
}

// timeRoundTrips reports whether a raw time token normalizes to the stored
// HH:MM:SS value.
func timeRoundTrips(normalized string) func(string) bool {
	return func(raw string) bool {
		got, ok := normalizeTimeToken(raw)
		return ok && got == normalized
	}
}

// dateRoundTrips compares month/day (and year when the token carries one)
// against the stored YYYY-MM-DD value. Year is contextual and may be absent
// from the caption.
func dateRoundTrips(normalized string) func(string) bool {
	wantYear, wantMonth, wantDay, ok := splitISODate(normalized)
	return func(raw string) bool {
		if !ok {
			return false
		}
		month, day, year, parsed := parseDateToken(raw)
		if !parsed || month != wantMonth || day != wantDay {
			return false
		}
		return year == 0 || year == wantYear
	}
}

// priceRoundTrips compares the token's digits against the stored amount.
func priceRoundTrips(normalized string) func(string) bool {
	want, err := strconv.ParseFloat(normalized, 64)
	return func(raw string) bool {
		if err != nil {
			return false
		}
		digits := strings.Map(func(r rune) rune {
			if unicode.IsDigit(r) || r == '.' {
				return r
			}
			return -1
		}, raw)
		got, perr := strconv.ParseFloat(strings.TrimSuffix(digits, "."), 64)
		return perr == nil && got == want
	}
}

func normalizeTimeToken(raw string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, ".", "")

	meridiem := ""
	switch {
	case strings.HasSuffix(s, "am"):
		meridiem, s = "am", strings.TrimSpace(strings.TrimSuffix(s, "am"))
	case strings.HasSuffix(s, "pm"):
		meridiem, s = "pm", strings.TrimSpace(strings.TrimSuffix(s, "pm"))
	case strings.HasSuffix(s, "nn"):
		meridiem, s = "nn", strings.TrimSpace(strings.TrimSuffix(s, "nn"))
	case strings.HasSuffix(s, "mn"):
		meridiem, s = "mn", strings.TrimSpace(strings.TrimSuffix(s, "mn"))
	case strings.Contains(s, "ng umaga"):
		meridiem, s = "am", strings.TrimSpace(strings.Split(s, "ng")[0])
	case strings.Contains(s, "ng tanghali"):
		meridiem, s = "nn", strings.TrimSpace(strings.Split(s, "ng")[0])
	case strings.Contains(s, "ng hapon"), strings.Contains(s, "ng gabi"):
		meridiem, s = "pm", strings.TrimSpace(strings.Split(s, "ng")[0])
	}

	hour, minute := 0, 0
	if h, m, found := strings.Cut(s, ":"); found {
		hv, herr := strconv.Atoi(strings.TrimSpace(h))
		mv, merr := strconv.Atoi(strings.TrimSpace(m))
		if herr != nil || merr != nil {
			return "", false
		}
		hour, minute = hv, mv
	} else {
		hv, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return "", false
		}
		hour = hv
	}

	switch meridiem {
	case "am":
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour != 12 {
			hour += 12
		}
	case "nn":
		hour = 12
	case "mn":
		hour = 0
	case "":
		// 24h token; keep as-is.
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d:00", hour, minute), true
}

// parseDateToken extracts month, day, and optional year from a raw date
// mention. Numeric tokens are read month-first.
func parseDateToken(raw string) (month, day, year int, ok bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, ",", " ")
	s = strings.ReplaceAll(s, ".", " ")

	if dateNumericRe.MatchString(s) && !strings.ContainsAny(s, "abcdefghijklmnopqrstuvwxyz") {
		parts := strings.FieldsFunc(s, func(r rune) bool { return r == '/' || r == '-' })
		if len(parts) < 2 {
			return 0, 0, 0, false
		}
		m, _ := strconv.Atoi(parts[0])
		d, _ := strconv.Atoi(parts[1])
		y := 0
		if len(parts) >= 3 {
			y, _ = strconv.Atoi(parts[2])
			if y < 100 {
				y += 2000
			}
		}
		if m < 1 || m > 12 || d < 1 || d > 31 {
			return 0, 0, 0, false
		}
		return m, d, y, true
	}

	fields := strings.Fields(s)
	for i, f := range fields {
		if m, isMonth := monthNumbers[f]; isMonth {
			rest := append(append([]string{}, fields[:i]...), fields[i+1:]...)
			var nums []int
			for _, r := range rest {
				if r == "ng" {
					continue
				}
				if n, err := strconv.Atoi(r); err == nil {
					nums = append(nums, n)
				}
			}
			switch len(nums) {
			case 1:
				return m, nums[0], 0, nums[0] >= 1 && nums[0] <= 31
			case 2:
				d, y := nums[0], nums[1]
				if y < 32 && d > 31 {
					d, y = y, d
				}
				if y < 100 {
					y += 2000
				}
				return m, d, y, d >= 1 && d <= 31
			}
			return 0, 0, 0, false
		}
	}
	return 0, 0, 0, false
}

func splitISODate(s string) (year, month, day int, ok bool) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 3 {
		return 0, 0, 0, false
	}
	y, e1 := strconv.Atoi(parts[0])
	m, e2 := strconv.Atoi(parts[1])
	d, e3 := strconv.Atoi(parts[2])
	if e1 != nil || e2 != nil || e3 != nil {
		return 0, 0, 0, false
	}
	return y, m, d, true
}
