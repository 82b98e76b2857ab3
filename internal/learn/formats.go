package learn

import (
	"regexp"
	"strings"

	"github.com/gigmap/extract-cli/internal/model"
)

// Format labels the sub-format of a sample's literal text. Clustering is a
// pure function of the text so repeated synthesis runs build identical
// clusters.
type Format string

const (
	FormatDateMonthFirst Format = "date_month_first"
	FormatDateDayFirst   Format = "date_day_first"
	FormatDateSlash      Format = "date_numeric_slash"
	FormatDateDash       Format = "date_numeric_dash"
	FormatDateLocalized  Format = "date_localized_month"

	FormatTime12h       Format = "time_12h_meridiem"
	FormatTime24h       Format = "time_24h"
	FormatTimeLocalized Format = "time_localized"

	FormatPriceSymbol Format = "price_currency_symbol"
	FormatPriceWord   Format = "price_prefix_word"
	FormatPriceRange  Format = "price_range"

	FormatURLShortener Format = "url_shortener"
	FormatURLPlain     Format = "url_plain"

	FormatOther Format = "other"
)

var (
	englishMonthRe   = regexp.MustCompile(`(?i)\b(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|jun(?:e)?|jul(?:y)?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\b`)
	localizedMonthRe = regexp.MustCompile(`(?i)\b(?:enero|pebrero|marso|abril|mayo|hunyo|hulyo|agosto|set(?:yembre)?|okt(?:ubre)?|nob(?:yembre)?|dis(?:yembre)?)\b`)
	dayBeforeMonthRe = regexp.MustCompile(`(?i)^\s*\d{1,2}\s`)
	slashDateRe      = regexp.MustCompile(`\d{1,2}/\d{1,2}`)
	dashDateRe       = regexp.MustCompile(`\d{1,2}-\d{1,2}`)

	meridiemRe       = regexp.MustCompile(`(?i)\d\s*(?:a\.?m\.?|p\.?m\.?|nn|mn)\b`)
	twentyFourRe     = regexp.MustCompile(`\b([01]?\d|2[0-3]):[0-5]\d\b`)
	localizedTimeRe  = regexp.MustCompile(`(?i)\d\s*ng\s+(?:umaga|tanghali|hapon|gabi)`)
	priceRangeRe     = regexp.MustCompile(`\d\s*(?:-|–|to|/)\s*(?:₱|php\s*|p)?\s*\d`)
	currencySymbolRe = regexp.MustCompile(`(?i)₱|php|\bp\d`)
	priceWordRe      = regexp.MustCompile(`(?i)\b(?:pesos?|entrance|door|dmg|damage|cover|presale|tickets?)\b`)
	shortenerRe      = regexp.MustCompile(`(?i)\b(?:bit\.ly|linktr\.ee|forms\.gle|tinyurl\.com|goo\.gl|lu\.ma)\b`)
)

// DetectFormat classifies one sample text for its pattern type.
func DetectFormat(pt model.PatternType, text string) Format {
	switch pt {
	case model.PatternDate:
		return detectDateFormat(text)
	case model.PatternTime:
		return detectTimeFormat(text)
	case model.PatternPrice:
		return detectPriceFormat(text)
	case model.PatternSignupURL:
		return detectURLFormat(text)
	default:
		return FormatOther
	}
}

func detectDateFormat(text string) Format {
	switch {
	case localizedMonthRe.MatchString(text):
		return FormatDateLocalized
	case englishMonthRe.MatchString(text):
		if dayBeforeMonthRe.MatchString(text) {
			return FormatDateDayFirst
		}
		return FormatDateMonthFirst
	case slashDateRe.MatchString(text):
		return FormatDateSlash
	case dashDateRe.MatchString(text):
		return FormatDateDash
	default:
		return FormatOther
	}
}

func detectTimeFormat(text string) Format {
	switch {
	case localizedTimeRe.MatchString(text):
		return FormatTimeLocalized
	case meridiemRe.MatchString(text):
		return FormatTime12h
	case twentyFourRe.MatchString(text):
		return FormatTime24h
	default:
		return FormatOther
	}
}

func detectPriceFormat(text string) Format {
	switch {
	case priceRangeRe.MatchString(text):
		return FormatPriceRange
	case currencySymbolRe.MatchString(text):
		return FormatPriceSymbol
	case priceWordRe.MatchString(text):
		return FormatPriceWord
	default:
		return FormatOther
	}
}

func detectURLFormat(text string) Format {
	if shortenerRe.MatchString(text) {
		return FormatURLShortener
	}
	if strings.Contains(text, ".") {
		return FormatURLPlain
	}
	return FormatOther
}
