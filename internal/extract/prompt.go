package extract

import (
	"fmt"
	"strings"
	"time"
)

// Memory is the contextual memory handed to the model extractor: canonical
// venues near the service area, venues this account has used before, and
// recent human corrections.
type Memory struct {
	KnownVenues   []string
	AccountVenues []string
	Corrections   []string
}

const extractSystemPrompt = `You are an event-extraction analyst for a city gig map. You read multilingual social-media posts (English, Tagalog, Taglish) and extract structured event data.

Rules:
- Return ONLY a valid JSON object, no prose around it
- Use null for any field not present in the post; never invent values
- Dates are YYYY-MM-DD, times are HH:MM:SS in 24-hour format
- confidence is 0.0-1.0 for the extraction as a whole
- reasoning is a short natural-language audit trail of your decisions

Reject as NOT an event (isEvent=false):
- Promotional giveaways, contests, "tag 3 friends" posts
- Past-event language ("thank you for last night", "kitakits ulit", recaps)
- Generic operating hours ("open daily 10AM-10PM")
- Posts clearly about places outside the service area

Extraction rules:
- Date ranges ("Dec 12-14") fill eventDate and eventEndDate; expand localized month names (Enero..Disyembre, Dis, Okt, ...)
- Time ranges ("7PM-1AM") fill eventTime and endTime; an end time past midnight still belongs to the same event
- Multi-day lineups: each day inherits the stated time unless a day lists its own
- Prices: "500 presale / 800 door" sets priceMin=500 priceMax=800 price=500; "free entry" sets isFree=true; never output price 0
- Signup/ticket links: include URL shorteners (bit.ly, linktr.ee, forms.gle)
- Sub-events/lineups: the headline act or series title is eventTitle
- Recurring posts ("every Friday") set isRecurring and recurrencePattern, with eventDate the next occurrence on/after the post date
- Event date must not precede the post date unless recurrence implies the next occurrence`

// extractResponseShape documents the exact JSON keys the model must emit.
const extractResponseShape = `{"isEvent": bool, "eventTitle": string|null, "eventDate": "YYYY-MM-DD"|null, "eventEndDate": "YYYY-MM-DD"|null, "eventTime": "HH:MM:SS"|null, "endTime": "HH:MM:SS"|null, "locationName": string|null, "venueAddress": string|null, "price": number|null, "priceMin": number|null, "priceMax": number|null, "isFree": bool|null, "signupUrl": string|null, "category": string|null, "isRecurring": bool, "recurrencePattern": string|null, "isUpdate": bool, "updateType": string|null, "availabilityStatus": string|null, "locationStatus": string|null, "confidence": number, "reasoning": string}`

// BuildExtractionPrompt assembles the user message for one post.
func BuildExtractionPrompt(caption string, postedAt time.Time, now time.Time, mem Memory, ocrText string) string {
	var sb strings.Builder

	sb.WriteString("Extract event data from this social media post.\n\n")
	fmt.Fprintf(&sb, "Today's date: %s\n", now.Format("2006-01-02"))
	fmt.Fprintf(&sb, "Post date: %s\n\n", postedAt.Format("2006-01-02"))

	if len(mem.KnownVenues) > 0 {
		sb.WriteString("Known venues (use canonical spelling when the post matches one):\n")
		for _, v := range mem.KnownVenues {
			sb.WriteString("- " + v + "\n")
		}
		sb.WriteString("\n")
	}
	if len(mem.AccountVenues) > 0 {
		sb.WriteString("Venues this account has posted from before:\n")
		for _, v := range mem.AccountVenues {
			sb.WriteString("- " + v + "\n")
		}
		sb.WriteString("\n")
	}
	if len(mem.Corrections) > 0 {
		sb.WriteString("Recent human corrections to similar extractions (avoid repeating these mistakes):\n")
		for _, c := range mem.Corrections {
			sb.WriteString("- " + c + "\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Caption:\n")
	sb.WriteString(caption)
	sb.WriteString("\n")

	if ocrText != "" {
		sb.WriteString("\nText extracted from the poster image:\n")
		sb.WriteString(ocrText)
		sb.WriteString("\n")
	}

	sb.WriteString("\nRespond with exactly one JSON object of this shape:\n")
	sb.WriteString(extractResponseShape)

	return sb.String()
}

// strictRetrySuffix is appended on the retry after a malformed response.
const strictRetrySuffix = "\n\nYour previous response was not valid JSON. Respond with ONLY the JSON object. No markdown fences, no explanation, no text before or after."
