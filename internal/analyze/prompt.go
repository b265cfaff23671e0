package analyze

import (
	"fmt"
	"strings"

	"github.com/ppiankov/kycscan/internal/model"
)

const systemPrompt = "You are a compliance analyst performing adverse media screening for KYC. " +
	"You answer with a single JSON object and nothing else."

// Subject is the screened identity as the analyzer sees it
type Subject struct {
	IndividualName string
	CompanyName    string
	AdditionalInfo string
	Keywords       []string
}

// SubjectFromRequest builds a Subject using already-mapped keyword terms
func SubjectFromRequest(req model.SearchRequest, terms []string) Subject {
	return Subject{
		IndividualName: req.IndividualName,
		CompanyName:    req.CompanyName,
		AdditionalInfo: req.AdditionalInfo,
		Keywords:       terms,
	}
}

// Snippet is the search-result metadata analyzed when a page could not be fetched
type Snippet struct {
	Title       string
	Description string
	URL         string
}

// BuildContentPrompt renders the rubric around full page content
func BuildContentPrompt(s Subject, content string) string {
	var b strings.Builder
	writeTarget(&b, s)
	writeRubric(&b, s, "content")
	b.WriteString("CONTENT TO ANALYZE:\n")
	b.WriteString(content)
	b.WriteString("\n\n")
	writeResponseFormat(&b)
	return b.String()
}

// BuildSnippetPrompt renders the rubric around a search snippet
func BuildSnippetPrompt(s Subject, sn Snippet) string {
	var b strings.Builder
	writeTarget(&b, s)
	writeRubric(&b, s, "search result")
	fmt.Fprintf(&b, "SEARCH RESULT:\nTitle: %s\nDescription: %s\nURL: %s\n\n", sn.Title, sn.Description, sn.URL)
	writeResponseFormat(&b)
	return b.String()
}

func writeTarget(b *strings.Builder, s Subject) {
	b.WriteString("Perform an adverse media check for KYC (Know Your Customer) compliance.\n\n")
	fmt.Fprintf(b, "TARGET INDIVIDUAL: %q\n", s.IndividualName)
	if s.AdditionalInfo != "" {
		fmt.Fprintf(b, "ADDITIONAL CONTEXT: %s\n", s.AdditionalInfo)
	}
	if s.CompanyName != "" {
		fmt.Fprintf(b, "ASSOCIATED COMPANY: %s\n", s.CompanyName)
	}
	if len(s.Keywords) > 0 {
		fmt.Fprintf(b, "KEYWORDS OF INTEREST: %s\n", strings.Join(s.Keywords, ", "))
	}
	b.WriteString("\n")
}

func writeRubric(b *strings.Builder, s Subject, what string) {
	fmt.Fprintf(b, `STEP 1: ENTITY VERIFICATION
Decide whether the %[1]s is about the target individual and not a namesake. Weigh:
- full name match (an exact match is strongest)
- alignment of location, profession, company and other context
- how common the name is
- whether the information is recent

STEP 2: ADVERSE MEDIA
Only if the %[1]s is about the target individual, list adverse mentions such as:
- criminal activity or allegations
- fraud or financial misconduct
- sanctions or watchlist appearances
- political exposure or corruption
- litigation or regulatory violations
- reputational scandals
`, what)
	if len(s.Keywords) > 0 {
		fmt.Fprintf(b, "- any mention of: %s\n", strings.Join(s.Keywords, ", "))
	}
	fmt.Fprintf(b, `
STEP 3: RELATIONSHIPS
Only if the %s is about the target individual, list people or organizations connected to them.
Type is one of: family, business, political, criminal, other.

`, what)
}

func writeResponseFormat(b *strings.Builder) {
	b.WriteString(`Respond with one JSON object:
{
  "riskScore": <0-100, 0 if not about the target>,
  "adverseContent": [<specific adverse findings, empty if not about the target>],
  "summary": "<short summary>",
  "entityMatch": {
    "isExactMatch": <true only if definitely the target>,
    "confidence": <0-100>,
    "reason": "<why>"
  },
  "relationships": [
    {"name": "<name>", "type": "<family|business|political|criminal|other>", "description": "<how connected>", "confidence": <0-100>}
  ]
}
Return only the JSON object, without markdown or commentary.`)
}
