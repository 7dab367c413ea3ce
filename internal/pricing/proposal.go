package pricing

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yuin/goldmark"
)

// ProposalValidity is how long a generated proposal stays valid.
const ProposalValidity = 30 * 24 * time.Hour

const proposalMarkdown = `# {{.Brand}} AI Transformation Proposal

Generated on {{.Generated}}

{{if .Quote.Breakdown.Phases -}}
## Complete Phase Packages
{{range .Quote.Breakdown.Phases}}
### {{.Name}}: {{money .Price}}

Included components:
{{range .Components}}
- {{.Name}}: {{money .Price}}
{{- end}}

Individual value: {{money .IndividualValue}}. Package savings: **{{money .PackageSavings}}**.
{{end}}
{{end -}}
{{if .Quote.Breakdown.IndividualComponents -}}
## Individual Components
{{range .Quote.Breakdown.IndividualComponents}}
- {{.Name}} (Phase {{.Phase}}): {{money .Price}}
{{- end}}

{{end -}}
## Total Investment

**{{money .Quote.Breakdown.Total}}**
{{- if gt .Quote.Breakdown.Savings 0}}

You save {{money .Quote.Breakdown.Savings}} compared with buying every component individually.
{{- end}}

## Next Steps

1. Review this proposal with your team.
2. Book your free consultation to agree on an implementation timeline.
3. Start your 2-4 week implementation.
4. Begin capturing more qualified leads within 30 days.

---

This proposal is valid for 30 days from the date of generation (until {{.ValidUntil}}).
`

const proposalShell = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>AI Transformation Proposal - {{.Brand}}</title>
<style>
body { font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; margin: 0 auto; max-width: 860px; padding: 40px; color: #1e293b; line-height: 1.6; }
h1 { color: #1e3a8a; border-bottom: 3px solid #1e3a8a; padding-bottom: 20px; text-align: center; }
h2 { color: #1e3a8a; border-left: 4px solid #1e3a8a; padding-left: 15px; }
hr { border: 0; border-top: 1px solid #e2e8f0; margin-top: 40px; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`

var (
	markdownTmpl = texttemplate.Must(texttemplate.New("proposal.md").Funcs(texttemplate.FuncMap{
		"money": money,
	}).Parse(proposalMarkdown))
	shellTmpl = template.Must(template.New("proposal.html").Parse(proposalShell))
	markdown  = goldmark.New()
)

func money(v int64) string {
	if v < 0 {
		return "-$" + humanize.Comma(-v)
	}
	return "$" + humanize.Comma(v)
}

// RenderProposal renders a quote as a self-contained HTML document dated now.
func RenderProposal(q Quote, now time.Time) ([]byte, error) {
	var md bytes.Buffer
	err := markdownTmpl.Execute(&md, struct {
		Brand      string
		Generated  string
		ValidUntil string
		Quote      Quote
	}{
		Brand:      q.Brand,
		Generated:  now.Format("Monday, January 2, 2006"),
		ValidUntil: now.Add(ProposalValidity).Format("January 2, 2006"),
		Quote:      q,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render proposal markdown: %w", err)
	}

	var body bytes.Buffer
	if err := markdown.Convert(md.Bytes(), &body); err != nil {
		return nil, fmt.Errorf("failed to convert proposal markdown: %w", err)
	}

	var out bytes.Buffer
	err = shellTmpl.Execute(&out, struct {
		Brand string
		Body  template.HTML
	}{Brand: q.Brand, Body: template.HTML(body.String())})
	if err != nil {
		return nil, fmt.Errorf("failed to render proposal document: %w", err)
	}
	return out.Bytes(), nil
}

// ProposalFilename returns the download name for a proposal generated at now.
// The date is taken in UTC.
func ProposalFilename(brand string, now time.Time) string {
	brand = strings.Join(strings.Fields(brand), "")
	if brand == "" {
		brand = "Proposal"
	}
	return fmt.Sprintf("%s-AI-Proposal-%s.html", brand, now.UTC().Format("2006-01-02"))
}
