package validate

import (
	"net/url"
	"strings"

	"github.com/ppiankov/kycscan/internal/model"
)

// Built-in registries, courts, regulators and supranational bodies
var defaultPrimaryDomains = []string{
	"domstol.se",
	"bolagsverket.se",
	"fi.se",
	"polisen.se",
	"aklagare.se",
	"ekobrottsmyndigheten.se",
	"skatteverket.se",
	"kronofogden.se",
	"riksdagen.se",
	"regeringen.se",
	"lagrummet.se",
	"sanctionsmap.eu",
	"europa.eu",
	"un.org",
	"fatf-gafi.org",
	"interpol.int",
	"gov.uk",
}

// Built-in established news organizations
var defaultSecondaryDomains = []string{
	"svt.se",
	"sverigesradio.se",
	"dn.se",
	"svd.se",
	"aftonbladet.se",
	"expressen.se",
	"gp.se",
	"sydsvenskan.se",
	"di.se",
	"reuters.com",
	"apnews.com",
	"bbc.co.uk",
	"bbc.com",
	"ft.com",
	"bloomberg.com",
	"theguardian.com",
	"occrp.org",
}

// SourceClassifier assigns an authority tier to result URLs
type SourceClassifier struct {
	domainMap map[string]model.AuthorityTier
	primary   map[string]bool
	secondary map[string]bool
}

// NewSourceClassifier builds a classifier from the built-in lists plus cfg.
// A nil cfg uses the built-in lists only.
func NewSourceClassifier(cfg *model.AuthorityConfig) *SourceClassifier {
	c := &SourceClassifier{
		domainMap: make(map[string]model.AuthorityTier),
		primary:   make(map[string]bool),
		secondary: make(map[string]bool),
	}
	for _, d := range defaultPrimaryDomains {
		c.primary[d] = true
	}
	for _, d := range defaultSecondaryDomains {
		c.secondary[d] = true
	}
	if cfg == nil {
		return c
	}

	for _, d := range cfg.PrimaryDomains {
		c.primary[normalizeHost(d)] = true
	}
	for _, d := range cfg.SecondaryDomains {
		c.secondary[normalizeHost(d)] = true
	}
	for host, tier := range cfg.DomainMap {
		c.domainMap[normalizeHost(host)] = ParseTier(tier)
	}
	return c
}

// Classify returns the tier for rawURL. Unparseable URLs are tertiary.
func (c *SourceClassifier) Classify(rawURL string) model.AuthorityTier {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return model.TierTertiary
	}
	host := normalizeHost(parsed.Hostname())

	if tier, ok := c.domainMap[host]; ok {
		return tier
	}
	if matchesDomain(host, c.primary) {
		return model.TierPrimary
	}
	if matchesDomain(host, c.secondary) {
		return model.TierSecondary
	}

	// Government TLDs
	if strings.HasSuffix(host, ".gov") || strings.HasSuffix(host, ".mil") {
		return model.TierPrimary
	}

	return model.TierTertiary
}

// Annotate sets SourceTier on every item that does not have one yet
func (c *SourceClassifier) Annotate(items []model.SearchResultItem) {
	for i := range items {
		if items[i].SourceTier == model.TierUnknown {
			items[i].SourceTier = c.Classify(items[i].URL)
		}
	}
}

// matchesDomain checks host and each parent domain against set
func matchesDomain(host string, set map[string]bool) bool {
	for h := host; h != ""; {
		if set[h] {
			return true
		}
		i := strings.IndexByte(h, '.')
		if i < 0 {
			return false
		}
		h = h[i+1:]
	}
	return false
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimSuffix(host, ".")
	return strings.TrimPrefix(host, "www.")
}

// ParseTier converts a config string to AuthorityTier
func ParseTier(tier string) model.AuthorityTier {
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case "primary", "1":
		return model.TierPrimary
	case "secondary", "2":
		return model.TierSecondary
	default:
		return model.TierTertiary
	}
}
