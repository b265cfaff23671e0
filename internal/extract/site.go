package extract

import "strings"

// Site describes where the readable content lives on a family of sites
type Site struct {
	Name    string
	Hosts   []string // Host suffixes, e.g. "wikipedia.org"
	Content string   // Selector of the main content root
	Drop    []string // Selectors removed before text extraction
}

// Matches reports whether host belongs to the site
func (s Site) Matches(host string) bool {
	host = strings.ToLower(host)
	for _, h := range s.Hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// commonDrop is boilerplate removed from every page
var commonDrop = []string{
	"script", "style", "noscript", "template", "iframe", "svg", "form",
	"nav", "footer", "aside", "[role=navigation]", "[aria-hidden=true]",
	".cookie-banner", "#cookie-banner", ".advertisement", ".ad",
}

// Sites is the registry of site profiles; the first match wins
type Sites struct {
	sites   []Site
	generic Site
}

// NewSites returns the built-in profiles
func NewSites() *Sites {
	s := &Sites{
		generic: Site{
			Name:    "generic",
			Content: "article, main, [role=main], #content, .article-body",
		},
	}
	s.Register(Site{
		Name:    "wikipedia",
		Hosts:   []string{"wikipedia.org"},
		Content: "#mw-content-text",
		Drop:    []string{".reference", ".navbox", ".mw-editsection", ".infobox-image", "#toc"},
	})
	s.Register(Site{
		Name:    "court",
		Hosts:   []string{"domstol.se", "lagen.nu", "riksdagen.se", "curia.europa.eu", "courtlistener.com"},
		Content: "main, #content, .content, article",
		Drop:    []string{".breadcrumbs", ".share"},
	})
	s.Register(Site{
		Name:    "registry",
		Hosts:   []string{"allabolag.se", "bolagsverket.se", "opencorporates.com", "proff.se"},
		Content: "main, #content, .company-information",
		Drop:    []string{".promo", ".upsell"},
	})
	return s
}

// Register adds a site profile ahead of the generic fallback
func (s *Sites) Register(site Site) {
	s.sites = append(s.sites, site)
}

// For returns the profile for host, falling back to generic
func (s *Sites) For(host string) Site {
	for _, site := range s.sites {
		if site.Matches(host) {
			return site
		}
	}
	return s.generic
}
