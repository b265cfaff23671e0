package query

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Dictionary maps keyword tag IDs to locale-specific search terms
type Dictionary map[string]string

// Category groups tag IDs for presentation
type Category struct {
	ID   string   `yaml:"id" json:"id"`
	Name string   `yaml:"name" json:"name"`
	Tags []string `yaml:"tags" json:"tags"`
}

// DefaultDictionary returns the Swedish adverse-media dictionary.
// Wildcard suffixes match inflected forms.
func DefaultDictionary() Dictionary {
	return Dictionary{
		"corruption":        "korruption",
		"sanctions":         "sanktion*",
		"economic-crime":    "ekonomisk brottslighet",
		"prosecution":       "åtal*",
		"bribery":           "mut*",
		"crime":             "brott*",
		"business-ban":      "näringsförbud*",
		"fraud":             "bedrägeri*",
		"scandal":           "skandal*",
		"terrorism":         "terrorism*",
		"criminal-networks": "kriminella nätverk*",
		"crypto":            "krypto",
		"narcotics":         "narkotika",
		"weapons":           "vapen",
		"accounting-crime":  "bokföringsbrott*",
		"money-laundering":  "penningtvätt",
	}
}

// DefaultCategories returns the keyword groups of the default dictionary
func DefaultCategories() []Category {
	return []Category{
		{
			ID:   "economic-crime",
			Name: "Economic Crime",
			Tags: []string{
				"corruption", "sanctions", "economic-crime", "prosecution",
				"bribery", "business-ban", "fraud", "accounting-crime",
				"money-laundering", "crypto",
			},
		},
		{
			ID:   "security-threats",
			Name: "Security Threats",
			Tags: []string{
				"crime", "scandal", "terrorism", "criminal-networks",
				"narcotics", "weapons",
			},
		},
	}
}

// IDs returns the tag IDs in sorted order
func (d Dictionary) IDs() []string {
	ids := make([]string, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type dictionaryFile struct {
	Tags       map[string]string `yaml:"tags"`
	Categories []Category        `yaml:"categories"`
}

// LoadDictionary reads a YAML dictionary file:
//
//	tags:
//	  fraud: "fraud*"
//	categories:
//	  - id: economic
//	    name: Economic Crime
//	    tags: [fraud]
//
// Categories are optional; when absent every tag lands in one "All" group.
func LoadDictionary(path string) (Dictionary, []Category, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read dictionary: %w", err)
	}

	var f dictionaryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("parse dictionary %s: %w", path, err)
	}
	if len(f.Tags) == 0 {
		return nil, nil, fmt.Errorf("dictionary %s has no tags", path)
	}

	dict := Dictionary(f.Tags)
	cats := f.Categories
	if len(cats) == 0 {
		cats = []Category{{ID: "all", Name: "All", Tags: dict.IDs()}}
	}
	return dict, cats, nil
}
