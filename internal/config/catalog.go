package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog describes the source site being indexed: its subjects, their
// listing URLs, and the age-group bands to fall back to when a subject
// page exposes no age tabs of its own.
type Catalog struct {
	Source           string     `yaml:"source"`
	BaseURL          string     `yaml:"base_url"`
	Subjects         []Subject  `yaml:"subjects"`
	AgeGroupFallback []AgeGroup `yaml:"age_group_fallback"`
}

// Subject is one subject entry in the catalog.
type Subject struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// AgeGroup is a bounded band of school years. Fragment is the URL
// fragment the source site uses to select the band's tab.
type AgeGroup struct {
	Name     string `yaml:"name"`
	Fragment string `yaml:"fragment"`
}

// DefaultCatalog returns the compiled-in ABC Education catalog.
func DefaultCatalog() Catalog {
	const base = "https://www.abc.net.au/education"
	subjects := []string{"arts", "english", "geography", "maths", "science", "technologies", "languages"}
	names := []string{"Arts", "English", "Geography", "Maths", "Science", "Technologies", "Languages"}

	c := Catalog{
		Source:  "ABC Education",
		BaseURL: base,
		AgeGroupFallback: []AgeGroup{
			{Name: "Years F-2", Fragment: "years-f-2"},
			{Name: "Years 3-4", Fragment: "years-3-4"},
			{Name: "Years 5-6", Fragment: "years-5-6"},
		},
	}
	for i, slug := range subjects {
		c.Subjects = append(c.Subjects, Subject{
			Name: names[i],
			URL:  base + "/subjects-and-topics/" + slug,
		})
	}
	return c
}

// LoadCatalog reads a catalog YAML file, or returns the default catalog
// when path is empty.
func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("reading catalog file: %w", err)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("parsing catalog file %s: %w", path, err)
	}

	if len(c.Subjects) == 0 {
		return Catalog{}, fmt.Errorf("catalog file %s lists no subjects", path)
	}
	if c.Source == "" {
		c.Source = DefaultCatalog().Source
	}
	if len(c.AgeGroupFallback) == 0 {
		c.AgeGroupFallback = DefaultCatalog().AgeGroupFallback
	}
	return c, nil
}
