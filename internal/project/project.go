package project

// Project is the user-visible record of a scaffolded site.
type Project struct {
	ID                    string `json:"id"`
	UserID                string `json:"-"`
	Name                  string `json:"name"`
	Tagline               string `json:"tagline"`
	TemplateID            string `json:"templateId"`
	SiteURL               string `json:"siteUrl,omitempty"`
	PreviewURL            string `json:"previewUrl,omitempty"`
	LastDeployedAt        int64  `json:"lastDeployedAt,omitempty"` // unix millis
	HasUnpublishedChanges bool   `json:"hasUnpublishedChanges"`
}

// TemplateInfo describes one site template available for scaffolding.
type TemplateInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Features    []string `json:"features"`
}

// Templates is the catalog of site templates.
var Templates = []TemplateInfo{
	{
		ID:          "blog",
		Name:        "Blog",
		Description: "A clean, minimal blog with beautiful typography",
		Features:    []string{"Blog posts with MDX", "RSS feed", "Tag pages"},
	},
	{
		ID:          "portfolio",
		Name:        "Portfolio",
		Description: "Showcase your work with a stunning photo grid",
		Features:    []string{"Photo grid layout", "Project pages", "Lightbox viewer"},
	},
	{
		ID:          "blog-portfolio",
		Name:        "Blog + Portfolio",
		Description: "The best of both — blog posts and a portfolio",
		Features:    []string{"Blog + Portfolio sections", "Featured content", "Full navigation"},
	},
	{
		ID:          "luxury",
		Name:        "Luxury Brand",
		Description: "Editorial luxury minimal — a high-end personal brand site",
		Features:    []string{"Magazine-style typography", "Elegant animations", "Cream & navy palette"},
	},
}

// ValidTemplate reports whether id names a known template.
func ValidTemplate(id string) bool {
	for _, t := range Templates {
		if t.ID == id {
			return true
		}
	}
	return false
}
