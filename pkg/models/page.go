package models

import (
	"sort"
	"time"
)

const (
	ImageStyleCover    = "cover"
	ImageStyleContain  = "contain"
	ImageStyleOriginal = "original"

	LayoutHorizontal = "horizontal"
	LayoutVertical   = "vertical"
)

// PageContent is a CMS page document as stored by the backend.
type PageContent struct {
	ID              string     `json:"_id,omitempty"`
	Slug            string     `json:"slug,omitempty"`
	Title           string     `json:"title"`
	Subtitle        string     `json:"subtitle"`
	HeroImage       string     `json:"heroImage,omitempty"`
	HeroImageStyle  string     `json:"heroImageStyle,omitempty"`
	Sections        []Section  `json:"sections"`
	MetaDescription string     `json:"metaDescription,omitempty"`
	IsPublished     *bool      `json:"isPublished,omitempty"`
	CreatedAt       *time.Time `json:"createdAt,omitempty"`
	UpdatedAt       *time.Time `json:"updatedAt,omitempty"`
}

type Section struct {
	Title      string `json:"title"`
	Content    string `json:"content"`
	Image      string `json:"image,omitempty"`
	ImageStyle string `json:"imageStyle,omitempty"`
	Layout     string `json:"layout,omitempty"`
	Order      int    `json:"order"`
}

// OrderedSections returns a copy of the sections sorted by Order. Sections
// sharing an order keep their document order.
func (p PageContent) OrderedSections() []Section {
	out := make([]Section, len(p.Sections))
	copy(out, p.Sections)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Order < out[j].Order
	})
	return out
}

// EffectiveHeroImageStyle returns the hero image style, defaulting to cover.
func (p PageContent) EffectiveHeroImageStyle() string {
	return styleOrDefault(p.HeroImageStyle)
}

// EffectiveImageStyle returns the section image style, defaulting to cover.
func (s Section) EffectiveImageStyle() string {
	return styleOrDefault(s.ImageStyle)
}

// EffectiveLayout returns the section layout, defaulting to horizontal.
func (s Section) EffectiveLayout() string {
	if s.Layout == LayoutVertical {
		return LayoutVertical
	}
	return LayoutHorizontal
}

func styleOrDefault(style string) string {
	switch style {
	case ImageStyleContain, ImageStyleOriginal:
		return style
	default:
		return ImageStyleCover
	}
}
