package domain

import (
	"time"
)

// FunnelStatus enumerates the lifecycle states of a funnel.
type FunnelStatus string

const (
	FunnelDraft     FunnelStatus = "draft"
	FunnelPublished FunnelStatus = "published"
	FunnelArchived  FunnelStatus = "archived"
)

// Valid reports whether s is one of the known funnel statuses.
func (s FunnelStatus) Valid() bool {
	switch s {
	case FunnelDraft, FunnelPublished, FunnelArchived:
		return true
	}
	return false
}

// StyleCategory is a named result bucket that options can score into.
type StyleCategory struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Funnel is the top-level container of an ordered set of stages.
type Funnel struct {
	ID              string          `json:"id" db:"id"`
	Slug            string          `json:"slug" db:"slug"`
	Name            string          `json:"name" db:"name"`
	Status          FunnelStatus    `json:"status" db:"status"`
	GlobalConfig    map[string]any  `json:"global_config" db:"global_config"`
	StyleCategories []StyleCategory `json:"style_categories" db:"style_categories"`
	PublishedAt     *time.Time      `json:"published_at" db:"published_at"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// IsPublished returns true if the funnel is live.
func (f *Funnel) IsPublished() bool {
	return f.Status == FunnelPublished
}

// Suggested stage types. Stage.Type is an open string; any value is accepted.
const (
	StageIntro      = "intro"
	StageQuestion   = "question"
	StageStrategic  = "strategic"
	StageTransition = "transition"
	StageResult     = "result"
	StageOffer      = "offer"
)

// Stage is one step of a funnel.
type Stage struct {
	ID         string         `json:"id" db:"id"`
	FunnelID   string         `json:"funnel_id" db:"funnel_id"`
	Type       string         `json:"type" db:"type"`
	Title      string         `json:"title" db:"title"`
	OrderIndex int            `json:"order_index" db:"order_index"`
	IsEnabled  bool           `json:"is_enabled" db:"is_enabled"`
	Config     map[string]any `json:"config" db:"config"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at" db:"updated_at"`
}

// IsChoiceBearing reports whether stages of this type carry option rows.
func IsChoiceBearing(stageType string) bool {
	return stageType == StageQuestion || stageType == StageStrategic
}

// IsTerminal reports whether a stage type can end a funnel.
func IsTerminal(stageType string) bool {
	return stageType == StageResult || stageType == StageOffer
}

// Option is a selectable choice of a question-type stage.
type Option struct {
	ID            string  `json:"id" db:"id"`
	StageID       string  `json:"stage_id" db:"stage_id"`
	Text          string  `json:"text" db:"text"`
	OrderIndex    int     `json:"order_index" db:"order_index"`
	Points        int     `json:"points" db:"points"`
	StyleCategory *string `json:"style_category,omitempty" db:"style_category"`
	ImageURL      *string `json:"image_url,omitempty" db:"image_url"`
}

// OrderUpdate is one entry of a batch reorder.
type OrderUpdate struct {
	ID         string `json:"id"`
	OrderIndex int    `json:"order_index"`
}
