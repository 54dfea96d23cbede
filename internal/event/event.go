package event

import (
	"fmt"
	"strings"
	"time"
)

// Type classifies an event node. Each type carries its own attrs variant and
// its own decay half-life (see config.DecayConfig).
type Type string

const (
	TypePrice  Type = "price"
	TypeNews   Type = "news"
	TypeSocial Type = "social"
	TypeMacro  Type = "macro"
	TypeFiling Type = "filing"
)

func (t Type) Valid() bool {
	switch t {
	case TypePrice, TypeNews, TypeSocial, TypeMacro, TypeFiling:
		return true
	}
	return false
}

// PriceAttrs describes a derived price move (bar anomaly).
type PriceAttrs struct {
	Sigma            float64 `json:"sigma"`
	Return           float64 `json:"return"`
	VolumePercentile float64 `json:"volume_percentile"`
	GapPercent       float64 `json:"gap_percent"`
}

type NewsAttrs struct {
	Headline string `json:"headline"`
	Link     string `json:"link,omitempty"`
	Source   string `json:"source,omitempty"`
}

type SocialAttrs struct {
	Mentions  int     `json:"mentions"`
	Sentiment float64 `json:"sentiment"`
	Subreddit string  `json:"subreddit,omitempty"`
}

type MacroAttrs struct {
	Series   string  `json:"series"`
	Value    float64 `json:"value"`
	Surprise float64 `json:"surprise"`
}

type FilingAttrs struct {
	Form        string `json:"form"`
	AccessionNo string `json:"accession_no,omitempty"`
}

// Attrs is a tagged variant: exactly the member matching Event.Type is set.
type Attrs struct {
	Price  *PriceAttrs  `json:"price,omitempty"`
	News   *NewsAttrs   `json:"news,omitempty"`
	Social *SocialAttrs `json:"social,omitempty"`
	Macro  *MacroAttrs  `json:"macro,omitempty"`
	Filing *FilingAttrs `json:"filing,omitempty"`
}

// Event is an immutable graph node. Ticker is empty for market-wide events
// (macro prints, index-level news).
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Ticker    string    `json:"ticker,omitempty"`
	Timestamp time.Time `json:"ts"`
	Summary   string    `json:"summary,omitempty"`
	Attrs     Attrs     `json:"attrs"`
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("event id is required")
	}
	if !e.Type.Valid() {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event %s has zero timestamp", e.ID)
	}
	if got, want := e.Attrs.variantType(), e.Type; got != want {
		return fmt.Errorf("event %s: attrs variant %q does not match type %q", e.ID, got, want)
	}
	return nil
}

func (a Attrs) variantType() Type {
	set := 0
	var t Type
	if a.Price != nil {
		set++
		t = TypePrice
	}
	if a.News != nil {
		set++
		t = TypeNews
	}
	if a.Social != nil {
		set++
		t = TypeSocial
	}
	if a.Macro != nil {
		set++
		t = TypeMacro
	}
	if a.Filing != nil {
		set++
		t = TypeFiling
	}
	if set != 1 {
		return ""
	}
	return t
}

// Text returns the searchable text of the event (headline plus summary),
// used by the gate's entity-mention rule.
func (e Event) Text() string {
	parts := make([]string, 0, 2)
	if e.Attrs.News != nil && e.Attrs.News.Headline != "" {
		parts = append(parts, e.Attrs.News.Headline)
	}
	if e.Summary != "" {
		parts = append(parts, e.Summary)
	}
	return strings.Join(parts, " ")
}

// Sigma reports the volatility signal attached to the event, if any.
func (e Event) Sigma() (float64, bool) {
	if e.Attrs.Price == nil {
		return 0, false
	}
	return e.Attrs.Price.Sigma, true
}
