package pricing

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrUnknownPhase is returned when a selection names a phase not in the catalog.
	ErrUnknownPhase = errors.New("unknown phase")
	// ErrUnknownComponent is returned when a selection names a component not in the catalog.
	ErrUnknownComponent = errors.New("unknown component")
)

// Selection is the set of phases and components a visitor has picked.
type Selection struct {
	Phases     []int    `json:"phases"`
	Components []string `json:"components"`
}

// ItemType distinguishes basket lines.
type ItemType string

const (
	ItemTypePhase     ItemType = "phase"
	ItemTypeComponent ItemType = "component"
)

// Item is one basket line.
type Item struct {
	Type  ItemType `json:"type"`
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Price int64    `json:"price"`
	Phase int      `json:"phase"`
	// CoveredByPhase marks a component whose phase is also selected; its price is not charged.
	CoveredByPhase bool `json:"coveredByPhase,omitempty"`
}

// ComponentLine is a component as listed in a breakdown.
type ComponentLine struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
	Phase int    `json:"phase"`
}

// PhaseLine is a selected phase with its component prices.
type PhaseLine struct {
	Number          int             `json:"number"`
	Name            string          `json:"name"`
	Price           int64           `json:"price"`
	Components      []ComponentLine `json:"components"`
	IndividualValue int64           `json:"individualValue"`
	PackageSavings  int64           `json:"packageSavings"`
}

// Breakdown itemizes a quote by phase and uncovered component.
type Breakdown struct {
	Phases               []PhaseLine     `json:"phases"`
	IndividualComponents []ComponentLine `json:"individualComponents"`
	Total                int64           `json:"total"`
	IndividualValue      int64           `json:"individualValue"`
	Savings              int64           `json:"savings"`
}

// Quote is the priced result of a selection.
type Quote struct {
	Brand     string    `json:"brand"`
	Currency  string    `json:"currency"`
	Items     []Item    `json:"items"`
	Breakdown Breakdown `json:"breakdown"`
}

// Quote prices a selection. Duplicates are ignored; unknown ids are an error.
// A selected phase's price replaces the prices of its own components.
func (c *Catalog) Quote(sel Selection) (Quote, error) {
	phases, components, err := c.normalize(sel)
	if err != nil {
		return Quote{}, err
	}

	selectedPhase := make(map[int]bool, len(phases))
	for _, p := range phases {
		selectedPhase[p.Number] = true
	}

	q := Quote{
		Brand:    c.Brand,
		Currency: c.Currency,
		Items:    make([]Item, 0, len(phases)+len(components)),
		Breakdown: Breakdown{
			Phases:               make([]PhaseLine, 0, len(phases)),
			IndividualComponents: make([]ComponentLine, 0, len(components)),
		},
	}
	b := &q.Breakdown

	for _, p := range phases {
		q.Items = append(q.Items, Item{Type: ItemTypePhase, ID: strconv.Itoa(p.Number), Name: p.Name, Price: p.Price, Phase: p.Number})

		line := PhaseLine{Number: p.Number, Name: p.Name, Price: p.Price, Components: make([]ComponentLine, 0, len(p.Components))}
		for _, id := range p.Components {
			comp, _ := c.Component(id)
			line.Components = append(line.Components, componentLine(comp))
			line.IndividualValue += comp.Price
		}
		line.PackageSavings = line.IndividualValue - line.Price
		b.Phases = append(b.Phases, line)
		b.Total += p.Price
		b.IndividualValue += line.IndividualValue
	}

	for _, comp := range components {
		covered := selectedPhase[comp.Phase]
		q.Items = append(q.Items, Item{Type: ItemTypeComponent, ID: comp.ID, Name: comp.Name, Price: comp.Price, Phase: comp.Phase, CoveredByPhase: covered})
		if covered {
			continue
		}
		b.IndividualComponents = append(b.IndividualComponents, componentLine(comp))
		b.Total += comp.Price
		b.IndividualValue += comp.Price
	}

	b.Savings = max(0, b.IndividualValue-b.Total)
	return q, nil
}

func (c *Catalog) normalize(sel Selection) ([]Phase, []Component, error) {
	seenPhase := make(map[int]bool, len(sel.Phases))
	phases := make([]Phase, 0, len(sel.Phases))
	for _, n := range sel.Phases {
		if seenPhase[n] {
			continue
		}
		p, ok := c.Phase(n)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %d", ErrUnknownPhase, n)
		}
		seenPhase[n] = true
		phases = append(phases, p)
	}

	seenComp := make(map[string]bool, len(sel.Components))
	components := make([]Component, 0, len(sel.Components))
	for _, id := range sel.Components {
		if seenComp[id] {
			continue
		}
		comp, ok := c.Component(id)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %q", ErrUnknownComponent, id)
		}
		seenComp[id] = true
		components = append(components, comp)
	}
	return phases, components, nil
}

func componentLine(comp Component) ComponentLine {
	return ComponentLine{ID: comp.ID, Name: comp.Name, Price: comp.Price, Phase: comp.Phase}
}
