// Package catalog serves the static content of the partner app: offers,
// loan products and support contacts, loaded from a YAML file.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned when the catalog file fails validation.
var ErrInvalid = errors.New("catalog: invalid")

// Offer is a time-boxed promotion.
type Offer struct {
	ID          string    `yaml:"id" json:"id"`
	Title       string    `yaml:"title" json:"title"`
	Description string    `yaml:"description" json:"description,omitempty"`
	LoanType    string    `yaml:"loan_type" json:"loanType,omitempty"`
	BonusRate   float64   `yaml:"bonus_rate" json:"bonusRate,omitempty"`
	ValidFrom   time.Time `yaml:"valid_from" json:"validFrom"`
	ValidUntil  time.Time `yaml:"valid_until" json:"validUntil"`
}

// Active reports whether now falls in [ValidFrom, ValidUntil).
func (o Offer) Active(now time.Time) bool {
	return !now.Before(o.ValidFrom) && now.Before(o.ValidUntil)
}

// Product is a loan product.
type Product struct {
	ID           string   `yaml:"id" json:"id"`
	Name         string   `yaml:"name" json:"name"`
	LoanType     string   `yaml:"loan_type" json:"loanType"`
	InterestRate string   `yaml:"interest_rate" json:"interestRate,omitempty"`
	MinAmount    int64    `yaml:"min_amount" json:"minAmount,omitempty"`
	MaxAmount    int64    `yaml:"max_amount" json:"maxAmount,omitempty"`
	Features     []string `yaml:"features" json:"features,omitempty"`
}

// Support is the support contact card.
type Support struct {
	Email    string `yaml:"email" json:"email"`
	Phone    string `yaml:"phone" json:"phone"`
	WhatsApp string `yaml:"whatsapp" json:"whatsapp,omitempty"`
	Hours    string `yaml:"hours" json:"hours,omitempty"`
	Address  string `yaml:"address" json:"address,omitempty"`
}

// Catalog is the parsed file.
type Catalog struct {
	Offers   []Offer   `yaml:"offers"`
	Products []Product `yaml:"products"`
	Support  Support   `yaml:"support"`
}

// Load reads and validates a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	seen := make(map[string]struct{}, len(c.Offers))
	for i, o := range c.Offers {
		if o.ID == "" {
			return fmt.Errorf("%w: offer %d has no id", ErrInvalid, i)
		}
		if _, dup := seen[o.ID]; dup {
			return fmt.Errorf("%w: duplicate offer id %q", ErrInvalid, o.ID)
		}
		seen[o.ID] = struct{}{}
		if !o.ValidUntil.After(o.ValidFrom) {
			return fmt.Errorf("%w: offer %q ends before it starts", ErrInvalid, o.ID)
		}
	}
	for i, p := range c.Products {
		if p.ID == "" || p.Name == "" {
			return fmt.Errorf("%w: product %d needs id and name", ErrInvalid, i)
		}
		if p.MaxAmount != 0 && p.MaxAmount < p.MinAmount {
			return fmt.Errorf("%w: product %q max below min", ErrInvalid, p.ID)
		}
	}
	return nil
}

// ActiveOffers returns offers running at now, ending soonest first.
func (c *Catalog) ActiveOffers(now time.Time) []Offer {
	out := make([]Offer, 0, len(c.Offers))
	for _, o := range c.Offers {
		if o.Active(now) {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ValidUntil.Before(out[j].ValidUntil)
	})
	return out
}

// ProductsByType returns products of loanType, or all products when
// loanType is empty.
func (c *Catalog) ProductsByType(loanType string) []Product {
	if loanType == "" {
		return append([]Product(nil), c.Products...)
	}
	var out []Product
	for _, p := range c.Products {
		if p.LoanType == loanType {
			out = append(out, p)
		}
	}
	return out
}
