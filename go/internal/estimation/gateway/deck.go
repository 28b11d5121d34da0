package gateway

import (
	"fmt"
	"net/http"
	"os"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// maxCardLength matches the longest choice the engine accepts.
const maxCardLength = 32

// Deck is the set of estimate cards offered to clients.
type Deck struct {
	Options []string `yaml:"options" json:"options"`
}

// DefaultDeck returns the built-in cards.
func DefaultDeck() Deck {
	return Deck{Options: []string{"0.5", "1", "1.5", "2", "2.5", "3+", "?"}}
}

// LoadDeck reads a YAML deck file of the form
//
//	options: ["1", "2", "3", "5", "8", "?"]
//
// An empty path yields the default deck.
func LoadDeck(path string) (Deck, error) {
	if path == "" {
		return DefaultDeck(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Deck{}, fmt.Errorf("failed to read deck file: %w", err)
	}

	var deck Deck
	if err := yaml.Unmarshal(data, &deck); err != nil {
		return Deck{}, fmt.Errorf("failed to parse deck file: %w", err)
	}
	if err := deck.validate(); err != nil {
		return Deck{}, fmt.Errorf("deck file %s: %w", path, err)
	}
	return deck, nil
}

func (d Deck) validate() error {
	if len(d.Options) == 0 {
		return fmt.Errorf("no options")
	}
	if dups := lo.FindDuplicates(d.Options); len(dups) > 0 {
		return fmt.Errorf("duplicate options %v", dups)
	}
	if long, ok := lo.Find(d.Options, func(o string) bool { return len(o) > maxCardLength }); ok {
		return fmt.Errorf("option %q is longer than %d characters", long, maxCardLength)
	}
	return nil
}

// HandleGetDeck handles GET /api/deck
func (d Deck) HandleGetDeck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d)
}
