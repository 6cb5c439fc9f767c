package deck

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/empiretcg/empire-server-go/internal/game/state"
	"gopkg.in/yaml.v3"
)

var catalogColumns = []string{"id", "name", "kind", "type", "tier", "cost"}

// ReadCatalogCSV parses a card export with the header
// id,name,kind,type,tier,cost. Column order follows the header; extra
// columns are ignored. Names are lowercased to match card hook lookups.
func ReadCatalogCSV(r io.Reader) ([]Definition, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("card export is empty")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range catalogColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("card export is missing column %q", col)
		}
	}

	var cards []Definition
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		field := func(col string) string { return strings.TrimSpace(record[index[col]]) }
		number := func(col string) (int, error) {
			v, err := strconv.Atoi(field(col))
			if err != nil {
				return 0, fmt.Errorf("line %d: %s %q is not a number", line, col, field(col))
			}
			return v, nil
		}

		id, err := number("id")
		if err != nil {
			return nil, err
		}
		tier, err := number("tier")
		if err != nil {
			return nil, err
		}
		cost, err := number("cost")
		if err != nil {
			return nil, err
		}
		kind, err := state.ParseCardKind(strings.ToLower(field("kind")))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		name := strings.ToLower(field("name"))
		if name == "" {
			return nil, fmt.Errorf("line %d: card name is required", line)
		}
		cards = append(cards, Definition{
			ID:   id,
			Name: name,
			Kind: kind,
			Type: field("type"),
			Tier: tier,
			Cost: cost,
		})
	}
	return cards, nil
}

// MergeCatalog replaces the cards of a YAML library document with cards and
// keeps its deck lists. The result is checked with NewLibrary before it is
// returned.
func MergeCatalog(library []byte, cards []Definition) ([]byte, error) {
	var file libraryFile
	if len(library) > 0 {
		if err := yaml.Unmarshal(library, &file); err != nil {
			return nil, fmt.Errorf("decode deck library: %w", err)
		}
	}
	file.Cards = cards
	if _, err := NewLibrary(file.Cards, file.Decks); err != nil {
		return nil, err
	}
	out, err := yaml.Marshal(file)
	if err != nil {
		return nil, fmt.Errorf("encode deck library: %w", err)
	}
	return out, nil
}
