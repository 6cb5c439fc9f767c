// Command import_cards replaces the card catalog of a deck library file
// with the cards from a CSV export, keeping the deck lists.
//
//	go run ./scripts data/cards_export.csv config/decks.yaml
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/empiretcg/empire-server-go/internal/deck"
	"github.com/empiretcg/empire-server-go/internal/game/state"
)

func main() {
	csvPath := "data/cards_export.csv"
	libraryPath := "config/decks.yaml"
	if len(os.Args) > 1 {
		csvPath = os.Args[1]
	}
	if len(os.Args) > 2 {
		libraryPath = os.Args[2]
	}

	absPath, err := filepath.Abs(csvPath)
	if err != nil {
		log.Fatalf("Failed to get absolute path: %v", err)
	}

	fmt.Println("=== Empire Card Catalog Import ===")
	fmt.Printf("CSV file: %s\n", absPath)
	fmt.Printf("Library:  %s\n", libraryPath)

	file, err := os.Open(absPath)
	if err != nil {
		log.Fatalf("Failed to open CSV file: %v", err)
	}
	defer file.Close()

	cards, err := deck.ReadCatalogCSV(file)
	if err != nil {
		log.Fatalf("Failed to read CSV: %v", err)
	}
	if len(cards) == 0 {
		log.Fatal("CSV file has no data rows")
	}

	var army, civic int
	for _, c := range cards {
		if c.Kind == state.KindCivic {
			civic++
		} else {
			army++
		}
	}
	fmt.Printf("Parsed %d cards (%d army, %d civic)\n", len(cards), army, civic)

	existing, err := os.ReadFile(libraryPath)
	if err != nil && !os.IsNotExist(err) {
		log.Fatalf("Failed to read library: %v", err)
	}

	merged, err := deck.MergeCatalog(existing, cards)
	if err != nil {
		log.Fatalf("Library would be invalid: %v", err)
	}
	if err := os.WriteFile(libraryPath, merged, 0o644); err != nil {
		log.Fatalf("Failed to write library: %v", err)
	}
	fmt.Println("✓ Library updated")
}
