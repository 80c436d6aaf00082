package ports

// InventoryOracle reports how many units of an item the player is carrying.
// Backed by widget scraping in the game client; only consulted to resolve
// offline-fill ambiguity, never as a primary source of fills.
type InventoryOracle interface {
	InventoryCount(itemID int) int
}
