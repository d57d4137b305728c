package session

import (
	"path/filepath"
	"testing"

	"github.com/defipilot/defipilot/internal/router"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "sessions.db"), filepath.Join(dir, "sessions.lock"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestLoadMissingSession(t *testing.T) {
	store := openTestStore(t)
	_, found, err := store.Load("nope")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if found {
		t.Fatal("unknown session should not be found")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := openTestStore(t)
	stable := true
	mem := Memory{
		LastSelection: &router.Selection{TokenSymbol: "USDC", Protocol: "kamino", PoolID: "pool-1"},
		Prefs:         &router.Preferences{Risk: "low", TimeHorizon: "long", StablecoinOnly: &stable},
	}
	if err := store.Save("s1", mem); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, found, err := store.Load("s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !found {
		t.Fatal("saved session not found")
	}
	if got.LastSelection == nil || got.LastSelection.TokenSymbol != "USDC" || got.LastSelection.PoolID != "pool-1" {
		t.Fatalf("unexpected selection: %+v", got.LastSelection)
	}
	if got.Prefs == nil || got.Prefs.Risk != "low" || got.Prefs.StablecoinOnly == nil || !*got.Prefs.StablecoinOnly {
		t.Fatalf("unexpected prefs: %+v", got.Prefs)
	}
}

func TestSaveOverwrites(t *testing.T) {
	store := openTestStore(t)
	if err := store.Save("s1", Memory{LastSelection: &router.Selection{TokenSymbol: "USDC"}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save("s1", Memory{LastSelection: &router.Selection{TokenSymbol: "USDT"}}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _, err := store.Load("s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.LastSelection.TokenSymbol != "USDT" {
		t.Fatalf("overwrite did not stick: %+v", got.LastSelection)
	}
}

func TestDelete(t *testing.T) {
	store := openTestStore(t)
	if err := store.Save("s1", Memory{}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Delete("s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, found, err := store.Load("s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if found {
		t.Fatal("deleted session should not be found")
	}
}
