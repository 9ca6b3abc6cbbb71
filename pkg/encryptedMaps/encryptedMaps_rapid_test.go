package encryptedMaps

import (
	"bytes"
	"slices"
	"testing"

	"github.com/i5heu/ouroboros-keybroker/internal/keyValStore"
	"github.com/i5heu/ouroboros-keybroker/pkg/types"
	"pgregory.net/rapid"
)

// OwnedMapsStateMachine inserts and removes entries of a few maps of two
// owners and checks the owned non-empty map listing after every step.
type OwnedMapsStateMachine struct {
	// Model state
	entries map[types.MapID]map[types.MapKey]bool

	// SUT state
	store *keyValStore.KeyValStore
	em    *EncryptedMaps

	owners []types.Principal
	names  []types.MapName
	keys   []types.MapKey
}

func (m *OwnedMapsStateMachine) Init(t *rapid.T) {
	store, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{InMemory: true})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	m.store = store

	m.em, err = Init(store, Config{
		DomainSeparator: "rapid",
		Tables:          DefaultTables("rapid"),
		VetKD:           stubVetkd{},
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	m.entries = make(map[types.MapID]map[types.MapKey]bool)
	for _, raw := range [][]byte{{1}, {1, 0}} {
		p, err := types.PrincipalFromBytes(raw)
		if err != nil {
			t.Fatalf("PrincipalFromBytes: %v", err)
		}
		m.owners = append(m.owners, p)
	}

	var low, high, maxName types.MapName
	low[types.NameLength-1] = 1
	high[0] = 1
	for i := range maxName {
		maxName[i] = 0xff
	}
	m.names = []types.MapName{{}, low, high, maxName}

	for _, b := range []byte{0, 1, 0xff} {
		var k types.MapKey
		k[0] = b
		m.keys = append(m.keys, k)
	}
}

func (m *OwnedMapsStateMachine) Cleanup() {
	if m.store != nil {
		_ = m.store.Close()
	}
}

func (m *OwnedMapsStateMachine) draw(t *rapid.T) (types.MapID, types.MapKey) {
	id := types.MapID{
		Owner: rapid.SampledFrom(m.owners).Draw(t, "owner"),
		Name:  rapid.SampledFrom(m.names).Draw(t, "name"),
	}
	return id, rapid.SampledFrom(m.keys).Draw(t, "key")
}

// Action: Insert
func (m *OwnedMapsStateMachine) Insert(t *rapid.T) {
	id, key := m.draw(t)
	if _, _, err := m.em.InsertEncryptedValue(id.Owner, id, key, []byte("v")); err != nil {
		t.Fatalf("InsertEncryptedValue: %v", err)
	}
	if m.entries[id] == nil {
		m.entries[id] = make(map[types.MapKey]bool)
	}
	m.entries[id][key] = true
}

// Action: Remove
func (m *OwnedMapsStateMachine) Remove(t *rapid.T) {
	id, key := m.draw(t)
	_, had, err := m.em.RemoveEncryptedValue(id.Owner, id, key)
	if err != nil {
		t.Fatalf("RemoveEncryptedValue: %v", err)
	}
	if had != m.entries[id][key] {
		t.Fatalf("removed %v, model holds %v", had, m.entries[id][key])
	}
	delete(m.entries[id], key)
}

// Action: Clear
func (m *OwnedMapsStateMachine) Clear(t *rapid.T) {
	id, _ := m.draw(t)
	removed, err := m.em.RemoveMapValues(id.Owner, id)
	if err != nil {
		t.Fatalf("RemoveMapValues: %v", err)
	}
	if len(removed) != len(m.entries[id]) {
		t.Fatalf("removed %d values, model holds %d", len(removed), len(m.entries[id]))
	}
	delete(m.entries, id)
}

func (m *OwnedMapsStateMachine) Check(t *rapid.T) {
	for _, owner := range m.owners {
		var want []types.MapName
		for id, keys := range m.entries {
			if id.Owner == owner && len(keys) > 0 {
				want = append(want, id.Name)
			}
		}
		slices.SortFunc(want, func(a, b types.MapName) int { return bytes.Compare(a[:], b[:]) })

		got, err := m.em.GetOwnedNonEmptyMapNames(owner)
		if err != nil {
			t.Fatalf("GetOwnedNonEmptyMapNames: %v", err)
		}
		if !slices.Equal(got, want) {
			t.Fatalf("owner %s: got %v, want %v", owner, got, want)
		}
	}
}

func TestOwnedNonEmptyMapNamesProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := &OwnedMapsStateMachine{}
		m.Init(t)
		defer m.Cleanup()

		t.Repeat(map[string]func(*rapid.T){
			"Insert": func(t *rapid.T) {
				m.Insert(t)
				m.Check(t)
			},
			"Remove": func(t *rapid.T) {
				m.Remove(t)
				m.Check(t)
			},
			"Clear": func(t *rapid.T) {
				m.Clear(t)
				m.Check(t)
			},
		})
	})
}
