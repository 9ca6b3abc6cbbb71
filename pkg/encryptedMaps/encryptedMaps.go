// Package encryptedMaps stores encrypted values in maps guarded by the
// keyManager authorization. A map is addressed by a MapID, which is a KeyID:
// whoever may read or write the key may read or write the map.
package encryptedMaps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/i5heu/ouroboros-keybroker/internal/keyValStore"
	"github.com/i5heu/ouroboros-keybroker/pkg/access"
	"github.com/i5heu/ouroboros-keybroker/pkg/keyManager"
	"github.com/i5heu/ouroboros-keybroker/pkg/types"
	"github.com/i5heu/ouroboros-keybroker/pkg/vetkd"
)

var ErrValueTooLarge = errors.New("encryptedMaps: value too large")

// Tables names the storage EncryptedMaps owns, its key manager included.
type Tables struct {
	KeyManager keyManager.Tables
	Values     string
}

// DefaultTables derives table names from a namespace.
func DefaultTables(namespace string) Tables {
	return Tables{
		KeyManager: keyManager.DefaultTables(namespace),
		Values:     namespace + ".encrypted_values",
	}
}

type Config struct {
	DomainSeparator string
	Tables          Tables
	VetKD           vetkd.Client
	VetKDKeyID      vetkd.KeyID
	// MaxValueSize bounds a single value in bytes. Zero means unbounded.
	MaxValueSize int
	Logger       *slog.Logger
}

// Entry is one value of a map.
type Entry struct {
	Key   types.MapKey `json:"key"`
	Value []byte       `json:"value"`
}

// MapValues is the content of one map.
type MapValues struct {
	MapID   types.MapID `json:"map_id"`
	Entries []Entry     `json:"entries"`
}

// EncryptedMapData is a map together with its grants.
type EncryptedMapData struct {
	MapOwner      types.Principal         `json:"map_owner"`
	MapName       types.MapName           `json:"map_name"`
	KeyVals       []Entry                 `json:"keyvals"`
	AccessControl []keyManager.UserRights `json:"access_control"`
}

type EncryptedMaps struct {
	log          *slog.Logger
	store        *keyValStore.KeyValStore
	keyManager   *keyManager.KeyManager
	values       keyValStore.Table
	maxValueSize int
}

// Init opens the tables of EncryptedMaps and of its key manager in store.
func Init(store *keyValStore.KeyValStore, conf Config) (*EncryptedMaps, error) { // A
	if conf.Logger == nil {
		conf.Logger = slog.Default()
	}
	if conf.MaxValueSize < 0 {
		return nil, fmt.Errorf("encryptedMaps: negative max value size %d", conf.MaxValueSize)
	}

	km, err := keyManager.Init(store, keyManager.Config{
		DomainSeparator: conf.DomainSeparator,
		Tables:          conf.Tables.KeyManager,
		VetKD:           conf.VetKD,
		VetKDKeyID:      conf.VetKDKeyID,
		Logger:          conf.Logger,
	})
	if err != nil {
		return nil, err
	}

	values, err := keyValStore.NewTable(conf.Tables.Values)
	if err != nil {
		return nil, fmt.Errorf("encryptedMaps: values table: %w", err)
	}

	return &EncryptedMaps{
		log:          conf.Logger,
		store:        store,
		keyManager:   km,
		values:       values,
		maxValueSize: conf.MaxValueSize,
	}, nil
}

// KeyManager returns the authorization layer the maps share.
func (em *EncryptedMaps) KeyManager() *keyManager.KeyManager {
	return em.keyManager
}

func valueKey(mapID types.MapID, key types.MapKey) []byte {
	buf := make([]byte, 0, types.KeyIDEncodedLength+types.NameLength)
	buf = types.AppendKeyID(buf, mapID)
	return append(buf, key[:]...)
}

func decodeMapKey(raw []byte) (types.MapKey, error) {
	var k types.MapKey
	if len(raw) != types.KeyIDEncodedLength+types.NameLength {
		return k, fmt.Errorf("encryptedMaps: corrupt value key of %d bytes", len(raw))
	}
	copy(k[:], raw[types.KeyIDEncodedLength:])
	return k, nil
}

// GetEncryptedValue returns the value under key in mapID. ok is false when
// there is none.
func (em *EncryptedMaps) GetEncryptedValue(
	caller types.Principal,
	mapID types.MapID,
	key types.MapKey,
) (value []byte, ok bool, err error) { // A
	err = em.store.View(func(txn *keyValStore.Txn) error {
		if _, err := em.keyManager.EnsureUserCanReadTxn(txn, caller, mapID); err != nil {
			return err
		}
		value, ok, err = txn.Get(em.values, valueKey(mapID, key))
		return err
	})
	return value, ok, err
}

// GetEncryptedValuesForMap returns every entry of mapID ordered by key.
func (em *EncryptedMaps) GetEncryptedValuesForMap(
	caller types.Principal,
	mapID types.MapID,
) ([]Entry, error) { // A
	var entries []Entry
	err := em.store.View(func(txn *keyValStore.Txn) error {
		if _, err := em.keyManager.EnsureUserCanReadTxn(txn, caller, mapID); err != nil {
			return err
		}
		var err error
		entries, err = em.entries(txn, mapID)
		return err
	})
	return entries, err
}

func (em *EncryptedMaps) entries(txn *keyValStore.Txn, mapID types.MapID) ([]Entry, error) {
	entries := []Entry{}
	r := keyValStore.Range{Prefix: types.EncodeKeyID(mapID)}
	err := txn.Scan(em.values, r, func(key, value []byte) (bool, error) {
		mapKey, err := decodeMapKey(key)
		if err != nil {
			return false, err
		}
		entries = append(entries, Entry{Key: mapKey, Value: value})
		return true, nil
	})
	return entries, err
}

// InsertEncryptedValue stores value under key in mapID and returns the value
// it replaced, if any.
func (em *EncryptedMaps) InsertEncryptedValue(
	caller types.Principal,
	mapID types.MapID,
	key types.MapKey,
	value []byte,
) (previous []byte, hadPrevious bool, err error) { // A
	err = em.store.Update(func(txn *keyValStore.Txn) error {
		if _, err := em.keyManager.EnsureUserCanWriteTxn(txn, caller, mapID); err != nil {
			return err
		}
		if em.maxValueSize > 0 && len(value) > em.maxValueSize {
			return fmt.Errorf("%w: %d bytes exceeds %d", ErrValueTooLarge, len(value), em.maxValueSize)
		}

		k := valueKey(mapID, key)
		var err error
		previous, hadPrevious, err = txn.Get(em.values, k)
		if err != nil {
			return err
		}
		return txn.Set(em.values, k, value)
	})
	if err != nil {
		return nil, false, err
	}
	return previous, hadPrevious, nil
}

// RemoveEncryptedValue deletes key from mapID and returns the removed value,
// if any.
func (em *EncryptedMaps) RemoveEncryptedValue(
	caller types.Principal,
	mapID types.MapID,
	key types.MapKey,
) (previous []byte, hadPrevious bool, err error) { // A
	err = em.store.Update(func(txn *keyValStore.Txn) error {
		if _, err := em.keyManager.EnsureUserCanWriteTxn(txn, caller, mapID); err != nil {
			return err
		}

		k := valueKey(mapID, key)
		var err error
		previous, hadPrevious, err = txn.Get(em.values, k)
		if err != nil || !hadPrevious {
			return err
		}
		return txn.Delete(em.values, k)
	})
	if err != nil {
		return nil, false, err
	}
	return previous, hadPrevious, nil
}

// RemoveMapValues deletes every entry of mapID and returns the removed
// values ordered by key. Removing an empty map returns an empty list.
func (em *EncryptedMaps) RemoveMapValues(
	caller types.Principal,
	mapID types.MapID,
) ([][]byte, error) { // A
	var removed [][]byte
	err := em.store.Update(func(txn *keyValStore.Txn) error {
		if _, err := em.keyManager.EnsureUserCanWriteTxn(txn, caller, mapID); err != nil {
			return err
		}

		entries, err := em.entries(txn, mapID)
		if err != nil {
			return err
		}
		removed = make([][]byte, 0, len(entries))
		for _, e := range entries {
			if err := txn.Delete(em.values, valueKey(mapID, e.Key)); err != nil {
				return err
			}
			removed = append(removed, e.Value)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	em.log.Debug("map values removed", "mapId", mapID.String(), "count", len(removed))
	return removed, nil
}

// GetOwnedNonEmptyMapNames returns the names of the maps owned by caller
// that hold at least one entry, in ascending order.
func (em *EncryptedMaps) GetOwnedNonEmptyMapNames(
	caller types.Principal,
) ([]types.MapName, error) { // A
	var names []types.MapName
	err := em.store.View(func(txn *keyValStore.Txn) error {
		var err error
		names, err = em.ownedNonEmptyMapNames(txn, caller)
		return err
	})
	return names, err
}

// ownedNonEmptyMapNames probes one map at a time: it takes the first entry
// at or after the current position, records its map and jumps past that
// map's entries.
func (em *EncryptedMaps) ownedNonEmptyMapNames(
	txn *keyValStore.Txn,
	caller types.Principal,
) ([]types.MapName, error) {
	names := []types.MapName{}
	ownerPrefix := types.AppendPrincipal(nil, caller)
	from := ownerPrefix
	for {
		var found bool
		var name types.MapName
		err := txn.ScanKeys(em.values, keyValStore.Range{Prefix: ownerPrefix, From: from}, func(key []byte) (bool, error) {
			id, err := types.DecodeKeyID(key)
			if err != nil {
				return false, fmt.Errorf("encryptedMaps: corrupt value key: %w", err)
			}
			name, found = id.Name, true
			return false, nil
		})
		if err != nil {
			return nil, err
		}
		if !found {
			return names, nil
		}
		names = append(names, name)

		next, ok := types.NextName(name)
		if !ok {
			return names, nil
		}
		from = types.EncodeKeyID(types.KeyID{Owner: caller, Name: next})
	}
}

// GetAccessibleSharedMapNames lists the maps shared with caller.
func (em *EncryptedMaps) GetAccessibleSharedMapNames(
	caller types.Principal,
) ([]types.MapID, error) {
	return em.keyManager.GetAccessibleSharedKeyIDs(caller)
}

// accessibleMapIDs is every map shared with caller followed by every
// non-empty map caller owns.
func (em *EncryptedMaps) accessibleMapIDs(
	txn *keyValStore.Txn,
	caller types.Principal,
) ([]types.MapID, error) {
	shared, err := em.keyManager.GetAccessibleSharedKeyIDsTxn(txn, caller)
	if err != nil {
		return nil, err
	}
	owned, err := em.ownedNonEmptyMapNames(txn, caller)
	if err != nil {
		return nil, err
	}
	ids := make([]types.MapID, 0, len(shared)+len(owned))
	ids = append(ids, shared...)
	for _, name := range owned {
		ids = append(ids, types.MapID{Owner: caller, Name: name})
	}
	return ids, nil
}

// GetAllAccessibleEncryptedValues returns the entries of every map caller
// can read.
func (em *EncryptedMaps) GetAllAccessibleEncryptedValues(
	caller types.Principal,
) ([]MapValues, error) { // A
	var result []MapValues
	err := em.store.View(func(txn *keyValStore.Txn) error {
		ids, err := em.accessibleMapIDs(txn, caller)
		if err != nil {
			return err
		}
		result = make([]MapValues, 0, len(ids))
		for _, id := range ids {
			if _, err := em.keyManager.EnsureUserCanReadTxn(txn, caller, id); err != nil {
				return err
			}
			entries, err := em.entries(txn, id)
			if err != nil {
				return err
			}
			result = append(result, MapValues{MapID: id, Entries: entries})
		}
		return nil
	})
	return result, err
}

// GetAllAccessibleEncryptedMaps is GetAllAccessibleEncryptedValues plus the
// grants of every map caller may list grants of.
func (em *EncryptedMaps) GetAllAccessibleEncryptedMaps(
	caller types.Principal,
) ([]EncryptedMapData, error) { // A
	var result []EncryptedMapData
	err := em.store.View(func(txn *keyValStore.Txn) error {
		ids, err := em.accessibleMapIDs(txn, caller)
		if err != nil {
			return err
		}
		result = make([]EncryptedMapData, 0, len(ids))
		for _, id := range ids {
			if _, err := em.keyManager.EnsureUserCanReadTxn(txn, caller, id); err != nil {
				return err
			}
			entries, err := em.entries(txn, id)
			if err != nil {
				return err
			}
			grants, err := em.keyManager.GetSharedUserAccessForKeyTxn(txn, caller, id)
			if errors.Is(err, keyManager.ErrUnauthorized) {
				grants = []keyManager.UserRights{}
			} else if err != nil {
				return err
			}
			result = append(result, EncryptedMapData{
				MapOwner:      id.Owner,
				MapName:       id.Name,
				KeyVals:       entries,
				AccessControl: grants,
			})
		}
		return nil
	})
	return result, err
}

// The calls below expose the key manager per map.

func (em *EncryptedMaps) GetSharedUserAccessForMap(
	caller types.Principal,
	mapID types.MapID,
) ([]keyManager.UserRights, error) {
	return em.keyManager.GetSharedUserAccessForKey(caller, mapID)
}

func (em *EncryptedMaps) GetUserRights(
	caller types.Principal,
	mapID types.MapID,
	user types.Principal,
) (access.AccessRights, bool, error) {
	return em.keyManager.GetUserRights(caller, mapID, user)
}

func (em *EncryptedMaps) SetUserRights(
	caller types.Principal,
	mapID types.MapID,
	user types.Principal,
	rights access.AccessRights,
) (access.AccessRights, bool, error) {
	return em.keyManager.SetUserRights(caller, mapID, user, rights)
}

func (em *EncryptedMaps) RemoveUser(
	caller types.Principal,
	mapID types.MapID,
	user types.Principal,
) (access.AccessRights, bool, error) {
	return em.keyManager.RemoveUser(caller, mapID, user)
}

func (em *EncryptedMaps) GetEncryptedVetkey(
	ctx context.Context,
	caller types.Principal,
	mapID types.MapID,
	transportKey types.TransportKey,
) ([]byte, error) {
	return em.keyManager.GetEncryptedVetkey(ctx, caller, mapID, transportKey)
}

func (em *EncryptedMaps) GetVetkeyVerificationKey(ctx context.Context) ([]byte, error) {
	return em.keyManager.GetVetkeyVerificationKey(ctx)
}
