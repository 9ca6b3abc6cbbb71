// Package keyManager keeps the durable authorization state of owner scoped
// keys and mediates key derivation requests for them.
//
// Two tables hold the state:
//
//   - access control: (grantee, KeyID) -> AccessRights, the source of truth
//     for every non-owner grant.
//   - shared keys: (KeyID, grantee) -> unit, the reverse index answering
//     "who has access to this key".
//
// Both are written in the same transaction, so each grant lives in both or
// in neither. Owners are never stored: their rights are implicit and
// maximal.
package keyManager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/i5heu/ouroboros-keybroker/internal/keyValStore"
	"github.com/i5heu/ouroboros-keybroker/pkg/access"
	"github.com/i5heu/ouroboros-keybroker/pkg/types"
	"github.com/i5heu/ouroboros-keybroker/pkg/vetkd"
)

// Tables names the storage a KeyManager owns.
type Tables struct {
	DomainSeparator string
	AccessControl   string
	SharedKeys      string
}

// DefaultTables derives table names from a namespace.
func DefaultTables(namespace string) Tables {
	return Tables{
		DomainSeparator: namespace + ".domain_separator",
		AccessControl:   namespace + ".access_control",
		SharedKeys:      namespace + ".shared_keys",
	}
}

type Config struct {
	// DomainSeparator binds derivations to this deployment. It is stored on
	// first initialization and the stored value wins afterwards.
	DomainSeparator string
	Tables          Tables
	VetKD           vetkd.Client
	// VetKDKeyID defaults to vetkd.DefaultKeyID.
	VetKDKeyID vetkd.KeyID
	Logger     *slog.Logger
}

// UserRights is one grant on a key.
type UserRights struct {
	User   types.Principal     `json:"user"`
	Rights access.AccessRights `json:"rights"`
}

type KeyManager struct {
	log   *slog.Logger
	store *keyValStore.KeyValStore

	domainSeparator string
	accessControl   keyValStore.Table
	sharedKeys      keyValStore.Table

	vetkd      vetkd.Client
	vetkdKeyID vetkd.KeyID
}

// Init opens the tables of a KeyManager in store and establishes the domain
// separator.
func Init(store *keyValStore.KeyValStore, conf Config) (*KeyManager, error) { // A
	if store == nil {
		return nil, errors.New("keyManager: store is required")
	}
	if conf.VetKD == nil {
		return nil, errors.New("keyManager: vetkd client is required")
	}
	if conf.Logger == nil {
		conf.Logger = slog.Default()
	}
	if conf.VetKDKeyID == (vetkd.KeyID{}) {
		conf.VetKDKeyID = vetkd.DefaultKeyID()
	}

	dsCell, err := keyValStore.NewCell(conf.Tables.DomainSeparator)
	if err != nil {
		return nil, fmt.Errorf("keyManager: domain separator cell: %w", err)
	}
	accessControl, err := keyValStore.NewTable(conf.Tables.AccessControl)
	if err != nil {
		return nil, fmt.Errorf("keyManager: access control table: %w", err)
	}
	sharedKeys, err := keyValStore.NewTable(conf.Tables.SharedKeys)
	if err != nil {
		return nil, fmt.Errorf("keyManager: shared keys table: %w", err)
	}

	var stored []byte
	var created bool
	err = store.Update(func(txn *keyValStore.Txn) error {
		var err error
		stored, created, err = txn.InitCell(dsCell, []byte(conf.DomainSeparator))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("keyManager: init domain separator: %w", err)
	}
	if !created && !bytes.Equal(stored, []byte(conf.DomainSeparator)) {
		conf.Logger.Warn("configured domain separator differs from stored one, keeping stored value",
			"configured", conf.DomainSeparator,
			"stored", string(stored))
	}

	return &KeyManager{
		log:             conf.Logger,
		store:           store,
		domainSeparator: string(stored),
		accessControl:   accessControl,
		sharedKeys:      sharedKeys,
		vetkd:           conf.VetKD,
		vetkdKeyID:      conf.VetKDKeyID,
	}, nil
}

// DomainSeparator returns the separator every derivation is bound to.
func (km *KeyManager) DomainSeparator() string {
	return km.domainSeparator
}

func accessKey(user types.Principal, keyID types.KeyID) []byte {
	buf := make([]byte, 0, types.PrincipalEncodedLength+types.KeyIDEncodedLength)
	buf = types.AppendPrincipal(buf, user)
	return types.AppendKeyID(buf, keyID)
}

func sharedKey(keyID types.KeyID, user types.Principal) []byte {
	buf := make([]byte, 0, types.KeyIDEncodedLength+types.PrincipalEncodedLength)
	buf = types.AppendKeyID(buf, keyID)
	return types.AppendPrincipal(buf, user)
}

// GetAccessibleSharedKeyIDs lists every key shared with caller, ordered by
// KeyID. Keys caller owns never show up since owners are not stored.
func (km *KeyManager) GetAccessibleSharedKeyIDs(
	caller types.Principal,
) ([]types.KeyID, error) { // A
	var ids []types.KeyID
	err := km.store.View(func(txn *keyValStore.Txn) error {
		var err error
		ids, err = km.GetAccessibleSharedKeyIDsTxn(txn, caller)
		return err
	})
	return ids, err
}

// GetAccessibleSharedKeyIDsTxn is GetAccessibleSharedKeyIDs inside txn.
func (km *KeyManager) GetAccessibleSharedKeyIDsTxn(
	txn *keyValStore.Txn,
	caller types.Principal,
) ([]types.KeyID, error) { // A
	ids := []types.KeyID{}
	prefix := types.AppendPrincipal(nil, caller)
	err := txn.ScanKeys(km.accessControl, keyValStore.Range{Prefix: prefix}, func(key []byte) (bool, error) {
		id, err := types.DecodeKeyID(key[len(prefix):])
		if err != nil {
			return false, fmt.Errorf("keyManager: corrupt access control key: %w", err)
		}
		ids = append(ids, id)
		return true, nil
	})
	return ids, err
}

// GetSharedUserAccessForKey lists the grants on keyID. It requires caller to
// be allowed to read user rights. The owner is not part of the result.
func (km *KeyManager) GetSharedUserAccessForKey(
	caller types.Principal,
	keyID types.KeyID,
) ([]UserRights, error) { // A
	var users []UserRights
	err := km.store.View(func(txn *keyValStore.Txn) error {
		var err error
		users, err = km.GetSharedUserAccessForKeyTxn(txn, caller, keyID)
		return err
	})
	return users, err
}

// GetSharedUserAccessForKeyTxn is GetSharedUserAccessForKey inside txn.
func (km *KeyManager) GetSharedUserAccessForKeyTxn(
	txn *keyValStore.Txn,
	caller types.Principal,
	keyID types.KeyID,
) ([]UserRights, error) { // A
	if _, err := km.EnsureUserCanGetUserRightsTxn(txn, caller, keyID); err != nil {
		return nil, err
	}

	var grantees []types.Principal
	prefix := types.EncodeKeyID(keyID)
	err := txn.ScanKeys(km.sharedKeys, keyValStore.Range{Prefix: prefix}, func(key []byte) (bool, error) {
		user, err := types.DecodePrincipal(key[len(prefix):])
		if err != nil {
			return false, fmt.Errorf("keyManager: corrupt shared keys key: %w", err)
		}
		grantees = append(grantees, user)
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	users := make([]UserRights, 0, len(grantees))
	for _, user := range grantees {
		rights, err := km.EnsureUserCanReadTxn(txn, user, keyID)
		if err != nil {
			return nil, fmt.Errorf("keyManager: shared keys entry %s for %s has no access control entry: %w", keyID, user, err)
		}
		users = append(users, UserRights{User: user, Rights: rights})
	}
	return users, nil
}

// GetUserRights returns the effective rights of user on keyID. It requires
// caller to be allowed to read user rights. ok is false when user has no
// access.
func (km *KeyManager) GetUserRights(
	caller types.Principal,
	keyID types.KeyID,
	user types.Principal,
) (rights access.AccessRights, ok bool, err error) { // A
	err = km.store.View(func(txn *keyValStore.Txn) error {
		if _, err := km.EnsureUserCanGetUserRightsTxn(txn, caller, keyID); err != nil {
			return err
		}
		r, err := km.EnsureUserCanReadTxn(txn, user, keyID)
		if errors.Is(err, ErrUnauthorized) {
			return nil
		}
		if err != nil {
			return err
		}
		rights, ok = r, true
		return nil
	})
	return rights, ok, err
}

// SetUserRights grants user the level rights on keyID, replacing any earlier
// grant. It returns the replaced level, if any. The owner of keyID can not
// be granted anything.
func (km *KeyManager) SetUserRights(
	caller types.Principal,
	keyID types.KeyID,
	user types.Principal,
	rights access.AccessRights,
) (previous access.AccessRights, hadPrevious bool, err error) { // A
	err = km.store.Update(func(txn *keyValStore.Txn) error {
		var err error
		previous, hadPrevious, err = km.SetUserRightsTxn(txn, caller, keyID, user, rights)
		return err
	})
	return previous, hadPrevious, err
}

// SetUserRightsTxn is SetUserRights inside txn.
func (km *KeyManager) SetUserRightsTxn(
	txn *keyValStore.Txn,
	caller types.Principal,
	keyID types.KeyID,
	user types.Principal,
	rights access.AccessRights,
) (access.AccessRights, bool, error) { // A
	if _, err := km.EnsureUserCanSetUserRightsTxn(txn, caller, keyID); err != nil {
		return 0, false, err
	}
	if user == keyID.Owner {
		return 0, false, fmt.Errorf("%w: cannot change key owner's user rights", ErrInvalidOperation)
	}
	if !rights.Valid() {
		return 0, false, fmt.Errorf("%w: %d", access.ErrInvalidAccessRights, uint8(rights))
	}

	previous, hadPrevious, err := km.storedRights(txn, user, keyID)
	if err != nil {
		return 0, false, err
	}
	if err := txn.Set(km.sharedKeys, sharedKey(keyID, user), []byte{}); err != nil {
		return 0, false, err
	}
	if err := txn.Set(km.accessControl, accessKey(user, keyID), rights.Bytes()); err != nil {
		return 0, false, err
	}

	km.log.Debug("user rights set",
		"caller", caller.String(),
		"keyId", keyID.String(),
		"user", user.String(),
		"rights", rights.String())
	return previous, hadPrevious, nil
}

// RemoveUser revokes every right user has on keyID and returns the revoked
// level, if any. The owner of keyID can not be removed.
func (km *KeyManager) RemoveUser(
	caller types.Principal,
	keyID types.KeyID,
	user types.Principal,
) (previous access.AccessRights, hadPrevious bool, err error) { // A
	err = km.store.Update(func(txn *keyValStore.Txn) error {
		var err error
		previous, hadPrevious, err = km.RemoveUserTxn(txn, caller, keyID, user)
		return err
	})
	return previous, hadPrevious, err
}

// RemoveUserTxn is RemoveUser inside txn.
func (km *KeyManager) RemoveUserTxn(
	txn *keyValStore.Txn,
	caller types.Principal,
	keyID types.KeyID,
	user types.Principal,
) (access.AccessRights, bool, error) { // A
	if _, err := km.EnsureUserCanSetUserRightsTxn(txn, caller, keyID); err != nil {
		return 0, false, err
	}
	if user == keyID.Owner {
		return 0, false, fmt.Errorf("%w: cannot remove key owner", ErrInvalidOperation)
	}

	previous, hadPrevious, err := km.storedRights(txn, user, keyID)
	if err != nil {
		return 0, false, err
	}
	if !hadPrevious {
		return 0, false, nil
	}
	if err := txn.Delete(km.sharedKeys, sharedKey(keyID, user)); err != nil {
		return 0, false, err
	}
	if err := txn.Delete(km.accessControl, accessKey(user, keyID)); err != nil {
		return 0, false, err
	}

	km.log.Debug("user removed",
		"caller", caller.String(),
		"keyId", keyID.String(),
		"user", user.String())
	return previous, true, nil
}

// IsKeyShared reports whether anyone besides the owner has rights on keyID.
func (km *KeyManager) IsKeyShared(keyID types.KeyID) (bool, error) { // A
	shared := false
	err := km.store.View(func(txn *keyValStore.Txn) error {
		return txn.ScanKeys(km.sharedKeys, keyValStore.Range{Prefix: types.EncodeKeyID(keyID)}, func([]byte) (bool, error) {
			shared = true
			return false, nil
		})
	})
	return shared, err
}

func (km *KeyManager) storedRights(
	txn *keyValStore.Txn,
	user types.Principal,
	keyID types.KeyID,
) (access.AccessRights, bool, error) {
	raw, ok, err := txn.Get(km.accessControl, accessKey(user, keyID))
	if err != nil || !ok {
		return 0, false, err
	}
	rights, err := access.FromBytes(raw)
	if err != nil {
		return 0, false, fmt.Errorf("keyManager: corrupt access control entry for %s on %s: %w", user, keyID, err)
	}
	return rights, true, nil
}

// KeyIDToVetkdInput encodes keyID as derivation input: the owner length,
// the owner bytes and then the key name. The length prefix keeps owner and
// name boundaries unambiguous.
func KeyIDToVetkdInput(keyID types.KeyID) []byte {
	owner := keyID.Owner.Bytes()
	input := make([]byte, 0, 1+len(owner)+types.NameLength)
	input = append(input, byte(len(owner)))
	input = append(input, owner...)
	return append(input, keyID.Name[:]...)
}

// GetVetkeyVerificationKey fetches the public verification key of this
// deployment. It needs no authorization.
func (km *KeyManager) GetVetkeyVerificationKey(ctx context.Context) ([]byte, error) { // A
	reply, err := km.vetkd.PublicKey(ctx, vetkd.PublicKeyRequest{
		Context: []byte(km.domainSeparator),
		KeyID:   km.vetkdKeyID,
	})
	if err != nil {
		return nil, remoteCallError("vetkd_public_key", err)
	}
	return reply.PublicKey, nil
}

// GetEncryptedVetkey derives the key material of keyID, encrypted to
// transportKey.
//
// Read access is checked once, before the call to the derivation service
// is issued. No lock is held while the call is in flight and the check is
// not repeated when it returns: rights revoked in the meantime do not stop
// delivery of a derivation that was already authorized.
func (km *KeyManager) GetEncryptedVetkey(
	ctx context.Context,
	caller types.Principal,
	keyID types.KeyID,
	transportKey types.TransportKey,
) ([]byte, error) { // A
	if _, err := km.EnsureUserCanRead(caller, keyID); err != nil {
		return nil, err
	}

	reply, err := km.vetkd.DeriveKey(ctx, vetkd.DeriveKeyRequest{
		Input:              KeyIDToVetkdInput(keyID),
		Context:            []byte(km.domainSeparator),
		KeyID:              km.vetkdKeyID,
		TransportPublicKey: transportKey,
	})
	if err != nil {
		km.log.WarnContext(ctx, "key derivation failed",
			"caller", caller.String(),
			"keyId", keyID.String(),
			"error", err)
		return nil, remoteCallError("vetkd_derive_key", err)
	}
	return reply.EncryptedKey, nil
}

func remoteCallError(method string, err error) error {
	if errors.Is(err, vetkd.ErrRemoteCall) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", vetkd.ErrRemoteCall, method, err)
}
