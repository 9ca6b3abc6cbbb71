package keyManager

import (
	"fmt"

	"github.com/i5heu/ouroboros-keybroker/internal/keyValStore"
	"github.com/i5heu/ouroboros-keybroker/pkg/access"
	"github.com/i5heu/ouroboros-keybroker/pkg/types"
)

// EnsureUserCanRead returns the rights of user on keyID if they include
// reading, and ErrUnauthorized otherwise.
func (km *KeyManager) EnsureUserCanRead(user types.Principal, keyID types.KeyID) (access.AccessRights, error) {
	return km.ensureInView(user, keyID, access.AccessRights.CanRead)
}

func (km *KeyManager) EnsureUserCanWrite(user types.Principal, keyID types.KeyID) (access.AccessRights, error) {
	return km.ensureInView(user, keyID, access.AccessRights.CanWrite)
}

func (km *KeyManager) EnsureUserCanGetUserRights(user types.Principal, keyID types.KeyID) (access.AccessRights, error) {
	return km.ensureInView(user, keyID, access.AccessRights.CanGetUserRights)
}

func (km *KeyManager) EnsureUserCanSetUserRights(user types.Principal, keyID types.KeyID) (access.AccessRights, error) {
	return km.ensureInView(user, keyID, access.AccessRights.CanSetUserRights)
}

func (km *KeyManager) EnsureUserCanReadTxn(
	txn *keyValStore.Txn,
	user types.Principal,
	keyID types.KeyID,
) (access.AccessRights, error) {
	return km.ensure(txn, user, keyID, access.AccessRights.CanRead)
}

func (km *KeyManager) EnsureUserCanWriteTxn(
	txn *keyValStore.Txn,
	user types.Principal,
	keyID types.KeyID,
) (access.AccessRights, error) {
	return km.ensure(txn, user, keyID, access.AccessRights.CanWrite)
}

func (km *KeyManager) EnsureUserCanGetUserRightsTxn(
	txn *keyValStore.Txn,
	user types.Principal,
	keyID types.KeyID,
) (access.AccessRights, error) {
	return km.ensure(txn, user, keyID, access.AccessRights.CanGetUserRights)
}

func (km *KeyManager) EnsureUserCanSetUserRightsTxn(
	txn *keyValStore.Txn,
	user types.Principal,
	keyID types.KeyID,
) (access.AccessRights, error) {
	return km.ensure(txn, user, keyID, access.AccessRights.CanSetUserRights)
}

func (km *KeyManager) ensureInView(
	user types.Principal,
	keyID types.KeyID,
	allowed func(access.AccessRights) bool,
) (access.AccessRights, error) {
	var rights access.AccessRights
	err := km.store.View(func(txn *keyValStore.Txn) error {
		var err error
		rights, err = km.ensure(txn, user, keyID, allowed)
		return err
	})
	return rights, err
}

// ensure is the one check behind every capability: owners pass with full
// rights, everyone else needs a stored level that allows the capability.
// A missing entry and an insufficient one are indistinguishable.
func (km *KeyManager) ensure(
	txn *keyValStore.Txn,
	user types.Principal,
	keyID types.KeyID,
	allowed func(access.AccessRights) bool,
) (access.AccessRights, error) { // A
	if user == keyID.Owner {
		return access.OwnerRights(), nil
	}

	rights, ok, err := km.storedRights(txn, user, keyID)
	if err != nil {
		return 0, err
	}
	if !ok || !allowed(rights) {
		km.log.Debug("access denied", "user", user.String(), "keyId", keyID.String())
		return 0, fmt.Errorf("%w: key %s", ErrUnauthorized, keyID)
	}
	return rights, nil
}
