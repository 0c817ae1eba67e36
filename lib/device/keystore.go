package device

import (
	"os"
	"path/filepath"

	"github.com/fleetstress/fleetstress/lib/crypto/rsacipher"
	"github.com/fleetstress/fleetstress/lib/util/logger"
	"github.com/samber/oops"
)

var log = logger.GetFleetLogger()

// KeyPath returns the on-disk path of a device's private key, per spec §6:
// <data>/keys/<deviceIdHex>.pem.
func KeyPath(dataDir, idHex string) string {
	return filepath.Join(dataDir, "keys", idHex+".pem")
}

// LoadOrCreateIdentity loads the identity named by idHex from dataDir if it
// exists, or mints a fresh one and persists it there. Passing an empty
// idHex always mints a fresh identity (spec §6 new_session: "optional hex
// id"). Concurrent sessions for the same device id are undefined behavior
// (spec §5) — this function does not attempt to lock the key file.
func LoadOrCreateIdentity(dataDir, idHex string) (*Identity, error) {
	if idHex == "" {
		id, err := NewIdentity()
		if err != nil {
			return nil, err
		}
		if dataDir != "" {
			if err := persist(dataDir, id); err != nil {
				return nil, err
			}
		}
		return id, nil
	}

	idBytes, err := IdentityFromHex(idHex)
	if err != nil {
		return nil, err
	}

	path := KeyPath(dataDir, idHex)
	pemBytes, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.WithField("device_id", idHex).Debug("no persisted key, generating new identity")
		priv, genErr := rsacipher.Generate1024()
		if genErr != nil {
			return nil, oops.Wrapf(genErr, "device: generate keypair for %s", idHex)
		}
		id := &Identity{ID: idBytes, Priv: priv}
		if dataDir != "" {
			if err := persist(dataDir, id); err != nil {
				return nil, err
			}
		}
		return id, nil
	}
	if err != nil {
		return nil, oops.Wrapf(err, "device: read key file %s", path)
	}

	priv, err := rsacipher.LoadPrivatePEM(pemBytes)
	if err != nil {
		return nil, oops.Wrapf(err, "device: parse key file %s", path)
	}
	return &Identity{ID: idBytes, Priv: priv}, nil
}

func persist(dataDir string, id *Identity) error {
	path := KeyPath(dataDir, id.IDHex())
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return oops.Wrapf(err, "device: create key directory for %s", path)
	}
	if err := os.WriteFile(path, id.PrivatePEM(), 0o600); err != nil {
		return oops.Wrapf(err, "device: write key file %s", path)
	}
	log.WithField("device_id", id.IDHex()).Debug("persisted device identity")
	return nil
}
