package pipeline

import (
	"pdfsuite/doc"
	"pdfsuite/security"
)

// Security operations mutate document-level protection state only. Error
// classification (weak password, authentication, not encrypted) comes
// straight from the security package.

func applyEncrypt(d *doc.Document, params EncryptParams) error {
	state, err := security.Protect(params.UserPassword, params.OwnerPassword, params.Perms)
	if err != nil {
		return err
	}
	d.Encryption = state
	return nil
}

func applyDecrypt(d *doc.Document, params DecryptParams) error {
	if !d.Encrypted() {
		return security.ErrNotEncrypted
	}
	if _, err := d.Encryption.Authenticate(params.Password); err != nil {
		return err
	}
	d.ClearEncryption()
	return nil
}

func applySetPermissions(d *doc.Document, params PermissionParams) error {
	return d.Encryption.SetPermissions(params.Perms)
}

func applyCleanMetadata(d *doc.Document, params CleanMetadataParams) error {
	keep := make(map[string]bool, len(params.Keep))
	for _, k := range params.Keep {
		keep[k] = true
	}
	for k := range d.Metadata {
		if !keep[k] {
			delete(d.Metadata, k)
		}
	}
	return nil
}
