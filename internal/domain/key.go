package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// DomainIdentity is the hash domain for identity keys.
// The version suffix allows a future change of the key encoding.
const DomainIdentity = "guildmark/identity/v1"

// IdentityKey is the uniqueness constraint of a persisted record.
type IdentityKey struct {
	UserID     ID
	TemplateID ID
	GrantorID  ID
}

// NewIdentityKey builds a key from already-canonical ids.
func NewIdentityKey(user, template, grantor ID) IdentityKey {
	return IdentityKey{
		UserID:     NormalizeID(user),
		TemplateID: NormalizeID(template),
		GrantorID:  NormalizeID(grantor),
	}
}

// String renders "user/template/grantor", with "null" for the null grantor.
func (k IdentityKey) String() string {
	return string(k.UserID) + "/" + string(k.TemplateID) + "/" + k.GrantorID.String()
}

// Hash is the storage form of the key.
// Format: hex(SHA256(domain 0x00 user 0x00 template 0x00 grantor-or-"null")).
// Null separators keep "a/b" + "c" distinct from "a" + "b/c".
func (k IdentityKey) Hash() string {
	h := sha256.New()
	h.Write([]byte(DomainIdentity))
	for _, part := range []string{string(k.UserID), string(k.TemplateID), k.GrantorID.String()} {
		h.Write([]byte{0x00})
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Less orders keys by user, template, then grantor.
func (k IdentityKey) Less(o IdentityKey) bool {
	if k.UserID != o.UserID {
		return k.UserID < o.UserID
	}
	if k.TemplateID != o.TemplateID {
		return k.TemplateID < o.TemplateID
	}
	return k.GrantorID < o.GrantorID
}
