package util

import (
	"math/big"

	"github.com/google/uuid"
)

// uidRoot is the UUID-derived UID root from DICOM PS3.5 B.2.
const uidRoot = "2.25."

// nameSpace scopes deterministic UIDs to this converter.
var nameSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/Onset-lab/nii2dcm"))

// NewUID returns a random UID.
func NewUID() string {
	return uuidToUID(uuid.New())
}

// GenerateDeterministicUID returns the same UID for the same seed.
func GenerateDeterministicUID(seed string) string {
	return uuidToUID(uuid.NewSHA1(nameSpace, []byte(seed)))
}

func uuidToUID(u uuid.UUID) string {
	return uidRoot + new(big.Int).SetBytes(u[:]).String()
}
