package keyring

import (
	"encoding/json"
	"os"

	"github.com/kitsuneislife/keyring-vcm/internal/securefile"
	"github.com/kitsuneislife/keyring-vcm/internal/secmem"
	"github.com/kitsuneislife/keyring-vcm/kverrors"
)

// MasterFile is the JSON layout used to keep a master secret on disk.
//
// This format is intended for operator workstations and single-host deployments.
// Keep it secret; the file is written with owner-only permissions.
type MasterFile struct {
	KeyHex string `json:"key_hex"` // Lowercase-hex master secret (64 characters).
}

// SaveMasterFile writes the master secret to path as JSON with 0600 permissions,
// atomically so a crash never leaves a partial key file behind.
func SaveMasterFile(path string, master []byte) error {
	s, err := ExportMaster(master)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(MasterFile{KeyHex: s}, "", "  ")
	if err != nil {
		return kverrors.IO("encode", err)
	}
	b = append(b, '\n')
	if err := securefile.WriteFileAtomic(path, b, 0o600); err != nil {
		return kverrors.IO("write", err)
	}
	return nil
}

// LoadMasterFile reads and validates a master secret from a JSON key file. The caller
// owns the returned buffer and should zeroize it when done.
func LoadMasterFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, kverrors.IO("read", err)
	}
	var f MasterFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, kverrors.Validation("key_file", "not valid JSON: %v", err)
	}
	secmem.Zero(b)
	if f.KeyHex == "" {
		return nil, kverrors.Validation("key_file", "missing key_hex")
	}
	return ImportMaster(f.KeyHex)
}
