package proof

import (
	"encoding/hex"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr/mimc"

	"anonpay/internal/commitment"
	"anonpay/internal/params"
)

// SerialSize is the length of a serial number.
const SerialSize = fr.Bytes

// SerialNumber is the public double-spend tag of a spent coin.
type SerialNumber [SerialSize]byte

func (s SerialNumber) String() string {
	return hex.EncodeToString(s[:])
}

// MarshalText encodes the serial as hex.
func (s SerialNumber) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a hex serial.
func (s *SerialNumber) UnmarshalText(b []byte) error {
	if len(b) != 2*SerialSize {
		return fmt.Errorf("serial number: want %d hex bytes, got %d", 2*SerialSize, len(b))
	}
	_, err := hex.Decode(s[:], b)
	return err
}

var serialDST = []byte(params.DomainTag + "/serial")

// DeriveSerial computes serial = MiMC(spend_key || H(commitment)), a PRF keyed by the
// spend key. The same inputs always yield the same serial.
//
// The spend key is not bound to the coin: a commitment carries no public key, so the
// holder of an opening can derive a different serial for the same coin under another key.
// A spent-serial set therefore rejects replays of a transaction, not every second spend of
// a coin.
func DeriveSerial(spendKey *fr.Element, c commitment.Commitment) (SerialNumber, error) {
	id := c.ID()
	cm, err := fr.Hash(id[:], serialDST, 1)
	if err != nil {
		return SerialNumber{}, fmt.Errorf("derive serial: %w", err)
	}
	key := spendKey.Bytes()
	defer clear(key[:])
	cmb := cm[0].Bytes()

	h := mimc.NewMiMC()
	if _, err := h.Write(key[:]); err != nil {
		return SerialNumber{}, fmt.Errorf("derive serial: %w", err)
	}
	if _, err := h.Write(cmb[:]); err != nil {
		return SerialNumber{}, fmt.Errorf("derive serial: %w", err)
	}
	var sn SerialNumber
	copy(sn[:], h.Sum(nil))
	return sn, nil
}
