package settlement

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// PredictAddress returns the address that the program created by creator with the
// given creation nonce will receive: keccak256(rlp([creator, nonce]))[12:].
func PredictAddress(creator common.Address, nonce uint64) common.Address {
	return crypto.CreateAddress(creator, nonce)
}
