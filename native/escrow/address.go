package escrow

import (
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Minimal proxy template framing. Each deployed escrow is a thin proxy around
// the side's implementation seed; hashing the assembled template once at
// factory construction lets addresses be derived without materialising the
// template per call.
var (
	proxyPrefix = []byte{
		0x3d, 0x60, 0x2d, 0x80, 0x60, 0x0a, 0x3d, 0x39, 0x81, 0xf3,
		0x36, 0x3d, 0x3d, 0x37, 0x3d, 0x3d, 0x3d, 0x36, 0x3d, 0x73,
	}
	proxySuffix = []byte{
		0x5a, 0xf4, 0x3d, 0x82, 0x80, 0x3e, 0x90, 0x3d, 0x91, 0x60,
		0x2b, 0x57, 0xfd, 0x5b, 0xf3,
	}
)

// ProxyTemplateHash computes the fixed hash of the minimal proxy template
// wrapping the given implementation seed. The result feeds address derivation
// for every escrow of that side.
func ProxyTemplateHash(implementation [32]byte) [32]byte {
	return [32]byte(ethcrypto.Keccak256Hash(proxyPrefix, implementation[:], proxySuffix))
}

// DeriveAddress computes the deterministic deployment address for a
// commitment: the last 20 bytes of keccak256(0xff || factory || commitment ||
// templateHash). It must match, bit for bit, the address the deployment step
// registers, so a counterpart observer can verify an escrow's existence and
// terms before querying the ledger.
func DeriveAddress(factory [20]byte, commitment [32]byte, templateHash [32]byte) [20]byte {
	derived := ethcrypto.CreateAddress2(common.BytesToAddress(factory[:]), commitment, templateHash[:])
	return [20]byte(derived)
}
