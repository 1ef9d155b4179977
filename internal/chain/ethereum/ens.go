package ethereum

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Minimal ABI fragments for the registry contracts; only the methods the
// agent calls are declared.
const (
	controllerABI = `[
		{"name":"available","type":"function","stateMutability":"view","inputs":[{"name":"name","type":"string"}],"outputs":[{"name":"","type":"bool"}]},
		{"name":"rentPrice","type":"function","stateMutability":"view","inputs":[{"name":"name","type":"string"},{"name":"duration","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"makeCommitment","type":"function","stateMutability":"pure","inputs":[{"name":"name","type":"string"},{"name":"owner","type":"address"},{"name":"duration","type":"uint256"},{"name":"secret","type":"bytes32"}],"outputs":[{"name":"","type":"bytes32"}]},
		{"name":"commit","type":"function","stateMutability":"nonpayable","inputs":[{"name":"commitment","type":"bytes32"}],"outputs":[]},
		{"name":"register","type":"function","stateMutability":"payable","inputs":[{"name":"name","type":"string"},{"name":"owner","type":"address"},{"name":"duration","type":"uint256"},{"name":"secret","type":"bytes32"}],"outputs":[]},
		{"name":"renew","type":"function","stateMutability":"payable","inputs":[{"name":"name","type":"string"},{"name":"duration","type":"uint256"}],"outputs":[]}
	]`

	registryABI = `[
		{"name":"owner","type":"function","stateMutability":"view","inputs":[{"name":"node","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]},
		{"name":"setSubnodeOwner","type":"function","stateMutability":"nonpayable","inputs":[{"name":"node","type":"bytes32"},{"name":"label","type":"bytes32"},{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"bytes32"}]}
	]`

	registrarABI = `[
		{"name":"nameExpires","type":"function","stateMutability":"view","inputs":[{"name":"id","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"safeTransferFrom","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]}
	]`

	wrapperABI = `[
		{"name":"ownerOf","type":"function","stateMutability":"view","inputs":[{"name":"id","type":"uint256"}],"outputs":[{"name":"","type":"address"}]}
	]`

	resolverABI = `[
		{"name":"setAddr","type":"function","stateMutability":"nonpayable","inputs":[{"name":"node","type":"bytes32"},{"name":"a","type":"address"}],"outputs":[]}
	]`
)

// Namehash implements the EIP-137 recursive hash for a full name.
func Namehash(name string) common.Hash {
	node := make([]byte, 32)
	if name == "" {
		return common.BytesToHash(node)
	}
	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		labelHash := crypto.Keccak256([]byte(labels[i]))
		node = crypto.Keccak256(node, labelHash)
	}
	return common.BytesToHash(node)
}

// Labelhash hashes a single label.
func Labelhash(label string) common.Hash {
	return common.BytesToHash(crypto.Keccak256([]byte(label)))
}

// SplitLabel separates "alice.eth" into its first label and parent.
func SplitLabel(name string) (label, parent string) {
	parts := strings.SplitN(name, ".", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}
