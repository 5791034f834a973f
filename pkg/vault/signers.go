package vault

import (
	"github.com/gagliardetto/solana-go"
)

// CountEphemeralSigners counts the distinct signer accounts in instructions other than the vault
// and the creator. The program reserves that many signer PDAs for the vault transaction.
func CountEphemeralSigners(instructions []solana.Instruction, vault, creator solana.PublicKey) uint8 {
	seen := map[solana.PublicKey]struct{}{}
	for _, ix := range instructions {
		for _, meta := range ix.Accounts() {
			if !meta.IsSigner || meta.PublicKey.Equals(vault) || meta.PublicKey.Equals(creator) {
				continue
			}
			seen[meta.PublicKey] = struct{}{}
		}
	}
	return uint8(len(seen))
}
