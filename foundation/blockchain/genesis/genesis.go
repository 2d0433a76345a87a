// Package genesis maintains the bootstrap parameters for a fresh network:
// the chain identifier recorded for the network (it is not compared against
// peers' identifiers), and any
// pre-funded addresses for test networks that don't want to rely solely on
// coinbase faucet transactions.
package genesis

import (
	"encoding/json"
	"os"
	"time"
)

// Genesis holds the parameters every honest node on one network must agree
// on before epoch 1 is ever produced.
type Genesis struct {
	Date     time.Time         `json:"date"`
	ChainID  uint16            `json:"chainId"`
	Balances map[string]uint64 `json:"balances"`
}

// Default returns a fresh-network genesis with no pre-funded accounts.
func Default(chainID uint16) Genesis {
	return Genesis{
		Date:     time.Now().UTC(),
		ChainID:  chainID,
		Balances: map[string]uint64{},
	}
}

// Load reads a genesis file from path.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	var g Genesis
	if err := json.Unmarshal(content, &g); err != nil {
		return Genesis{}, err
	}

	return g, nil
}
