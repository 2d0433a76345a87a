package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/lumenledger/node/foundation/blockchain/crypto"
	"github.com/lumenledger/node/foundation/blockchain/database"
	"github.com/lumenledger/node/foundation/blockchain/peer"
	"github.com/spf13/cobra"
)

var (
	to     string
	amount uint64
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a signed transaction",
	Run: func(cmd *cobra.Command, args []string) {
		pub, priv, err := crypto.LoadKey(getPrivateKeyPath())
		if err != nil {
			log.Fatal(err)
		}

		from, err := crypto.AddressOf(pub)
		if err != nil {
			log.Fatal(err)
		}

		nonce, err := fetchNonce(from)
		if err != nil {
			log.Fatal(err)
		}

		tx, err := database.NewTransaction(pub, priv, crypto.Address(to), amount, nonce+1, time.Now().Unix())
		if err != nil {
			log.Fatal(err)
		}

		body, err := json.Marshal(tx)
		if err != nil {
			log.Fatal(err)
		}

		resp, err := http.Post(fmt.Sprintf("%s/v1/transaction", nodeURL), "application/json", bytes.NewReader(body))
		if err != nil {
			log.Fatal(err)
		}
		defer resp.Body.Close()

		fmt.Println("Status:", resp.Status)
	},
}

func fetchNonce(account crypto.Address) (uint64, error) {
	resp, err := http.Get(fmt.Sprintf("%s/v1/balance/%s", nodeURL, account))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var balance peer.BalanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&balance); err != nil {
		return 0, err
	}

	return balance.Nonce, nil
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&to, "to", "t", "", "Address of the recipient.")
	sendCmd.MarkFlagRequired("to")
	sendCmd.Flags().Uint64VarP(&amount, "amount", "a", 0, "Amount to send.")
}
