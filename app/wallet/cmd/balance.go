package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/lumenledger/node/foundation/blockchain/crypto"
	"github.com/lumenledger/node/foundation/blockchain/peer"
	"github.com/spf13/cobra"
)

// balanceCmd represents the balance command
var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print your balance.",
	Run: func(cmd *cobra.Command, args []string) {
		pub, _, err := crypto.LoadKey(getPrivateKeyPath())
		if err != nil {
			log.Fatal(err)
		}

		account, err := crypto.AddressOf(pub)
		if err != nil {
			log.Fatal(err)
		}

		fmt.Println("For Account:", account)

		resp, err := http.Get(fmt.Sprintf("%s/v1/balance/%s", nodeURL, account))
		if err != nil {
			log.Fatal(err)
		}
		defer resp.Body.Close()

		var balance peer.BalanceResponse
		if err := json.NewDecoder(resp.Body).Decode(&balance); err != nil {
			log.Fatal(err)
		}

		fmt.Println("Balance:", balance.Balance)
		fmt.Println("Nonce:", balance.Nonce)
	},
}

func init() {
	rootCmd.AddCommand(balanceCmd)
}
