package cmd

import (
	"fmt"
	"log"

	"github.com/lumenledger/node/foundation/blockchain/crypto"
	"github.com/spf13/cobra"
)

// addressCmd represents the address command
var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Print address for the specific wallet",
	Run: func(cmd *cobra.Command, args []string) {
		pub, _, err := crypto.LoadKey(getPrivateKeyPath())
		if err != nil {
			log.Fatal(err)
		}

		addr, err := crypto.AddressOf(pub)
		if err != nil {
			log.Fatal(err)
		}

		fmt.Println(addr)
	},
}

func init() {
	rootCmd.AddCommand(addressCmd)
}
