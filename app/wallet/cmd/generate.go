package cmd

import (
	"fmt"
	"log"

	"github.com/lumenledger/node/foundation/blockchain/crypto"
	"github.com/spf13/cobra"
)

// generateCmd represents the generate command
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate new Ed25519 key pair",
	Run: func(cmd *cobra.Command, args []string) {
		pub, priv, err := crypto.GenerateKeyPair()
		if err != nil {
			log.Fatal(err)
		}

		path := getPrivateKeyPath()
		if err := crypto.SaveKey(path, priv); err != nil {
			log.Fatal(err)
		}

		addr, err := crypto.AddressOf(pub)
		if err != nil {
			log.Fatal(err)
		}

		fmt.Println("Wrote key:", path)
		fmt.Println("Address:", addr)
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)
}
