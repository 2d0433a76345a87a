package main

import "github.com/lumenledger/node/app/wallet/cmd"

func main() {
	cmd.Execute()
}
