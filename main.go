package main

import (
	"os"

	"github.com/Dxstvn/realestatecrypto-sub008/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
