package main

import (
	"os"

	"github.com/smazurov/procpool/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
