package main

import (
	"fmt"
	"os"
	_ "time/tzdata"

	cmd "github.com/liliang-cn/waktusolat-mcp/cmd/waktu"
)

var version = "dev"

func main() {
	cmd.SetVersion(version)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
