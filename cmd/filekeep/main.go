// Command filekeep はファイル管理APIサーバーとサムネイル生成ワーカーを起動する。
//
//	filekeep [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/filekeep/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "filekeep: %v\n", err)
		os.Exit(1)
	}
}
