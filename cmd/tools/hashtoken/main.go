package main

import (
	"fmt"
	"log"
	"os"

	"safebrowse.local/internal/platform/auth"
)

// 输出 INTERNAL_TOKEN_HASH 用的 bcrypt 哈希
func main() {
	if len(os.Args) != 2 {
		log.Fatal("usage: go run ./cmd/tools/hashtoken <token>")
	}

	hash, err := auth.HashInternalToken(os.Args[1])
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(hash)
}
