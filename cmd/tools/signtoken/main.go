package main

import (
	"flag"
	"fmt"
	"log"

	"safebrowse.local/internal/platform/auth"
	"safebrowse.local/internal/platform/config"
)

// 给 API 客户端签发 JWT；secret/issuer/ttl 默认取和服务端相同的配置
func main() {
	cfg := config.Load()

	ttl := flag.Duration("ttl", cfg.JWTTTL, "token lifetime")
	flag.Parse()
	if flag.NArg() != 1 {
		log.Fatal("usage: go run ./cmd/tools/signtoken [-ttl 720h] <client-id>")
	}

	ts, err := auth.NewHS256Service(cfg.JWTSecret, cfg.JWTIssuer, *ttl)
	if err != nil {
		log.Fatal(err)
	}
	token, err := ts.Sign(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(token)
}
