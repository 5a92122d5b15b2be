package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"flag"

	"github.com/DeltaLaboratory/gridcache"
	"github.com/DeltaLaboratory/gridcache/cmd/client/parser"
	"github.com/DeltaLaboratory/gridcache/codec"
	"github.com/chzyer/readline"
	"github.com/rs/zerolog"

	_ "embed"
)

var (
	addrs = flag.String("addr", "localhost:8000", "Comma-separated grid node addresses")
)

//go:embed help
var helpString string

func main() {
	flag.Parse()

	logger := zerolog.New(zerolog.NewConsoleWriter()).Level(zerolog.WarnLevel).With().Timestamp().Logger()

	client, err := gridcache.Connect(gridcache.Options{
		Addresses: strings.Split(*addrs, ","),
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt: ">> ",
	})
	if err != nil {
		log.Fatalf("Failed to initalize readline: %v", err)
	}
	defer rl.Close()

	fmt.Println("Grid cache client (type '.exit' to quit)")
	for {
		line, err := rl.Readline()
		if err != nil {
			break
		}

		line = strings.TrimSpace(line)
		if line == ".help" {
			printHelp()
			continue
		} else if line == ".exit" {
			break
		} else if line == "" {
			continue
		}

		handleQuery(client, line)
	}
}

func printHelp() {
	fmt.Println(helpString)
}

func handleQuery(client *gridcache.Client, query string) {
	parsed, err := parser.Parse(query)
	if err != nil {
		fmt.Println("Parsing Error:", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch req := parsed.(type) {
	case parser.PutRequest:
		err := client.Cache(req.Cache).Put(ctx, codec.String(req.Key), codec.String(req.Value))
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return
		}
		fmt.Printf("PUT: cache=%s, key=%s, value=%s\n", req.Cache, req.Key, req.Value)

	case parser.GetRequest:
		var value codec.String
		found, err := client.Cache(req.Cache).Get(ctx, codec.String(req.Key), &value)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return
		}
		if !found {
			fmt.Printf("GET: cache=%s, key=%s, (no mapping)\n", req.Cache, req.Key)
			return
		}
		fmt.Printf("GET: cache=%s, key=%s, value=%s\n", req.Cache, req.Key, string(value))

	case parser.ContainsRequest:
		exists, err := client.Cache(req.Cache).ContainsKey(ctx, codec.String(req.Key))
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return
		}
		fmt.Printf("CONTAINS: cache=%s, key=%s, exists=%v\n", req.Cache, req.Key, exists)

	case parser.RemoveRequest:
		removed, err := client.Cache(req.Cache).Remove(ctx, codec.String(req.Key))
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return
		}
		fmt.Printf("REMOVE: cache=%s, key=%s, removed=%v\n", req.Cache, req.Key, removed)

	case parser.SizeRequest:
		size, err := client.Cache(req.Cache).GetSize(ctx, gridcache.PeekAll)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return
		}
		fmt.Printf("SIZE: cache=%s, size=%d\n", req.Cache, size)

	case parser.ClearRequest:
		cache := client.Cache(req.Cache)
		if req.Key == "" {
			if err := cache.Clear(ctx); err != nil {
				fmt.Printf("error: %v\n", err)
				return
			}
			fmt.Printf("CLEAR: cache=%s\n", req.Cache)
			return
		}
		if err := cache.ClearKey(ctx, codec.String(req.Key)); err != nil {
			fmt.Printf("error: %v\n", err)
			return
		}
		fmt.Printf("CLEAR: cache=%s, key=%s\n", req.Cache, req.Key)

	case parser.PeekRequest:
		var value codec.String
		found, err := client.Cache(req.Cache).LocalPeek(codec.String(req.Key), &value)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return
		}
		if !found {
			fmt.Printf("PEEK: cache=%s, key=%s, (not in near cache)\n", req.Cache, req.Key)
			return
		}
		fmt.Printf("PEEK: cache=%s, key=%s, value=%s\n", req.Cache, req.Key, string(value))

	case parser.RefreshRequest:
		if err := client.Cache(req.Cache).RefreshAffinityMapping(ctx); err != nil {
			fmt.Printf("error: %v\n", err)
			return
		}
		fmt.Printf("REFRESH: cache=%s\n", req.Cache)
	}
}
