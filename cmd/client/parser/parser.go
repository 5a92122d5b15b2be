package parser

import (
	"fmt"
	"strings"
)

type PutRequest struct {
	Cache string
	Key   string
	Value string
}

type GetRequest struct {
	Cache string
	Key   string
}

type ContainsRequest struct {
	Cache string
	Key   string
}

type RemoveRequest struct {
	Cache string
	Key   string
}

type SizeRequest struct {
	Cache string
}

// ClearRequest clears a single key when Key is set and the whole cache
// otherwise.
type ClearRequest struct {
	Cache string
	Key   string
}

type PeekRequest struct {
	Cache string
	Key   string
}

type RefreshRequest struct {
	Cache string
}

func parseQuery(query string) []string {
	query = strings.TrimSpace(query)

	tokens := []string{}
	currentToken := ""
	inQuotes := false
	quoteChar := rune(0)
	escape := false

	for _, char := range query {
		switch {
		case (char == '"' || char == '\'') && !escape:
			if !inQuotes {
				inQuotes = true
				quoteChar = char
			} else if char == quoteChar {
				tokens = append(tokens, currentToken)
				currentToken = ""
				inQuotes = false
				quoteChar = rune(0)
			} else {
				currentToken += string(char)
			}
		case char == ' ':
			if inQuotes {
				currentToken += string(char)
			} else if currentToken != "" {
				tokens = append(tokens, currentToken)
				currentToken = ""
			}
		case char == '\\':
			escape = true
		default:
			currentToken += string(char)
		}
	}

	if currentToken != "" {
		tokens = append(tokens, currentToken)
	}

	return tokens
}

func Parse(query string) (interface{}, error) {
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}

	tokens := parseQuery(query)

	if len(tokens) < 1 {
		return nil, fmt.Errorf("invalid query")
	}

	switch tokens[0] {
	case "PUT":
		if len(tokens) != 4 {
			return nil, fmt.Errorf("PUT query requires exactly 3 arguments (cache, key and value)")
		}
		return PutRequest{
			Cache: tokens[1],
			Key:   tokens[2],
			Value: tokens[3],
		}, nil

	case "GET":
		if len(tokens) != 3 {
			return nil, fmt.Errorf("GET query requires exactly 2 arguments (cache and key)")
		}
		return GetRequest{
			Cache: tokens[1],
			Key:   tokens[2],
		}, nil

	case "CONTAINS":
		if len(tokens) != 3 {
			return nil, fmt.Errorf("CONTAINS query requires exactly 2 arguments (cache and key)")
		}
		return ContainsRequest{
			Cache: tokens[1],
			Key:   tokens[2],
		}, nil

	case "REMOVE":
		if len(tokens) != 3 {
			return nil, fmt.Errorf("REMOVE query requires exactly 2 arguments (cache and key)")
		}
		return RemoveRequest{
			Cache: tokens[1],
			Key:   tokens[2],
		}, nil

	case "SIZE":
		if len(tokens) != 2 {
			return nil, fmt.Errorf("SIZE query requires exactly 1 argument (cache)")
		}
		return SizeRequest{
			Cache: tokens[1],
		}, nil

	case "CLEAR":
		if len(tokens) != 2 && len(tokens) != 3 {
			return nil, fmt.Errorf("CLEAR query requires 1 or 2 arguments (cache, optional key)")
		}
		req := ClearRequest{Cache: tokens[1]}
		if len(tokens) == 3 {
			req.Key = tokens[2]
		}
		return req, nil

	case "PEEK":
		if len(tokens) != 3 {
			return nil, fmt.Errorf("PEEK query requires exactly 2 arguments (cache and key)")
		}
		return PeekRequest{
			Cache: tokens[1],
			Key:   tokens[2],
		}, nil

	case "REFRESH":
		if len(tokens) != 2 {
			return nil, fmt.Errorf("REFRESH query requires exactly 1 argument (cache)")
		}
		return RefreshRequest{
			Cache: tokens[1],
		}, nil

	default:
		return nil, fmt.Errorf("unknown query type: %s", tokens[0])
	}
}
