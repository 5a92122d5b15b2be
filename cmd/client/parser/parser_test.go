package parser

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    interface{}
		wantErr bool
	}{
		{
			name:  "put",
			query: "PUT users user-1 alice",
			want:  PutRequest{Cache: "users", Key: "user-1", Value: "alice"},
		},
		{
			name:  "put quoted value",
			query: `PUT users user-1 "alice smith"`,
			want:  PutRequest{Cache: "users", Key: "user-1", Value: "alice smith"},
		},
		{
			name:  "put single quoted",
			query: "PUT users 'key with spaces' v",
			want:  PutRequest{Cache: "users", Key: "key with spaces", Value: "v"},
		},
		{
			name:  "get",
			query: "GET users user-1",
			want:  GetRequest{Cache: "users", Key: "user-1"},
		},
		{
			name:  "contains",
			query: "CONTAINS users user-1",
			want:  ContainsRequest{Cache: "users", Key: "user-1"},
		},
		{
			name:  "remove",
			query: "REMOVE users user-1",
			want:  RemoveRequest{Cache: "users", Key: "user-1"},
		},
		{
			name:  "size",
			query: "SIZE users",
			want:  SizeRequest{Cache: "users"},
		},
		{
			name:  "clear cache",
			query: "CLEAR users",
			want:  ClearRequest{Cache: "users"},
		},
		{
			name:  "clear key",
			query: "CLEAR users user-1",
			want:  ClearRequest{Cache: "users", Key: "user-1"},
		},
		{
			name:  "peek",
			query: "PEEK users user-1",
			want:  PeekRequest{Cache: "users", Key: "user-1"},
		},
		{
			name:  "refresh",
			query: "REFRESH users",
			want:  RefreshRequest{Cache: "users"},
		},
		{
			name:  "extra whitespace",
			query: "  GET   users   user-1  ",
			want:  GetRequest{Cache: "users", Key: "user-1"},
		},
		{
			name:    "empty",
			query:   "",
			wantErr: true,
		},
		{
			name:    "unknown command",
			query:   "FROB users",
			wantErr: true,
		},
		{
			name:    "put missing value",
			query:   "PUT users user-1",
			wantErr: true,
		},
		{
			name:    "get too many args",
			query:   "GET users user-1 extra",
			wantErr: true,
		},
		{
			name:    "size missing cache",
			query:   "SIZE",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.query)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) = %v, want error", tt.query, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.query, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Parse(%q) = %#v, want %#v", tt.query, got, tt.want)
			}
		})
	}
}
