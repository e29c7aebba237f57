//go:build tools

package shardledger

import (
	_ "github.com/golang/mock/mockgen"
)
