// Ledger runs the hub, node handlers and replica processes of a sharded ledger.
package main

import "github.com/relab/shardledger/internal/cli"

func main() {
	cli.Execute()
}
