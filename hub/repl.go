package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"text/tabwriter"
	"time"
)

const usage = `
    help
    nodes
    transactions
    transfer -from <account> -to <account> -a <amount> -s <alias>
    deposit -to <account> -a <amount> -s <alias>
    deploy -s <alias> <port>-<port> ...
    stop -s <alias> <port>-<port> ...
    bench -n <count> -r <rate> -s <alias>
    exit
`

// ErrExit is returned by Exec for the exit command.
var ErrExit = errors.New("exit")

// Exec runs one command line and writes its output to out.
// Input errors are returned wrapped in ErrInvalidInput; the hub keeps running.
func (h *Hub) Exec(ctx context.Context, line string, out io.Writer) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "help":
		fmt.Fprint(out, usage)
	case "nodes":
		h.printNodes(out)
	case "transactions":
		h.printTransactions(out)
	case "transfer", "deposit":
		ta, err := ParseTransfer(args, cmd == "deposit")
		if err != nil {
			return err
		}
		tx, err := h.Transfer(ta)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "submitted transaction %s\n", tx.ID)
	case "deploy", "stop":
		shards, err := ParseShards(args)
		if err != nil {
			return err
		}
		if cmd == "deploy" {
			h.Deploy(shards)
		} else {
			h.Stop(shards)
		}
		fmt.Fprintf(out, "%s requested for %v\n", cmd, shards)
	case "bench":
		ba, err := ParseBench(args)
		if err != nil {
			return err
		}
		start := time.Now()
		if err := h.Bench(ctx, ba); err != nil {
			return err
		}
		fmt.Fprintf(out, "submitted %d transactions in %v\n", ba.Count, time.Since(start).Round(time.Millisecond))
	case "exit", "quit":
		return ErrExit
	default:
		return fmt.Errorf("%w: unknown command %q (try help)", ErrInvalidInput, cmd)
	}
	return nil
}

func (h *Hub) printNodes(out io.Writer) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "HOST\tPORT\tOWNER\tINDEX\tRANK")
	for _, p := range h.registry.All() {
		fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%d\n", p.Host, p.Port, p.Owner, p.Index, p.Rank)
	}
	w.Flush()
}

func (h *Hub) printTransactions(out io.Writer) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TRANSACTION ID\tSOURCE\tDESTINATION\tAMOUNT\tELAPSED\tDECIDED BY")
	for _, r := range h.txs.Records() {
		tx, _ := h.Transaction(r.ID)
		elapsed := "WAITING"
		if r.Done {
			elapsed = r.Elapsed.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%g\t%s\t%s\n", r.ID, tx.From, tx.To, tx.Amount, elapsed, strings.Join(r.DecidedBy, ","))
	}
	w.Flush()

	mean, variance, count := h.txs.Latency()
	if count == 0 {
		return
	}
	if math.IsNaN(variance) {
		fmt.Fprintf(out, "latency: %.2f ms over %d transactions\n", mean, count)
		return
	}
	fmt.Fprintf(out, "latency: %.2f ms (stddev %.2f ms) over %d transactions\n", mean, math.Sqrt(variance), count)
}
