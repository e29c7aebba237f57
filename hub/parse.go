package hub

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

// ErrInvalidInput is wrapped by every error caused by a malformed command.
var ErrInvalidInput = errors.New("invalid input")

// ShardRange is a shard alias and the range of ports its processes listen on.
type ShardRange struct {
	Alias string
	Start int
	End   int
}

func (r ShardRange) String() string {
	return fmt.Sprintf("%s %d-%d", r.Alias, r.Start, r.End)
}

func (r ShardRange) overlaps(other ShardRange) bool {
	return r.Start <= other.End && other.Start <= r.End
}

// ParseShards parses shard ranges of the form "-s <alias> <port>-<port> ...".
// Ranges must be well formed and must not overlap.
func ParseShards(args []string) ([]ShardRange, error) {
	var shards []ShardRange
	for i := 0; i < len(args); i++ {
		if args[i] != "-s" && args[i] != "--s" {
			return nil, fmt.Errorf("%w: expected -s, got %q", ErrInvalidInput, args[i])
		}
		if i+2 >= len(args) {
			return nil, fmt.Errorf("%w: -s needs an alias and a port range", ErrInvalidInput)
		}
		r, err := parseRange(args[i+1], args[i+2])
		if err != nil {
			return nil, err
		}
		shards = append(shards, r)
		i += 2
	}
	if len(shards) == 0 {
		return nil, fmt.Errorf("%w: no shards given", ErrInvalidInput)
	}

	for i, a := range shards {
		for _, b := range shards[i+1:] {
			if a.Alias == b.Alias {
				return nil, fmt.Errorf("%w: shard %q given twice", ErrInvalidInput, a.Alias)
			}
			if a.overlaps(b) {
				return nil, fmt.Errorf("%w: shard %q overlaps with shard %q", ErrInvalidInput, a.Alias, b.Alias)
			}
		}
	}
	return shards, nil
}

func parseRange(alias, ports string) (ShardRange, error) {
	first, last, ok := strings.Cut(ports, "-")
	if !ok {
		return ShardRange{}, fmt.Errorf("%w: port range %q is not of the form <port>-<port>", ErrInvalidInput, ports)
	}
	start, err := strconv.Atoi(first)
	if err != nil {
		return ShardRange{}, fmt.Errorf("%w: bad start port: %v", ErrInvalidInput, err)
	}
	end, err := strconv.Atoi(last)
	if err != nil {
		return ShardRange{}, fmt.Errorf("%w: bad end port: %v", ErrInvalidInput, err)
	}
	if start <= 0 || end > 65535 || start > end {
		return ShardRange{}, fmt.Errorf("%w: shard %q: ports must be positive and start must not exceed end", ErrInvalidInput, alias)
	}
	return ShardRange{Alias: alias, Start: start, End: end}, nil
}

// TransferArgs are the arguments of the transfer and deposit commands.
type TransferArgs struct {
	From   string
	To     string
	Amount float64
	Shard  string
}

// ParseTransfer parses "-from <account> -to <account> -a <amount> -s <alias>".
// Deposits have no source account.
func ParseTransfer(args []string, deposit bool) (TransferArgs, error) {
	var ta TransferArgs
	fs := newFlagSet("transfer")
	if !deposit {
		fs.StringVar(&ta.From, "from", "", "source account")
	}
	fs.StringVar(&ta.To, "to", "", "destination account")
	fs.Float64Var(&ta.Amount, "a", 0, "amount")
	fs.StringVar(&ta.Shard, "s", "", "shard alias")
	if err := fs.Parse(longFlags(args)); err != nil {
		return ta, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if fs.NArg() > 0 {
		return ta, fmt.Errorf("%w: unexpected arguments %q", ErrInvalidInput, fs.Args())
	}

	switch {
	case !deposit && ta.From == "":
		return ta, fmt.Errorf("%w: missing -from", ErrInvalidInput)
	case ta.To == "":
		return ta, fmt.Errorf("%w: missing -to", ErrInvalidInput)
	case ta.Shard == "":
		return ta, fmt.Errorf("%w: missing -s", ErrInvalidInput)
	case ta.Amount <= 0:
		return ta, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	return ta, nil
}

// BenchArgs are the arguments of the bench command.
type BenchArgs struct {
	Count int
	Rate  float64
	Shard string
}

// ParseBench parses "-n <count> -r <rate> -s <alias>".
func ParseBench(args []string) (BenchArgs, error) {
	ba := BenchArgs{Count: 10, Rate: 5}
	fs := newFlagSet("bench")
	fs.IntVar(&ba.Count, "n", ba.Count, "number of transactions")
	fs.Float64Var(&ba.Rate, "r", ba.Rate, "transactions per second")
	fs.StringVar(&ba.Shard, "s", "", "shard alias")
	if err := fs.Parse(longFlags(args)); err != nil {
		return ba, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	switch {
	case ba.Shard == "":
		return ba, fmt.Errorf("%w: missing -s", ErrInvalidInput)
	case ba.Count <= 0 || ba.Rate <= 0:
		return ba, fmt.Errorf("%w: -n and -r must be positive", ErrInvalidInput)
	}
	return ba, nil
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// longFlags rewrites single-dash flags such as -from to --from, so that commands can be
// typed either way.
func longFlags(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if strings.HasPrefix(a, "-") && !strings.HasPrefix(a, "--") && len(a) > 1 && !isNumber(a) {
			a = "-" + a
		}
		out[i] = a
	}
	return out
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
