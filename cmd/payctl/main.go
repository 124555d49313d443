// payctl is a command line client for a PayStream network: account
// balance and transfers, plus create/append/read/delete on replicated
// sequences.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"PayStream/client"
	"PayStream/internal/logger"
	"PayStream/internal/sequence"
)

const commandTimeout = 60 * time.Second

func main() {
	cfg := parseFlags()

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger.Init(level)

	if len(cfg.Args) == 0 {
		usage()
		os.Exit(2)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "payctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: payctl [flags] <command> [args]

commands:
  balance                         local ledger balance
  network-balance [hexkey]        network-held balance
  send <hexkey> <amount>          transfer tokens
  create <private|public> <tag>   create a sequence, prints its address
  append <addr> <entry>           append an entry
  last <addr>                     newest entry
  entries <addr>                  all entries
  owner <addr>                    current owner key
  delete <addr>                   delete a private sequence

addresses are <hexname>:<tag>`)
}

func run(cfg *Config) error {
	key, err := loadOrGenerateKey(cfg.KeyPath)
	if err != nil {
		return err
	}

	validators, err := loadValidators(cfg.ValidatorsPath)
	if err != nil {
		return err
	}

	c, err := client.New(client.Config{
		PrivateKey: key,
		Validators: validators,
		CachePath:  cfg.CachePath,
		PaymentKey: cfg.PaymentKey,
		WritePrice: cfg.WritePrice,
	})
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	return dispatch(ctx, c, cfg.Args)
}

func dispatch(ctx context.Context, c *client.Client, args []string) error {
	switch args[0] {
	case "balance":
		fmt.Println(c.LocalBalance())
		return nil

	case "network-balance":
		key := c.PublicKey()
		if len(args) > 1 {
			var err error
			if key, err = parseHexKey(args[1]); err != nil {
				return err
			}
		}
		balance, err := c.NetworkBalance(ctx, key)
		if err != nil {
			return err
		}
		fmt.Println(balance)
		return nil

	case "send":
		if len(args) != 3 {
			return fmt.Errorf("usage: send <hexkey> <amount>")
		}
		recipient, err := parseHexKey(args[1])
		if err != nil {
			return err
		}
		amount, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("bad amount %q", args[2])
		}
		return c.Send(ctx, recipient, amount)

	case "create":
		if len(args) != 3 {
			return fmt.Errorf("usage: create <private|public> <tag>")
		}
		tag, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("bad tag %q", args[2])
		}

		var seq *sequence.Sequence
		switch args[1] {
		case "private":
			seq, err = c.CreatePrivateSequence(ctx, client.RandomName(), tag, nil, nil)
		case "public":
			seq, err = c.CreatePublicSequence(ctx, client.RandomName(), tag, nil, nil)
		default:
			return fmt.Errorf("bad flavor %q", args[1])
		}
		if err != nil {
			return err
		}

		addr := seq.Address()
		fmt.Printf("%s:%d\n", hex.EncodeToString(addr.Name[:]), addr.Tag)
		return nil

	case "append":
		if len(args) != 3 {
			return fmt.Errorf("usage: append <addr> <entry>")
		}
		addr, err := parseAddress(args[1])
		if err != nil {
			return err
		}
		return c.Append(ctx, addr, []byte(args[2]))

	case "last":
		if len(args) != 2 {
			return fmt.Errorf("usage: last <addr>")
		}
		addr, err := parseAddress(args[1])
		if err != nil {
			return err
		}
		index, entry, err := c.LastEntry(ctx, addr)
		if err != nil {
			return err
		}
		fmt.Printf("%d %s\n", index, entry)
		return nil

	case "entries":
		if len(args) != 2 {
			return fmt.Errorf("usage: entries <addr>")
		}
		addr, err := parseAddress(args[1])
		if err != nil {
			return err
		}
		entries, err := c.Range(ctx, addr, sequence.FromStart(0), sequence.FromEnd(0))
		if err != nil {
			return err
		}
		for i, entry := range entries {
			fmt.Printf("%d %s\n", i, entry)
		}
		return nil

	case "owner":
		if len(args) != 2 {
			return fmt.Errorf("usage: owner <addr>")
		}
		addr, err := parseAddress(args[1])
		if err != nil {
			return err
		}
		owner, err := c.Owner(ctx, addr)
		if err != nil {
			return err
		}
		fmt.Println(hex.EncodeToString(owner[:]))
		return nil

	case "delete":
		if len(args) != 2 {
			return fmt.Errorf("usage: delete <addr>")
		}
		addr, err := parseAddress(args[1])
		if err != nil {
			return err
		}
		return c.Delete(ctx, addr)

	default:
		usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// parseAddress parses a <hexname>:<tag> sequence address.
func parseAddress(s string) (sequence.Address, error) {
	name, tagStr, ok := strings.Cut(s, ":")
	if !ok {
		return sequence.Address{}, fmt.Errorf("bad address %q, want <hexname>:<tag>", s)
	}

	key, err := parseHexKey(name)
	if err != nil {
		return sequence.Address{}, fmt.Errorf("bad address name:\n%w", err)
	}

	tag, err := strconv.ParseUint(tagStr, 10, 64)
	if err != nil {
		return sequence.Address{}, fmt.Errorf("bad address tag %q", tagStr)
	}

	return sequence.Address{Name: key, Tag: tag}, nil
}
