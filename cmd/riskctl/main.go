package main

import (
	"fmt"
	"io"
	"os"
	"sort"
)

const defaultPassEnv = "RISKLEDGER_KEYSTORE_PASS"

type command struct {
	summary string
	run     func(args []string, out io.Writer) error
}

var commands = map[string]command{
	"keygen":           {"generate a secp256k1 key into an encrypted keystore", runKeygen},
	"address":          {"print the bech32 address of a keystore", runAddress},
	"sign-attestation": {"sign a risk score attestation with the attester key", runSignAttestation},
	"genesis-init":     {"write a genesis file with the supplied principals", runGenesisInit},
	"token":            {"issue an API bearer token for a principal", runToken},
	"audit-verify":     {"verify the audit hash chain", runAuditVerify},
	"audit-export":     {"export audit records as csv or jsonl", runAuditExport},
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		usage(os.Stderr)
		os.Exit(1)
	}
	if err := cmd.run(os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: riskctl <command> [flags]")
	fmt.Fprintln(w)
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-18s %s\n", name, commands[name].summary)
	}
}
