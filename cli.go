package main

import (
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"vorel/store"
)

// version is stamped at build time in the teacher via -ldflags; no build
// pipeline exists here so it stays a constant.
const version = "0.1.0"

// RunCLI handles administrative subcommands so operators don't need a
// separate client to manage accounts and channels. Returns true if args
// were recognized as a subcommand (and handled), false if the caller should
// fall through to starting the server. Modeled on the teacher's cli.go
// dispatch (RunCLI(args []string, dbPath string) bool).
func RunCLI(args []string, dbPath string) bool {
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "version":
		fmt.Println("vorel", version)
		return true
	case "status":
		cliStatus(dbPath)
		return true
	case "users":
		cliUsers(args[1:], dbPath)
		return true
	case "channels":
		cliChannels(args[1:])
		return true
	case "backup":
		cliBackup(args[1:], dbPath)
		return true
	default:
		return false
	}
}

func openStoreOrExit(dbPath string) *store.Store {
	st, err := store.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	return st
}

func cliStatus(dbPath string) {
	st := openStoreOrExit(dbPath)
	defer st.Close()

	n, err := st.UserCount()
	if err != nil {
		fmt.Fprintf(os.Stderr, "count users: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("database: %s\n", dbPath)
	fmt.Printf("users: %d\n", n)
}

func cliUsers(args []string, dbPath string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: vorel users <list|register|promote> [args]")
		os.Exit(1)
	}

	st := openStoreOrExit(dbPath)
	defer st.Close()

	switch args[0] {
	case "list":
		names, err := st.GetAllUsers()
		if err != nil {
			fmt.Fprintf(os.Stderr, "list users: %v\n", err)
			os.Exit(1)
		}
		for _, n := range names {
			fmt.Println(n)
		}
	case "register":
		fs := flag.NewFlagSet("users register", flag.ExitOnError)
		fs.Parse(args[1:])
		if fs.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "usage: vorel users register <username> <password>")
			os.Exit(1)
		}
		username, password := fs.Arg(0), fs.Arg(1)
		sum := sha256.Sum256([]byte(password))
		hash := hex.EncodeToString(sum[:])
		if err := st.RegisterUser(username, hash, store.User); err != nil {
			fmt.Fprintf(os.Stderr, "register user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("registered %q\n", username)
	case "promote":
		fs := flag.NewFlagSet("users promote", flag.ExitOnError)
		fs.Parse(args[1:])
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "usage: vorel users promote <username>")
			os.Exit(1)
		}
		username := fs.Arg(0)
		if err := st.SetUserType(username, store.Administrator); err != nil {
			fmt.Fprintf(os.Stderr, "promote user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("promoted %q to administrator\n", username)
	default:
		fmt.Fprintln(os.Stderr, "usage: vorel users <list|register|promote> [args]")
		os.Exit(1)
	}
}

func cliChannels(args []string) {
	if len(args) == 0 || args[0] != "list" {
		fmt.Fprintln(os.Stderr, "usage: vorel channels list")
		os.Exit(1)
	}
	fmt.Println("General")
	fmt.Println("Gaming")
	fmt.Println("(additional channels are created lazily and only visible while the server is running; use the admin HTTP API to inspect a live server)")
}

func cliBackup(args []string, dbPath string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: vorel backup <destination-path>")
		os.Exit(1)
	}
	st := openStoreOrExit(dbPath)
	defer st.Close()

	if err := st.Backup(args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "backup: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("backed up to %s\n", args[0])
}
